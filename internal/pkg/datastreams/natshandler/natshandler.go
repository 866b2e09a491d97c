// Package natshandler republishes run summaries and case records as JSON
// on a NATS server.
package natshandler

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_contingency/internal/pkg/msg"
	"github.com/ohowland/cgc_contingency/internal/pkg/runner"

	nats "github.com/nats-io/nats.go"
)

type Handler struct {
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config Config
	system msg.Publisher
	stop   chan bool
	done   chan struct{}
}

// Config locates the server. Records go to <Subject>.case.<run pid> and
// summaries to <Subject>.summary.
type Config struct {
	Server  string `json:"Server"`
	Subject string `json:"Subject"`
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

// redirectMsg forwards chIn to chOut until chIn closes or done is closed.
func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg, done <-chan struct{}) {
	for m := range chIn {
		select {
		case chOut <- m:
		case <-done:
			return
		}
	}
}

// New subscribes a Handler to the case and summary topics of system.
func New(cfg Config, system msg.Publisher) (*Handler, error) {
	if cfg.Server == "" {
		cfg.Server = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "contingency"
	}

	pid, _ := uuid.NewUUID()
	inbox := make(chan msg.Msg, 50)
	done := make(chan struct{})

	for _, topic := range []msg.Topic{msg.Case, msg.Summary} {
		ch, err := system.Subscribe(pid, topic)
		if err != nil {
			return nil, err
		}
		go redirectMsg(ch, inbox, done)
	}

	return &Handler{
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		system: system,
		stop:   make(chan bool, 1),
		done:   done,
	}, nil
}

// Stop ends Process and releases the subscriptions.
func (h *Handler) Stop() {
	h.stop <- true
	close(h.done)
	h.system.Unsubscribe(h.pid)
}

// encode returns the subject and body a message is published with.
func (h Handler) encode(m msg.Msg) (string, []byte, error) {
	var subject string
	switch p := m.Payload().(type) {
	case runner.CaseRecord:
		subject = h.config.Subject + ".case." + p.RunPID.String()
	case runner.Summary:
		subject = h.config.Subject + ".summary"
	default:
		subject = h.config.Subject + "." + m.Topic().String()
	}
	data, err := json.Marshal(m.Payload())
	return subject, data, err
}

func (h Handler) Process() {
	log.Println("[NATS client] Process Started")
	nc, err := nats.Connect(h.config.Server)
	if err != nil {
		log.Printf("[NATS client] connect to %s failed: %v\n", h.config.Server, err)
		return
	}
	defer nc.Close()

loop:
	for {
		select {
		case m := <-h.inbox:
			subject, data, err := h.encode(m)
			if err != nil {
				log.Printf("[NATS client] encode %v: %v\n", m.Topic(), err)
				continue
			}
			if err = nc.Publish(subject, data); err != nil {
				log.Printf("[NATS client] unable to publish to nats server: %v\n", err)
			}

		case <-h.stop:
			if err := nc.Flush(); err != nil {
				log.Printf("[NATS client] flush: %v\n", err)
			}
			break loop
		}
	}
	log.Println("[NATS client] Process Shutdown")
}
