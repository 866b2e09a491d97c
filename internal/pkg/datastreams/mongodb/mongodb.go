// Package mongodb upserts run summaries and case records into MongoDB.
package mongodb

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_contingency/internal/pkg/msg"
	"github.com/ohowland/cgc_contingency/internal/pkg/runner"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	runCollection  = "contingencyRuns"
	caseCollection = "contingencyCases"
)

type Handler struct {
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config Config
	system msg.Publisher
	stop   chan bool
	done   chan struct{}
}

type Config struct {
	URI      string `json:"URI"`
	Database string `json:"Database"`
	Port     string `json:"Port"`
}

func (c Config) uri() string {
	if c.Port == "" {
		return c.URI
	}
	return c.URI + ":" + c.Port
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

// ReadConfig reads a JSON Config from configPath.
func ReadConfig(configPath string) (Config, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// New subscribes a Handler to the case and summary topics of system.
func New(cfg Config, system msg.Publisher) (*Handler, error) {
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

func (h Handler) PID() uuid.UUID {
	return h.pid
}

// Stop ends Process and releases the subscriptions.
func (h *Handler) Stop() {
	h.stop <- true
	close(h.done)
	h.system.Unsubscribe(h.pid)
}

//TODO: PIDs should be written as binary subtype 0x04 (UUID standard),
// currently written as strings.
func caseToBSON(r runner.CaseRecord) (bson.M, bson.D) {
	filter := bson.M{"runPID": r.RunPID.String(), "index": r.Index}
	update := bson.D{
		{Key: "$set", Value: bson.M{
			"runPID":    r.RunPID.String(),
			"index":     r.Index,
			"label":     r.Label,
			"elementA":  r.ElementA,
			"elementB":  r.ElementB,
			"state":     string(r.State),
			"elapsedMs": r.Elapsed.Milliseconds(),
			"missing":   r.Missing,
			"warning":   r.Warning,
			"error":     r.Error,
			"artifact":  r.Artifact,
			"finished":  r.Finished,
		}},
	}
	return filter, update
}

func summaryToBSON(s runner.Summary) (bson.M, bson.D) {
	filter := bson.M{"pid": s.PID.String()}
	update := bson.D{
		{Key: "$set", Value: bson.M{
			"pid":          s.PID.String(),
			"status":       string(s.Status),
			"windowStart":  s.Window.Start,
			"windowEnd":    s.Window.End,
			"casesRun":     s.CasesRun,
			"casesFailed":  s.CasesFailed,
			"casesFlagged": s.CasesFlagged,
			"started":      s.Started,
			"finished":     s.Finished,
			"error":        s.Error,
		}},
	}
	return filter, update
}

// document maps a bus message to its collection, filter and update.
func document(m msg.Msg) (string, bson.M, bson.D, bool) {
	switch p := m.Payload().(type) {
	case runner.CaseRecord:
		filter, update := caseToBSON(p)
		return caseCollection, filter, update, true
	case runner.Summary:
		filter, update := summaryToBSON(p)
		return runCollection, filter, update, true
	}
	return "", nil, nil, false
}

// Process upserts every received record until Stop is called.
func (h Handler) Process() {
	log.Println("[Mongo] Process Started")
	client, err := mongo.NewClient(options.Client().ApplyURI(h.config.uri()))
	if err != nil {
		log.Printf("[Mongo] %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	err = client.Connect(ctx)
	cancel()
	if err != nil {
		log.Printf("[Mongo] connect failed: %v\n", err)
		return
	}
	defer client.Disconnect(context.Background())

	db := client.Database(h.config.Database)
	opts := options.Update().SetUpsert(true)
loop:
	for {
		select {
		case m := <-h.inbox:
			collection, filter, update, ok := document(m)
			if !ok {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := db.Collection(collection).UpdateOne(ctx, filter, update, opts); err != nil {
				log.Printf("[Mongo] %v upsert failed: %v\n", m.Topic(), err)
			}
			cancel()

		case <-h.stop:
			break loop
		}
	}
	log.Println("[Mongo] Process Shutdown")
}
