// Package natsengine reaches a simulation engine host over NATS
// request/reply. Every Client operation is one request on
// <Subject>.<operation> carrying a JSON body; the host answers with a JSON
// reply.
package natsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_contingency/internal/pkg/engine"

	nats "github.com/nats-io/nats.go"
)

const (
	opApplication     = "application"
	opRelevantObjects = "relevant"
	opStudyCaseObject = "studycase"
	opContents        = "contents"
	opSetAttributes   = "set"
	opExecute         = "execute"
	opSaveOutput      = "output.save"
	opClearOutput     = "output.clear"
)

// Config locates the engine host.
type Config struct {
	Server  string `json:"Server"`
	Subject string `json:"Subject"`
	// Timeout bounds every request except command executions, in seconds.
	Timeout float64 `json:"Timeout"`
	// ExecuteTimeout bounds a single command execution, in seconds.
	ExecuteTimeout float64 `json:"ExecuteTimeout"`
}

func (c Config) withDefaults() Config {
	if c.Server == "" {
		c.Server = nats.DefaultURL
	}
	if c.Subject == "" {
		c.Subject = "engine"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = 3600
	}
	return c
}

type request struct {
	Filter string       `json:"filter,omitempty"`
	Class  string       `json:"class,omitempty"`
	Ref    engine.Ref   `json:"ref,omitempty"`
	Attrs  engine.Attrs `json:"attrs,omitempty"`
	Path   string       `json:"path,omitempty"`
}

type reply struct {
	Error    string           `json:"error,omitempty"`
	NotFound bool             `json:"notFound,omitempty"`
	Code     int              `json:"code"`
	Ref      engine.Ref       `json:"ref,omitempty"`
	Elements []engine.Element `json:"elements,omitempty"`
}

// Client implements engine.Client against a NATS connected engine host.
type Client struct {
	mux    *sync.Mutex
	pid    uuid.UUID
	config Config
	conn   *nats.Conn
}

// Dial connects to the NATS server of cfg.
func Dial(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	pid, _ := uuid.NewUUID()

	nc, err := nats.Connect(cfg.Server,
		nats.Name("contingency-"+pid.String()),
		nats.Timeout(time.Duration(cfg.Timeout*float64(time.Second))),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", engine.ErrEngineUnavailable, cfg.Server, err)
	}
	log.Printf("[NATS engine] connected to %s, subject %s\n", nc.ConnectedUrl(), cfg.Subject)

	return &Client{
		mux:    &sync.Mutex{},
		pid:    pid,
		config: cfg,
		conn:   nc,
	}, nil
}

// PID is an accessor for the process id.
func (c *Client) PID() uuid.UUID {
	return c.pid
}

func (c *Client) subject(op string) string {
	return c.config.Subject + "." + op
}

func (c *Client) call(ctx context.Context, op string, req request, timeout float64) (reply, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return reply{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
	defer cancel()

	c.mux.Lock()
	conn := c.conn
	c.mux.Unlock()
	if conn == nil {
		return reply{}, fmt.Errorf("%w: connection closed", engine.ErrEngineUnavailable)
	}

	m, err := conn.RequestWithContext(ctx, c.subject(op), data)
	if err != nil {
		return reply{}, transportError(op, err)
	}
	return decode(op, m.Data)
}

// transportError marks failures to reach the host as engine unavailability.
func transportError(op string, err error) error {
	switch {
	case errors.Is(err, nats.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrNoServers):
		return fmt.Errorf("%w: %s: %v", engine.ErrEngineUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func decode(op string, data []byte) (reply, error) {
	r := reply{}
	if err := json.Unmarshal(data, &r); err != nil {
		return reply{}, fmt.Errorf("%s: decode reply: %w", op, err)
	}
	if r.NotFound {
		return r, fmt.Errorf("%w: %s", engine.ErrObjectNotFound, r.Error)
	}
	if r.Error != "" {
		return r, fmt.Errorf("%s: %s", op, r.Error)
	}
	return r, nil
}

// Application is part of the engine.Client interface.
func (c *Client) Application(ctx context.Context) error {
	_, err := c.call(ctx, opApplication, request{}, c.config.Timeout)
	return err
}

// CalcRelevantObjects is part of the engine.Client interface.
func (c *Client) CalcRelevantObjects(ctx context.Context, filter string) ([]engine.Element, error) {
	r, err := c.call(ctx, opRelevantObjects, request{Filter: filter}, c.config.Timeout)
	return r.Elements, err
}

// StudyCaseObject is part of the engine.Client interface.
func (c *Client) StudyCaseObject(ctx context.Context, class string) (engine.Ref, error) {
	r, err := c.call(ctx, opStudyCaseObject, request{Class: class}, c.config.Timeout)
	return r.Ref, err
}

// Contents is part of the engine.Client interface.
func (c *Client) Contents(ctx context.Context, folder engine.Ref) ([]engine.Element, error) {
	r, err := c.call(ctx, opContents, request{Ref: folder}, c.config.Timeout)
	return r.Elements, err
}

// SetAttributes is part of the engine.Client interface.
func (c *Client) SetAttributes(ctx context.Context, obj engine.Ref, attrs engine.Attrs) error {
	_, err := c.call(ctx, opSetAttributes, request{Ref: obj, Attrs: attrs}, c.config.Timeout)
	return err
}

// Execute is part of the engine.Client interface.
func (c *Client) Execute(ctx context.Context, cmd engine.Ref) (int, error) {
	r, err := c.call(ctx, opExecute, request{Ref: cmd}, c.config.ExecuteTimeout)
	return executeResult(cmd, r, err)
}

// executeResult keeps a nonzero return code even when the host also sent an
// error text, so the caller can map the code to its stage.
func executeResult(cmd engine.Ref, r reply, err error) (int, error) {
	if err != nil && r.Code != 0 && !r.NotFound {
		log.Printf("[NATS engine] %s returned %d: %v\n", cmd, r.Code, err)
		return r.Code, nil
	}
	return r.Code, err
}

// SaveOutput is part of the engine.Client interface. path is resolved on
// the engine host.
func (c *Client) SaveOutput(ctx context.Context, path string) error {
	_, err := c.call(ctx, opSaveOutput, request{Path: path}, c.config.Timeout)
	return err
}

// ClearOutput is part of the engine.Client interface.
func (c *Client) ClearOutput(ctx context.Context) error {
	_, err := c.call(ctx, opClearOutput, request{}, c.config.Timeout)
	return err
}

// Close drains and closes the connection.
func (c *Client) Close() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Drain()
	c.conn = nil
	log.Println("[NATS engine] connection closed")
	return err
}
