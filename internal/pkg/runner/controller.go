// Package runner drives the engine through a window of N-2 contingency
// cases, one case at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_contingency/internal/pkg/caseset"
	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
	"github.com/ohowland/cgc_contingency/internal/pkg/msg"
	"github.com/ohowland/cgc_contingency/internal/pkg/outage"
	"github.com/ohowland/cgc_contingency/internal/pkg/pipeline"
	"github.com/ohowland/cgc_contingency/internal/pkg/retention"
)

// ErrRunAlreadyInProgress rejects a run started while another is active.
var ErrRunAlreadyInProgress = errors.New("run already in progress")

// Cases is an indexed set of contingency cases.
type Cases interface {
	Len() int
	Get(index int) (caseset.Case, error)
}

// Config holds the per-run simulation parameters.
type Config struct {
	StopTime  float64 `json:"StopTime"`
	EventTime float64 `json:"EventTime"`
	LineClass string  `json:"LineClass"`
}

// Controller runs contingency cases sequentially against one session.
type Controller struct {
	mux       *sync.Mutex
	pid       uuid.UUID
	config    Config
	pipeline  *pipeline.Pipeline
	retention *retention.Manager
	publisher *msg.PubSub
	state     RunState
}

// NewController builds a Controller. publisher may be nil.
func NewController(cfg Config, rm *retention.Manager, publisher *msg.PubSub) *Controller {
	if cfg.StopTime == 0 {
		cfg.StopTime = pipeline.DefaultStopTime
	}
	if cfg.EventTime == 0 {
		cfg.EventTime = outage.DefaultEventTime
	}
	pid, _ := uuid.NewUUID()
	return &Controller{
		mux:       &sync.Mutex{},
		pid:       pid,
		config:    cfg,
		pipeline:  pipeline.New(),
		retention: rm,
		publisher: publisher,
		state:     Idle,
	}
}

// PID is an accessor for the process id.
func (c *Controller) PID() uuid.UUID {
	return c.pid
}

// State returns the lifecycle state of the most recent run.
func (c *Controller) State() RunState {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.state
}

func (c *Controller) begin() (RunState, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()
	prev := c.state
	if prev == Running {
		return prev, false
	}
	c.state = Running
	return prev, true
}

func (c *Controller) finish(state RunState) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.state = state
}

// Execute processes every case of w in index order. A failing case is
// recorded and the loop continues; only an unreachable engine, a missing
// command or an artifact that cannot be saved abort the run. ctx is checked
// between cases only, a started case always runs to its end.
func (c *Controller) Execute(ctx context.Context, cases Cases, s *engine.Session, w Window) (Summary, error) {
	prev, ok := c.begin()
	if !ok {
		return Summary{Status: Running}, ErrRunAlreadyInProgress
	}
	if err := w.Validate(cases.Len()); err != nil {
		c.finish(prev)
		return Summary{Status: prev, Window: w}, err
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		c.finish(prev)
		return Summary{}, err
	}
	summary := Summary{
		PID:     pid,
		Status:  Running,
		Window:  w,
		Cases:   make([]CaseRecord, 0, w.Len()),
		Started: time.Now(),
	}
	log.Printf("[Runner] run %v started, cases [%d, %d), session %v\n", pid, w.Start, w.End, s.PID())

	if err := c.retention.Reset(); err != nil {
		log.Printf("[Runner] run %v: previous artifact kept: %v\n", pid, err)
	}
	caseCtx := context.WithoutCancel(ctx)

	var runErr error
	for i := w.Start; i < w.End; i++ {
		if ctx.Err() != nil {
			summary.Status = Cancelled
			log.Printf("[Runner] run %v cancelled before case %d\n", pid, i)
			break
		}

		rec, err := c.runCase(caseCtx, cases, s, pid, w.Start, i)
		summary.add(rec)
		c.publish(msg.Case, rec)

		if err != nil {
			log.Printf("[Runner] case %d %s: %v\n", i, rec.State, err)
		} else {
			log.Printf("[Runner] case %d %s in %v\n", i, rec.State, rec.Elapsed)
		}

		if err != nil && fatal(err) {
			summary.Status = Aborted
			summary.Error = err.Error()
			runErr = fmt.Errorf("run %v aborted at case %d: %w", pid, i, err)
			break
		}
	}

	if summary.Status == Running {
		summary.Status = Completed
	}
	summary.Finished = time.Now()
	c.finish(summary.Status)
	c.publish(msg.Summary, summary)

	log.Printf("[Runner] run %v %s: %d run, %d failed, %d flagged\n",
		pid, summary.Status, summary.CasesRun, summary.CasesFailed, summary.CasesFlagged)
	return summary, runErr
}

func (c *Controller) runCase(ctx context.Context, cases Cases, s *engine.Session, runPID uuid.UUID, runStart, index int) (CaseRecord, error) {
	rec := CaseRecord{RunPID: runPID, Index: index, State: Pending}
	fail := func(err error) (CaseRecord, error) {
		rec.State = Failed
		rec.Error = err.Error()
		rec.Finished = time.Now()
		return rec, err
	}

	cs, err := cases.Get(index)
	if err != nil {
		return fail(err)
	}
	rec.Label = cs.Label
	rec.ElementA = cs.ElementA
	rec.ElementB = cs.ElementB

	if err := s.OutputWindow().Clear(ctx); err != nil {
		return fail(fmt.Errorf("clear output window: %w", err))
	}

	err = outage.Bind(ctx, s, cs, outage.Options{
		LineClass: c.config.LineClass,
		EventTime: c.config.EventTime,
	})
	var notFound *outage.ElementNotFoundError
	switch {
	case errors.As(err, &notFound):
		rec.Missing = notFound.Missing
		log.Printf("[Runner] case %d: outage skipped for %v\n", index, notFound.Missing)
	case err != nil:
		return fail(err)
	}
	rec.State = Bound

	rec.Elapsed, err = c.pipeline.Run(ctx, s, c.config.StopTime)
	if err != nil {
		return fail(err)
	}
	rec.State = Simulated

	err = c.retention.PersistAndPrune(ctx, s, runStart, index)
	if err != nil && !errors.Is(err, retention.ErrPruneFailed) {
		return fail(err)
	}
	if err != nil {
		rec.Warning = err.Error()
	}
	rec.State = Persisted
	rec.Artifact = c.retention.Retained()
	rec.Finished = time.Now()
	return rec, nil
}

func (c *Controller) publish(topic msg.Topic, payload interface{}) {
	if c.publisher != nil {
		c.publisher.Publish(topic, payload)
	}
}

// fatal reports whether err ends the whole run rather than one case.
func fatal(err error) bool {
	return errors.Is(err, engine.ErrEngineUnavailable) ||
		errors.Is(err, engine.ErrCommandNotFound) ||
		errors.Is(err, retention.ErrSaveFailed)
}
