package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"unicode/utf8"

	"github.com/ohowland/cgc_contingency/internal/pkg/caseset"
	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
)

// Dialer opens a client to the engine.
type Dialer func(ctx context.Context) (engine.Client, error)

// ServiceConfig locates the case file and selects the window to run.
type ServiceConfig struct {
	CasesPath string       `json:"CasesPath"`
	Delimiter string       `json:"Delimiter"`
	Window    Window       `json:"Window"`
	Names     engine.Names `json:"Names"`
}

// Service is the single entry point that starts a contingency batch: it
// loads the cases, connects an engine session and hands both to the
// Controller.
type Service struct {
	mux        *sync.Mutex
	config     ServiceConfig
	dial       Dialer
	controller *Controller
	running    bool
	last       *Summary
}

// NewService builds a Service.
func NewService(cfg ServiceConfig, dial Dialer, controller *Controller) *Service {
	return &Service{
		mux:        &sync.Mutex{},
		config:     cfg,
		dial:       dial,
		controller: controller,
	}
}

// Run executes the configured window. Partial failures are reported in the
// summary; an error is returned only when the run could not start or was
// aborted.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	if !s.reserve() {
		return Summary{Status: Running}, ErrRunAlreadyInProgress
	}
	defer s.release()

	opts := make([]caseset.Option, 0, 1)
	if s.config.Delimiter != "" {
		r, _ := utf8.DecodeRuneInString(s.config.Delimiter)
		opts = append(opts, caseset.WithDelimiter(r))
	}
	src, err := caseset.Load(s.config.CasesPath, opts...)
	if err != nil {
		return Summary{}, fmt.Errorf("load cases: %w", err)
	}

	w := s.config.Window.Resolve(src.Len())
	if err := w.Validate(src.Len()); err != nil {
		return Summary{Window: w}, err
	}

	client, err := s.dial(ctx)
	if err != nil {
		if !errors.Is(err, engine.ErrEngineUnavailable) {
			err = fmt.Errorf("%w: %v", engine.ErrEngineUnavailable, err)
		}
		return Summary{Window: w}, err
	}
	defer client.Close()

	session, err := engine.Connect(ctx, client, s.config.Names)
	if err != nil {
		return Summary{Window: w}, err
	}
	log.Printf("[Service] session %v connected, %d cases from %s\n", session.PID(), src.Len(), src.Path())

	summary, err := s.controller.Execute(ctx, src, session, w)
	if !errors.Is(err, ErrRunAlreadyInProgress) {
		s.mux.Lock()
		s.last = &summary
		s.mux.Unlock()
	}
	return summary, err
}

// Last returns the summary of the most recent run.
func (s *Service) Last() (Summary, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}

// Running reports whether a run is in progress.
func (s *Service) Running() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.running
}

func (s *Service) reserve() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Service) release() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.running = false
}
