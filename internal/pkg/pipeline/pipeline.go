// Package pipeline runs the fixed sequence of engine commands that realises
// one contingency case.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
)

var (
	ErrInitializationFailed   = errors.New("initial conditions did not converge")
	ErrSimulationDivergence   = errors.New("simulation aborted")
	ErrLoadFlowNonConvergence = errors.New("load flow did not converge")
)

// DefaultStopTime is the simulated end time of every case, in seconds.
const DefaultStopTime = 300.0

type stage struct {
	kind   engine.CommandKind
	failed error
}

var stages = []stage{
	{engine.InitialConditions, ErrInitializationFailed},
	{engine.Simulation, ErrSimulationDivergence},
	{engine.LoadFlow, ErrLoadFlowNonConvergence},
}

// Pipeline executes the stages of a case. The zero value is ready to use.
type Pipeline struct {
	now func() time.Time
}

// New returns a Pipeline timed by the wall clock.
func New() *Pipeline {
	return &Pipeline{now: time.Now}
}

// Run sets the simulation stop time, then executes initial conditions,
// simulation and load flow in that order. The first stage that fails ends
// the run. The elapsed wall-clock time is returned in every case.
func (p *Pipeline) Run(ctx context.Context, s *engine.Session, stopTime float64) (time.Duration, error) {
	now := p.now
	if now == nil {
		now = time.Now
	}
	start := now()
	elapsed := func() time.Duration { return now().Sub(start) }

	sim, err := s.Command(engine.Simulation)
	if err != nil {
		return elapsed(), err
	}
	if err := sim.SetStopTime(ctx, stopTime); err != nil {
		return elapsed(), fmt.Errorf("set stop time: %w", err)
	}

	for _, st := range stages {
		cmd, err := s.Command(st.kind)
		if err != nil {
			return elapsed(), err
		}
		code, err := cmd.Execute(ctx)
		if err != nil {
			return elapsed(), fmt.Errorf("%v: %w", st.kind, err)
		}
		if code != 0 {
			return elapsed(), fmt.Errorf("%w (%v returned %d)", st.failed, st.kind, code)
		}
	}
	return elapsed(), nil
}
