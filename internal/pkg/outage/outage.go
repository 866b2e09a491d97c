// Package outage arms the session's two outage event slots for one
// contingency case.
package outage

import (
	"context"
	"fmt"
	"strings"

	"github.com/ohowland/cgc_contingency/internal/pkg/caseset"
	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
)

// DefaultEventTime is the activation time of both outages, in simulated
// seconds after the start of the simulation.
const DefaultEventTime = 1.0

// Options controls how outages are armed.
type Options struct {
	LineClass string
	EventTime float64
}

// ElementNotFoundError lists the identifiers of a case with no live match.
// The slots of missing identifiers were rebound disabled.
type ElementNotFoundError struct {
	Case    int
	Missing []string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("case %d: %v: %s", e.Case, engine.ErrElementNotFound, strings.Join(e.Missing, ", "))
}

// Is reports engine.ErrElementNotFound.
func (e *ElementNotFoundError) Is(target error) bool {
	return target == engine.ErrElementNotFound
}

// Bind rebinds both outage slots of s to the elements named by c. Slot i
// targets identifier i of the case. An identifier that matches no live
// element leaves its slot disabled with no target, and Bind returns an
// *ElementNotFoundError once both slots are rebound.
func Bind(ctx context.Context, s *engine.Session, c caseset.Case, opts Options) error {
	if opts.LineClass == "" {
		opts.LineClass = s.Names().Line
	}
	if opts.EventTime == 0 {
		opts.EventTime = DefaultEventTime
	}

	live, err := s.LiveElements(ctx, opts.LineClass)
	if err != nil {
		return fmt.Errorf("case %d: list %s: %w", c.Index, opts.LineClass, err)
	}

	var missing []string
	for i, id := range c.Elements() {
		b := engine.Binding{
			Time: opts.EventTime,
			Kind: engine.RemoveFromService,
		}
		if elm, ok := find(live, id); ok {
			b.Target = elm
			b.Enabled = true
		} else {
			missing = append(missing, id)
		}
		if err := s.Rebind(ctx, i, b); err != nil {
			return fmt.Errorf("case %d: %w", c.Index, err)
		}
	}

	if len(missing) > 0 {
		return &ElementNotFoundError{Case: c.Index, Missing: missing}
	}
	return nil
}

func find(elements []engine.Element, name string) (engine.Element, bool) {
	for _, elm := range elements {
		if elm.Name == name {
			return elm, true
		}
	}
	return engine.Element{}, false
}
