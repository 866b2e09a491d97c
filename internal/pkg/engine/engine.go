// Package engine holds the session with the external power-system simulation
// engine. The engine itself is reached through Client; this package only
// acquires the long-lived command objects and the two reusable outage event
// slots the contingency runner drives.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrEngineUnavailable means the engine application could not be reached.
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrCommandNotFound means the active study case lacks a required command
	// or a usable events container.
	ErrCommandNotFound = errors.New("command not found")
	// ErrElementNotFound means no live element matched an identifier.
	ErrElementNotFound = errors.New("element not found")
	// ErrObjectNotFound is returned by a Client when a study case object
	// does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// Attribute names written on engine objects.
const (
	AttrTarget       = "p_target"
	AttrTime         = "time"
	AttrKind         = "i_what"
	AttrOutOfService = "outserv"
	AttrStopTime     = "tstop"
)

// Ref is an opaque engine object reference.
type Ref string

// Element is an object of the engine's live inventory.
type Element struct {
	Ref   Ref    `json:"Ref"`
	Name  string `json:"Name"`
	Class string `json:"Class"`
}

// Attrs is a set of attribute writes applied to one object.
type Attrs map[string]interface{}

// Client is the engine API surface consumed by the runner.
type Client interface {
	// Application attaches to the running engine application.
	Application(ctx context.Context) error
	// CalcRelevantObjects lists the in-service objects matching filter,
	// e.g. "*.ElmLne".
	CalcRelevantObjects(ctx context.Context, filter string) ([]Element, error)
	// StudyCaseObject returns the object of class held by the active study
	// case, or ErrObjectNotFound.
	StudyCaseObject(ctx context.Context, class string) (Ref, error)
	// Contents lists the objects stored in a folder object.
	Contents(ctx context.Context, folder Ref) ([]Element, error)
	SetAttributes(ctx context.Context, obj Ref, attrs Attrs) error
	// Execute runs a command object and returns the engine's result code;
	// zero is success.
	Execute(ctx context.Context, cmd Ref) (int, error)
	SaveOutput(ctx context.Context, path string) error
	ClearOutput(ctx context.Context) error
	Close() error
}

// Names are the engine class names of the objects a session acquires.
type Names struct {
	LoadFlow          string `json:"LoadFlow"`
	InitialConditions string `json:"InitialConditions"`
	Simulation        string `json:"Simulation"`
	ResultsExport     string `json:"ResultsExport"`
	Events            string `json:"Events"`
	OutageEvent       string `json:"OutageEvent"`
	Line              string `json:"Line"`
}

// DefaultNames returns the class names used by a standard study case.
func DefaultNames() Names {
	return Names{
		LoadFlow:          "ComLdf",
		InitialConditions: "ComInc",
		Simulation:        "ComSim",
		ResultsExport:     "ComRes",
		Events:            "IntEvt",
		OutageEvent:       "EvtOutage",
		Line:              "ElmLne",
	}
}

// WithDefaults fills empty names from DefaultNames.
func (n Names) WithDefaults() Names {
	d := DefaultNames()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&n.LoadFlow, d.LoadFlow)
	fill(&n.InitialConditions, d.InitialConditions)
	fill(&n.Simulation, d.Simulation)
	fill(&n.ResultsExport, d.ResultsExport)
	fill(&n.Events, d.Events)
	fill(&n.OutageEvent, d.OutageEvent)
	fill(&n.Line, d.Line)
	return n
}

func (n Names) command(kind CommandKind) string {
	switch kind {
	case LoadFlow:
		return n.LoadFlow
	case InitialConditions:
		return n.InitialConditions
	case Simulation:
		return n.Simulation
	case ResultsExport:
		return n.ResultsExport
	}
	return ""
}

// CommandKind identifies one of the study case commands.
type CommandKind int

const (
	LoadFlow CommandKind = iota
	InitialConditions
	Simulation
	ResultsExport
)

var commandKinds = []CommandKind{LoadFlow, InitialConditions, Simulation, ResultsExport}

func (k CommandKind) String() string {
	switch k {
	case LoadFlow:
		return "load-flow"
	case InitialConditions:
		return "initial-conditions"
	case Simulation:
		return "simulation"
	case ResultsExport:
		return "results-export"
	}
	return "unknown"
}

// OutageKind is the action an outage event applies to its target.
type OutageKind int

const (
	// RemoveFromService takes the target element out of service.
	RemoveFromService OutageKind = 0
	// ReturnToService puts the target element back in service.
	ReturnToService OutageKind = 1
)
