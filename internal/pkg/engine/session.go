package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SlotCount is the number of outage event slots a session owns.
const SlotCount = 2

// Binding is the full configuration of an outage event slot.
type Binding struct {
	Target  Element    `json:"Target"`
	Time    float64    `json:"Time"`
	Kind    OutageKind `json:"Kind"`
	Enabled bool       `json:"Enabled"`
}

// Slot is an engine-resident outage event together with its last binding.
type Slot struct {
	Ref     Ref     `json:"Ref"`
	Binding Binding `json:"Binding"`
}

// Command is a handle to a study case command object.
type Command struct {
	kind   CommandKind
	ref    Ref
	client Client
}

// Kind returns which study case command this is.
func (c Command) Kind() CommandKind {
	return c.kind
}

// Ref returns the engine reference of the command object.
func (c Command) Ref() Ref {
	return c.ref
}

// Execute runs the command and returns the engine result code.
func (c Command) Execute(ctx context.Context) (int, error) {
	return c.client.Execute(ctx, c.ref)
}

// SetStopTime sets the end of the simulated interval. Only valid on the
// simulation command.
func (c Command) SetStopTime(ctx context.Context, t float64) error {
	if c.kind != Simulation {
		return fmt.Errorf("stop time is not an attribute of the %v command", c.kind)
	}
	return c.client.SetAttributes(ctx, c.ref, Attrs{AttrStopTime: t})
}

// OutputWindow is the engine's textual output buffer.
type OutputWindow struct {
	client Client
}

// Save exports the buffer to path.
func (w OutputWindow) Save(ctx context.Context, path string) error {
	return w.client.SaveOutput(ctx, path)
}

// Clear empties the buffer.
func (w OutputWindow) Clear(ctx context.Context) error {
	return w.client.ClearOutput(ctx)
}

// Session is a connected handle to the engine. A session has a single owner
// and must not be used from more than one goroutine.
type Session struct {
	pid      uuid.UUID
	client   Client
	names    Names
	commands map[CommandKind]Command
	events   Ref
	slots    [SlotCount]Slot
}

// Connect attaches to the engine application and acquires every command and
// the two outage event slots. It does not modify simulation state.
func Connect(ctx context.Context, client Client, names Names) (*Session, error) {
	names = names.WithDefaults()

	if err := client.Application(ctx); err != nil {
		return nil, unavailable(err)
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	s := &Session{
		pid:      pid,
		client:   client,
		names:    names,
		commands: make(map[CommandKind]Command),
	}

	for _, kind := range commandKinds {
		class := names.command(kind)
		ref, err := client.StudyCaseObject(ctx, class)
		if err != nil {
			return nil, lookupError(class, err)
		}
		s.commands[kind] = Command{kind: kind, ref: ref, client: client}
	}

	events, err := client.StudyCaseObject(ctx, names.Events)
	if err != nil {
		return nil, lookupError(names.Events, err)
	}
	contents, err := client.Contents(ctx, events)
	if err != nil {
		return nil, lookupError(names.Events, err)
	}

	n := 0
	for _, obj := range contents {
		if obj.Class != names.OutageEvent {
			continue
		}
		s.slots[n] = Slot{Ref: obj.Ref}
		n++
		if n == SlotCount {
			break
		}
	}
	if n < SlotCount {
		return nil, fmt.Errorf("%w: %s holds %d %s events, need %d",
			ErrCommandNotFound, names.Events, n, names.OutageEvent, SlotCount)
	}
	s.events = events

	return s, nil
}

func unavailable(err error) error {
	if errors.Is(err, ErrEngineUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}

func lookupError(class string, err error) error {
	if errors.Is(err, ErrObjectNotFound) {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, class)
	}
	return fmt.Errorf("acquire %s: %w", class, err)
}

// PID identifies the session in logs.
func (s *Session) PID() uuid.UUID {
	return s.pid
}

// Names returns the class names the session was acquired with.
func (s *Session) Names() Names {
	return s.names
}

// LiveElements returns the in-service elements of class, e.g. "ElmLne".
func (s *Session) LiveElements(ctx context.Context, class string) ([]Element, error) {
	return s.client.CalcRelevantObjects(ctx, "*."+class)
}

// Command returns the handle for kind.
func (s *Session) Command(kind CommandKind) (Command, error) {
	cmd, ok := s.commands[kind]
	if !ok {
		return Command{}, fmt.Errorf("%w: %v", ErrCommandNotFound, kind)
	}
	return cmd, nil
}

// Events returns the reference of the events container.
func (s *Session) Events() Ref {
	return s.events
}

// OutputWindow returns the engine output buffer.
func (s *Session) OutputWindow() OutputWindow {
	return OutputWindow{client: s.client}
}

// Slot returns the current state of outage slot i.
func (s *Session) Slot(i int) (Slot, error) {
	if i < 0 || i >= SlotCount {
		return Slot{}, fmt.Errorf("slot %d out of range", i)
	}
	return s.slots[i], nil
}

// Rebind overwrites every field of outage slot i. A binding with an empty
// target clears the engine-side target reference.
func (s *Session) Rebind(ctx context.Context, i int, b Binding) error {
	if i < 0 || i >= SlotCount {
		return fmt.Errorf("slot %d out of range", i)
	}

	outserv := 1
	if b.Enabled {
		outserv = 0
	}
	attrs := Attrs{
		AttrTarget:       string(b.Target.Ref),
		AttrTime:         b.Time,
		AttrKind:         int(b.Kind),
		AttrOutOfService: outserv,
	}
	if err := s.client.SetAttributes(ctx, s.slots[i].Ref, attrs); err != nil {
		return fmt.Errorf("rebind slot %d: %w", i, err)
	}
	s.slots[i].Binding = b
	return nil
}

// Close releases the underlying client.
func (s *Session) Close() error {
	return s.client.Close()
}
