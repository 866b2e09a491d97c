package virtualengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
)

// Config describes the virtual network and study case.
type Config struct {
	Lines        []string     `json:"Lines"`
	OutageEvents int          `json:"OutageEvents"`
	Names        engine.Names `json:"Names"`
	// Omit lists study case classes that are left out, to model a
	// misconfigured study case.
	Omit []string `json:"Omit"`
}

// Write is one recorded SetAttributes call.
type Write struct {
	Ref   engine.Ref
	Attrs engine.Attrs
}

type object struct {
	ref   engine.Ref
	name  string
	class string
	attrs engine.Attrs
}

// VirtualEngine is an in-process stand-in for the simulation engine. It
// keeps the object inventory in memory, writes its output window to disk on
// request and can be told to fail specific command executions.
type VirtualEngine struct {
	mux        *sync.Mutex
	pid        uuid.UUID
	names      engine.Names
	objects    map[engine.Ref]*object
	lines      []engine.Ref
	studyCase  map[string]engine.Ref
	events     []engine.Ref
	output     []string
	executions map[string]int
	faults     map[string]map[int]int
	writes     []Write
	calls      int
	offline    bool
}

// New reads a JSON Config from configPath and builds a VirtualEngine.
func New(configPath string) (*VirtualEngine, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	return NewFromConfig(cfg), nil
}

// NewFromConfig builds a VirtualEngine from cfg.
func NewFromConfig(cfg Config) *VirtualEngine {
	pid, _ := uuid.NewUUID()
	names := cfg.Names.WithDefaults()
	if cfg.OutageEvents == 0 {
		cfg.OutageEvents = engine.SlotCount
	}

	v := &VirtualEngine{
		mux:        &sync.Mutex{},
		pid:        pid,
		names:      names,
		objects:    make(map[engine.Ref]*object),
		studyCase:  make(map[string]engine.Ref),
		executions: make(map[string]int),
		faults:     make(map[string]map[int]int),
	}

	omitted := make(map[string]bool)
	for _, class := range cfg.Omit {
		omitted[class] = true
	}

	for _, class := range []string{names.LoadFlow, names.InitialConditions, names.Simulation, names.ResultsExport, names.Events} {
		ref := v.add(class, class)
		if !omitted[class] {
			v.studyCase[class] = ref
		}
	}
	for i := 0; i < cfg.OutageEvents; i++ {
		ref := v.add(fmt.Sprintf("Outage %d", i+1), names.OutageEvent)
		v.events = append(v.events, ref)
	}
	for _, name := range cfg.Lines {
		ref := v.add(name, names.Line)
		v.objects[ref].attrs[engine.AttrOutOfService] = 0
		v.lines = append(v.lines, ref)
	}
	return v
}

func (v *VirtualEngine) add(name, class string) engine.Ref {
	ref := engine.Ref(class + ":" + name)
	v.objects[ref] = &object{ref: ref, name: name, class: class, attrs: engine.Attrs{}}
	return ref
}

// PID is an accessor for the process id.
func (v *VirtualEngine) PID() uuid.UUID {
	return v.pid
}

// enter counts a client call and reports whether the engine is reachable.
// The caller must hold mux.
func (v *VirtualEngine) enter() error {
	v.calls++
	if v.offline {
		return fmt.Errorf("%w: virtual engine %v is offline", engine.ErrEngineUnavailable, v.pid)
	}
	return nil
}

// Application is part of the engine.Client interface.
func (v *VirtualEngine) Application(ctx context.Context) error {
	v.mux.Lock()
	defer v.mux.Unlock()
	return v.enter()
}

// CalcRelevantObjects is part of the engine.Client interface. Only
// "*.<class>" filters are understood.
func (v *VirtualEngine) CalcRelevantObjects(ctx context.Context, filter string) ([]engine.Element, error) {
	v.mux.Lock()
	defer v.mux.Unlock()
	if err := v.enter(); err != nil {
		return nil, err
	}

	class := strings.TrimPrefix(filter, "*.")
	elements := make([]engine.Element, 0)
	for _, ref := range v.lines {
		obj := v.objects[ref]
		if obj.class != class || obj.attrs[engine.AttrOutOfService] != 0 {
			continue
		}
		elements = append(elements, engine.Element{Ref: obj.ref, Name: obj.name, Class: obj.class})
	}
	return elements, nil
}

// StudyCaseObject is part of the engine.Client interface.
func (v *VirtualEngine) StudyCaseObject(ctx context.Context, class string) (engine.Ref, error) {
	v.mux.Lock()
	defer v.mux.Unlock()
	if err := v.enter(); err != nil {
		return "", err
	}

	ref, ok := v.studyCase[class]
	if !ok {
		return "", fmt.Errorf("%w: %s", engine.ErrObjectNotFound, class)
	}
	return ref, nil
}

// Contents is part of the engine.Client interface.
func (v *VirtualEngine) Contents(ctx context.Context, folder engine.Ref) ([]engine.Element, error) {
	v.mux.Lock()
	defer v.mux.Unlock()
	if err := v.enter(); err != nil {
		return nil, err
	}

	if folder != v.studyCase[v.names.Events] {
		return nil, fmt.Errorf("%w: %s is not a folder", engine.ErrObjectNotFound, folder)
	}
	contents := make([]engine.Element, 0, len(v.events))
	for _, ref := range v.events {
		obj := v.objects[ref]
		contents = append(contents, engine.Element{Ref: obj.ref, Name: obj.name, Class: obj.class})
	}
	return contents, nil
}

// SetAttributes is part of the engine.Client interface.
func (v *VirtualEngine) SetAttributes(ctx context.Context, ref engine.Ref, attrs engine.Attrs) error {
	v.mux.Lock()
	defer v.mux.Unlock()
	if err := v.enter(); err != nil {
		return err
	}

	obj, ok := v.objects[ref]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrObjectNotFound, ref)
	}
	written := make(engine.Attrs, len(attrs))
	for k, val := range attrs {
		obj.attrs[k] = val
		written[k] = val
	}
	v.writes = append(v.writes, Write{Ref: ref, Attrs: written})
	return nil
}

// Execute is part of the engine.Client interface.
func (v *VirtualEngine) Execute(ctx context.Context, ref engine.Ref) (int, error) {
	v.mux.Lock()
	defer v.mux.Unlock()
	if err := v.enter(); err != nil {
		return 0, err
	}

	obj, ok := v.objects[ref]
	if !ok {
		return 0, fmt.Errorf("%w: %s", engine.ErrObjectNotFound, ref)
	}

	n := v.executions[obj.class]
	v.executions[obj.class] = n + 1
	if code, ok := v.faults[obj.class][n]; ok && code != 0 {
		v.printf("%s: execution failed with code %d", obj.name, code)
		return code, nil
	}

	switch obj.class {
	case v.names.InitialConditions:
		v.printf("%s: initial conditions calculated", obj.name)
	case v.names.Simulation:
		for _, evt := range v.events {
			e := v.objects[evt]
			target, _ := e.attrs[engine.AttrTarget].(string)
			line, ok := v.objects[engine.Ref(target)]
			if !ok || e.attrs[engine.AttrOutOfService] != 0 {
				continue
			}
			v.printf("%s: t=%v %s out of service", e.name, e.attrs[engine.AttrTime], line.name)
		}
		v.printf("%s: simulation finished at t=%v", obj.name, obj.attrs[engine.AttrStopTime])
	case v.names.LoadFlow:
		v.printf("%s: load flow converged", obj.name)
	default:
		v.printf("%s: executed", obj.name)
	}
	return 0, nil
}

func (v *VirtualEngine) printf(format string, args ...interface{}) {
	v.output = append(v.output, fmt.Sprintf(format, args...))
}

// SaveOutput is part of the engine.Client interface.
func (v *VirtualEngine) SaveOutput(ctx context.Context, path string) error {
	v.mux.Lock()
	defer v.mux.Unlock()
	if err := v.enter(); err != nil {
		return err
	}
	body := strings.Join(v.output, "\n") + "\n"
	return os.WriteFile(path, []byte(body), 0644)
}

// ClearOutput is part of the engine.Client interface.
func (v *VirtualEngine) ClearOutput(ctx context.Context) error {
	v.mux.Lock()
	defer v.mux.Unlock()
	if err := v.enter(); err != nil {
		return err
	}
	v.output = v.output[:0]
	return nil
}

// Close is part of the engine.Client interface. The virtual engine outlives
// its sessions.
func (v *VirtualEngine) Close() error {
	log.Printf("[VirtualEngine] session closed after %d calls\n", v.Calls())
	return nil
}

// FailOn makes the nth (zero based) execution of the command of class return
// code.
func (v *VirtualEngine) FailOn(class string, n int, code int) {
	v.mux.Lock()
	defer v.mux.Unlock()
	if _, ok := v.faults[class]; !ok {
		v.faults[class] = make(map[int]int)
	}
	v.faults[class][n] = code
}

// SetOffline makes every subsequent client call fail as unreachable.
func (v *VirtualEngine) SetOffline(offline bool) {
	v.mux.Lock()
	defer v.mux.Unlock()
	v.offline = offline
}

// SetInService adds or removes a line from the live inventory.
func (v *VirtualEngine) SetInService(name string, inService bool) {
	v.mux.Lock()
	defer v.mux.Unlock()
	obj, ok := v.objects[engine.Ref(v.names.Line+":"+name)]
	if !ok {
		return
	}
	if inService {
		obj.attrs[engine.AttrOutOfService] = 0
	} else {
		obj.attrs[engine.AttrOutOfService] = 1
	}
}

// Executions returns how often the command of class ran.
func (v *VirtualEngine) Executions(class string) int {
	v.mux.Lock()
	defer v.mux.Unlock()
	return v.executions[class]
}

// Calls returns the number of client calls received.
func (v *VirtualEngine) Calls() int {
	v.mux.Lock()
	defer v.mux.Unlock()
	return v.calls
}

// Writes returns the recorded attribute writes in call order.
func (v *VirtualEngine) Writes() []Write {
	v.mux.Lock()
	defer v.mux.Unlock()
	writes := make([]Write, len(v.writes))
	copy(writes, v.writes)
	return writes
}

// Attr returns the current value of an attribute.
func (v *VirtualEngine) Attr(ref engine.Ref, name string) interface{} {
	v.mux.Lock()
	defer v.mux.Unlock()
	obj, ok := v.objects[ref]
	if !ok {
		return nil
	}
	return obj.attrs[name]
}

// Output returns the current output window lines.
func (v *VirtualEngine) Output() []string {
	v.mux.Lock()
	defer v.mux.Unlock()
	lines := make([]string, len(v.output))
	copy(lines, v.output)
	return lines
}
