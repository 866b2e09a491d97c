package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ohowland/cgc_contingency/internal/lib/engine/virtualengine"
	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
	"gotest.tools/v3/assert"
)

func newVirtual(cfg virtualengine.Config) *virtualengine.VirtualEngine {
	if cfg.Lines == nil {
		cfg.Lines = []string{"Line_01", "Line_02", "Line_03"}
	}
	return virtualengine.NewFromConfig(cfg)
}

func TestConnect(t *testing.T) {
	ve := newVirtual(virtualengine.Config{})
	s, err := engine.Connect(context.Background(), ve, engine.Names{})
	assert.NilError(t, err)

	for _, kind := range []engine.CommandKind{engine.LoadFlow, engine.InitialConditions, engine.Simulation, engine.ResultsExport} {
		cmd, err := s.Command(kind)
		assert.NilError(t, err, "command %v", kind)
		assert.Equal(t, cmd.Kind(), kind)
	}

	for i := 0; i < engine.SlotCount; i++ {
		slot, err := s.Slot(i)
		assert.NilError(t, err)
		assert.Assert(t, slot.Ref != "")
	}
	assert.Equal(t, s.Names(), engine.DefaultNames())
	assert.Equal(t, len(ve.Writes()), 0, "connect must not write engine state")
}

func TestConnectUnavailable(t *testing.T) {
	ve := newVirtual(virtualengine.Config{})
	ve.SetOffline(true)

	_, err := engine.Connect(context.Background(), ve, engine.Names{})
	assert.Assert(t, errors.Is(err, engine.ErrEngineUnavailable))
}

func TestConnectMissingCommand(t *testing.T) {
	ve := newVirtual(virtualengine.Config{Omit: []string{"ComSim"}})

	_, err := engine.Connect(context.Background(), ve, engine.Names{})
	assert.Assert(t, errors.Is(err, engine.ErrCommandNotFound))
	assert.ErrorContains(t, err, "ComSim")
}

func TestConnectTooFewEvents(t *testing.T) {
	ve := newVirtual(virtualengine.Config{OutageEvents: 1})

	_, err := engine.Connect(context.Background(), ve, engine.Names{})
	assert.Assert(t, errors.Is(err, engine.ErrCommandNotFound))
}

func TestLiveElements(t *testing.T) {
	ve := newVirtual(virtualengine.Config{})
	ve.SetInService("Line_02", false)
	s, err := engine.Connect(context.Background(), ve, engine.Names{})
	assert.NilError(t, err)

	lines, err := s.LiveElements(context.Background(), "ElmLne")
	assert.NilError(t, err)
	assert.Equal(t, len(lines), 2)
	assert.Equal(t, lines[0].Name, "Line_01")
	assert.Equal(t, lines[1].Name, "Line_03")
}

func TestRebindOverwritesEveryField(t *testing.T) {
	ctx := context.Background()
	ve := newVirtual(virtualengine.Config{})
	s, err := engine.Connect(ctx, ve, engine.Names{})
	assert.NilError(t, err)

	lines, err := s.LiveElements(ctx, "ElmLne")
	assert.NilError(t, err)

	bound := engine.Binding{Target: lines[0], Time: 1.0, Kind: engine.RemoveFromService, Enabled: true}
	assert.NilError(t, s.Rebind(ctx, 0, bound))

	slot, err := s.Slot(0)
	assert.NilError(t, err)
	assert.Equal(t, slot.Binding, bound)
	assert.Equal(t, ve.Attr(slot.Ref, engine.AttrTarget), string(lines[0].Ref))
	assert.Equal(t, ve.Attr(slot.Ref, engine.AttrOutOfService), 0)

	assert.NilError(t, s.Rebind(ctx, 0, engine.Binding{Time: 1.0}))
	slot, _ = s.Slot(0)
	assert.Equal(t, slot.Binding.Target, engine.Element{})
	assert.Equal(t, ve.Attr(slot.Ref, engine.AttrTarget), "")
	assert.Equal(t, ve.Attr(slot.Ref, engine.AttrOutOfService), 1)

	writes := ve.Writes()
	assert.Equal(t, len(writes), 2)
	for _, w := range writes {
		for _, attr := range []string{engine.AttrTarget, engine.AttrTime, engine.AttrKind, engine.AttrOutOfService} {
			_, ok := w.Attrs[attr]
			assert.Assert(t, ok, "rebind did not write %s", attr)
		}
	}
}

func TestRebindSlotRange(t *testing.T) {
	s, err := engine.Connect(context.Background(), newVirtual(virtualengine.Config{}), engine.Names{})
	assert.NilError(t, err)

	assert.ErrorContains(t, s.Rebind(context.Background(), engine.SlotCount, engine.Binding{}), "out of range")
	_, err = s.Slot(-1)
	assert.ErrorContains(t, err, "out of range")
}

func TestSetStopTimeOnlySimulation(t *testing.T) {
	ctx := context.Background()
	ve := newVirtual(virtualengine.Config{})
	s, err := engine.Connect(ctx, ve, engine.Names{})
	assert.NilError(t, err)

	sim, _ := s.Command(engine.Simulation)
	assert.NilError(t, sim.SetStopTime(ctx, 300))
	assert.Equal(t, ve.Attr(sim.Ref(), engine.AttrStopTime), 300.0)

	ldf, _ := s.Command(engine.LoadFlow)
	assert.ErrorContains(t, ldf.SetStopTime(ctx, 300), "load-flow")
}

func TestNamesWithDefaults(t *testing.T) {
	names := engine.Names{LoadFlow: "MyLdf"}.WithDefaults()
	assert.Equal(t, names.LoadFlow, "MyLdf")
	assert.Equal(t, names.Simulation, "ComSim")
	assert.Equal(t, names.Line, "ElmLne")
}
