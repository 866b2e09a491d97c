package virtualengine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
	"gotest.tools/v3/assert"
)

func TestNew(t *testing.T) {
	ve, err := New("virtualengine_test_config.json")
	assert.NilError(t, err)

	lines, err := ve.CalcRelevantObjects(context.Background(), "*.ElmLne")
	assert.NilError(t, err)
	assert.Equal(t, len(lines), 3)
	assert.Equal(t, lines[0].Name, "Line_A")
	assert.Equal(t, lines[0].Ref, engine.Ref("ElmLne:Line_A"))

	folder, err := ve.StudyCaseObject(context.Background(), "IntEvt")
	assert.NilError(t, err)
	events, err := ve.Contents(context.Background(), folder)
	assert.NilError(t, err)
	assert.Equal(t, len(events), 3)
}

func TestNewMissingConfig(t *testing.T) {
	_, err := New("does_not_exist.json")
	assert.Assert(t, err != nil)
}

func TestStudyCaseObjectOmitted(t *testing.T) {
	ve := NewFromConfig(Config{Omit: []string{"ComLdf"}})
	_, err := ve.StudyCaseObject(context.Background(), "ComLdf")
	assert.Assert(t, errors.Is(err, engine.ErrObjectNotFound))
}

func TestOutOfServiceLinesAreHidden(t *testing.T) {
	ve := NewFromConfig(Config{Lines: []string{"L1", "L2"}})
	ve.SetInService("L1", false)

	lines, err := ve.CalcRelevantObjects(context.Background(), "*.ElmLne")
	assert.NilError(t, err)
	assert.Equal(t, len(lines), 1)
	assert.Equal(t, lines[0].Name, "L2")
}

func TestExecuteFault(t *testing.T) {
	ve := NewFromConfig(Config{})
	ref, err := ve.StudyCaseObject(context.Background(), "ComLdf")
	assert.NilError(t, err)
	ve.FailOn("ComLdf", 1, 4)

	for i, want := range []int{0, 4, 0} {
		code, err := ve.Execute(context.Background(), ref)
		assert.NilError(t, err)
		assert.Equal(t, code, want, "execution %d", i)
	}
	assert.Equal(t, ve.Executions("ComLdf"), 3)
	assert.DeepEqual(t, ve.Output(), []string{
		"ComLdf: load flow converged",
		"ComLdf: execution failed with code 4",
		"ComLdf: load flow converged",
	})
}

func TestSimulationReportsEnabledOutages(t *testing.T) {
	ctx := context.Background()
	ve := NewFromConfig(Config{Lines: []string{"L1", "L2"}})
	folder, _ := ve.StudyCaseObject(ctx, "IntEvt")
	events, _ := ve.Contents(ctx, folder)
	sim, _ := ve.StudyCaseObject(ctx, "ComSim")

	assert.NilError(t, ve.SetAttributes(ctx, sim, engine.Attrs{engine.AttrStopTime: 10.0}))
	assert.NilError(t, ve.SetAttributes(ctx, events[0].Ref, engine.Attrs{
		engine.AttrTarget: "ElmLne:L2", engine.AttrTime: 2.5, engine.AttrOutOfService: 0,
	}))
	assert.NilError(t, ve.SetAttributes(ctx, events[1].Ref, engine.Attrs{
		engine.AttrTarget: "ElmLne:L1", engine.AttrTime: 1.0, engine.AttrOutOfService: 1,
	}))

	_, err := ve.Execute(ctx, sim)
	assert.NilError(t, err)
	assert.DeepEqual(t, ve.Output(), []string{
		"Outage 1: t=2.5 L2 out of service",
		"ComSim: simulation finished at t=10",
	})
	assert.Equal(t, len(ve.Writes()), 3)
	assert.Equal(t, ve.Attr(events[0].Ref, engine.AttrTarget), "ElmLne:L2")
}

func TestSaveAndClearOutput(t *testing.T) {
	ctx := context.Background()
	ve := NewFromConfig(Config{})
	inc, _ := ve.StudyCaseObject(ctx, "ComInc")
	_, err := ve.Execute(ctx, inc)
	assert.NilError(t, err)

	path := filepath.Join(t.TempDir(), "out.txt")
	assert.NilError(t, ve.SaveOutput(ctx, path))
	body, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, string(body), "ComInc: initial conditions calculated\n")

	assert.NilError(t, ve.ClearOutput(ctx))
	assert.Equal(t, len(ve.Output()), 0)
}

func TestOffline(t *testing.T) {
	ve := NewFromConfig(Config{})
	ve.SetOffline(true)

	err := ve.Application(context.Background())
	assert.Assert(t, errors.Is(err, engine.ErrEngineUnavailable))
	_, err = ve.Execute(context.Background(), "ComLdf:ComLdf")
	assert.Assert(t, errors.Is(err, engine.ErrEngineUnavailable))
	assert.Equal(t, ve.Calls(), 2)

	ve.SetOffline(false)
	assert.NilError(t, ve.Application(context.Background()))
}
