package runner

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_contingency/internal/pkg/caseset"
)

// CaseState is the progress of one case through a run.
type CaseState string

const (
	Pending   CaseState = "Pending"
	Bound     CaseState = "Bound"
	Simulated CaseState = "Simulated"
	Persisted CaseState = "Persisted"
	Failed    CaseState = "Failed"
)

// RunState is the lifecycle of the controller.
type RunState string

const (
	Idle      RunState = "Idle"
	Running   RunState = "Running"
	Completed RunState = "Completed"
	Aborted   RunState = "Aborted"
	Cancelled RunState = "Cancelled"
)

// Window is the half-open case index range [Start, End) of a run.
type Window struct {
	Start int `json:"Start"`
	End   int `json:"End"`
}

// Resolve treats a non-positive End as the end of a source with n cases.
func (w Window) Resolve(n int) Window {
	if w.End <= 0 {
		w.End = n
	}
	return w
}

// Validate checks w against a source with n cases.
func (w Window) Validate(n int) error {
	if w.Start < 0 || w.Start > w.End || w.End > n {
		return fmt.Errorf("%w: window [%d, %d) over %d cases", caseset.ErrIndexOutOfRange, w.Start, w.End, n)
	}
	return nil
}

// Len is the number of cases in the window.
func (w Window) Len() int {
	return w.End - w.Start
}

// CaseRecord is the outcome of one case.
type CaseRecord struct {
	RunPID   uuid.UUID     `json:"runPID"`
	Index    int           `json:"index"`
	Label    string        `json:"label"`
	ElementA string        `json:"elementA"`
	ElementB string        `json:"elementB"`
	State    CaseState     `json:"state"`
	Elapsed  time.Duration `json:"elapsed"`
	Missing  []string      `json:"missing,omitempty"`
	Warning  string        `json:"warning,omitempty"`
	Error    string        `json:"error,omitempty"`
	Artifact string        `json:"artifact,omitempty"`
	Finished time.Time     `json:"finished"`
}

// Flagged reports whether an outage of the case was skipped.
func (r CaseRecord) Flagged() bool {
	return len(r.Missing) > 0
}

// Summary is the result of a run.
type Summary struct {
	PID          uuid.UUID    `json:"PID"`
	Status       RunState     `json:"status"`
	Window       Window       `json:"window"`
	CasesRun     int          `json:"casesRun"`
	CasesFailed  int          `json:"casesFailed"`
	CasesFlagged int          `json:"casesFlagged"`
	Cases        []CaseRecord `json:"cases"`
	Started      time.Time    `json:"started"`
	Finished     time.Time    `json:"finished"`
	Error        string       `json:"error,omitempty"`
}

func (s *Summary) add(r CaseRecord) {
	s.CasesRun++
	if r.State == Failed {
		s.CasesFailed++
	}
	if r.Flagged() {
		s.CasesFlagged++
	}
	s.Cases = append(s.Cases, r)
}
