package fedsim

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
)

type Status uint8

const (
	Pending Status = iota
	Running
	Completed
	Failed
	Stopped
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	for c := Pending; c <= Stopped; c++ {
		if strings.EqualFold(c.String(), str) {
			*s = c

			return nil
		}
	}

	return fmt.Errorf("%w: unknown status %q", pkgerrors.ErrInvalidData, str)
}

// Terminal reports whether a run in this status has finished.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Stopped
}

type Experiment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Config    Config    `json:"config"`
	Status    Status    `json:"status"`
	Round     int       `json:"round"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type ExperimentPage struct {
	Offset      uint64       `json:"offset"`
	Limit       uint64       `json:"limit"`
	Total       uint64       `json:"total"`
	Experiments []Experiment `json:"experiments"`
}

// Round records the metrics of one completed round of an experiment.
type Round struct {
	ExperimentID string                        `json:"experiment_id"`
	Number       int                           `json:"number"`
	Clients      []string                      `json:"clients"`
	Metrics      map[string]map[string]float64 `json:"metrics"`
	Duration     time.Duration                 `json:"duration"`
	FinishedAt   time.Time                     `json:"finished_at"`
}

type RoundPage struct {
	Offset uint64  `json:"offset"`
	Limit  uint64  `json:"limit"`
	Total  uint64  `json:"total"`
	Rounds []Round `json:"rounds"`
}
