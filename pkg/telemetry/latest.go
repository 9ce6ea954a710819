package telemetry

import "farmdash/entities"

// Latest is the most recent reading for a field, independent of the window.
type Latest struct {
	State   State  `json:"state"`
	Reading *Point `json:"reading,omitempty"`
}

func LoadingLatest() Latest { return Latest{State: StateLoading} }

// NewLatest picks the newest reading from a batch. The batch is normally
// the single-row "timestamp desc, limit 1" result, but any order is accepted.
func NewLatest(batch []entities.SensorReading) Latest {
	if len(batch) == 0 {
		return Latest{State: StateNoData}
	}
	best := batch[0]
	for _, r := range batch[1:] {
		if r.Timestamp.After(best.Timestamp) {
			best = r
		}
	}
	p := pointOf(best)
	return Latest{State: StateReady, Reading: &p}
}

func (l Latest) Value() (float64, bool) {
	if l.Reading == nil {
		return 0, false
	}
	return l.Reading.Value, true
}
