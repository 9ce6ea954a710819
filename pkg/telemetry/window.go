// Package telemetry turns raw sensor-reading result sets into the ordered
// series and latest-value views the dashboard charts consume.
package telemetry

import (
	"sort"
	"time"

	"farmdash/entities"
)

const DefaultWindowSize = 60

// State distinguishes "no batch delivered yet" from "a batch arrived and it
// was empty".
type State int

const (
	StateLoading State = iota
	StateNoData
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateNoData:
		return "no_data"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Point is one reading in chart form. Timestamp is always UTC; clock strings
// are produced at the HTTP boundary.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	SensorID  string    `json:"sensor_id,omitempty"`
}

func pointOf(r entities.SensorReading) Point {
	return Point{Timestamp: r.Timestamp.UTC(), Value: r.Value, SensorID: r.SensorID}
}

// Window is an immutable, time-ascending view of at most Size readings.
type Window struct {
	State  State   `json:"state"`
	Size   int     `json:"size"`
	Points []Point `json:"points"`
}

// LoadingWindow is the window before the first batch.
func LoadingWindow(size int) Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return Window{State: StateLoading, Size: size, Points: []Point{}}
}

// NewWindow builds a window from one full batch as delivered by the store
// (newest first). The batch replaces any previous window wholesale.
func NewWindow(size int, batch []entities.SensorReading) Window {
	w := LoadingWindow(size)
	if len(batch) == 0 {
		w.State = StateNoData
		return w
	}

	pts := make([]Point, len(batch))
	for i, r := range batch {
		pts[len(batch)-1-i] = pointOf(r)
	}
	// Reversal handles a well-formed batch; the stable sort keeps the
	// window ascending even if the producer delivered out of order.
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })
	if len(pts) > w.Size {
		pts = pts[len(pts)-w.Size:]
	}
	w.Points = pts
	w.State = StateReady
	return w
}

func (w Window) Len() int { return len(w.Points) }

func (w Window) Values() []float64 {
	out := make([]float64, len(w.Points))
	for i, p := range w.Points {
		out[i] = p.Value
	}
	return out
}

// Last returns the newest point in the window.
func (w Window) Last() (Point, bool) {
	if len(w.Points) == 0 {
		return Point{}, false
	}
	return w.Points[len(w.Points)-1], true
}
