package controller

import "time"

// Status is a point in time view of an engine.
type Status struct {
	ID           string          `json:"id"`
	Family       string          `json:"family"`
	Port         string          `json:"port"`
	Baud         int             `json:"baud"`
	State        string          `json:"state"`
	Devices      []int           `json:"devices"`
	QueueLength  int             `json:"queue_length"`
	InFlight     *int            `json:"in_flight_func,omitempty"`
	LastResponse time.Time       `json:"last_response"`
	Networked    bool            `json:"networked"`
	Metrics      MetricsSnapshot `json:"metrics"`
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	port, baud := e.port, e.baud
	e.mu.Unlock()

	e.netMu.RLock()
	networked := e.session != nil
	e.netMu.RUnlock()

	ids := e.Devices()
	devices := make([]int, len(ids))
	for i, id := range ids {
		devices[i] = int(id)
	}

	st := Status{
		ID:           e.id.String(),
		Family:       e.family.Name(),
		Port:         port,
		Baud:         baud,
		State:        e.state.Get().String(),
		Devices:      devices,
		QueueLength:  e.QueueLength(),
		LastResponse: e.LastResponse(),
		Networked:    networked,
		Metrics:      e.metrics.Snapshot(),
	}
	if d, ok := e.InFlight(); ok {
		fn := int(d.FuncID)
		st.InFlight = &fn
	}

	return st
}
