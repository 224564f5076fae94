package process

import "time"

// Status is a point-in-time view of a supervised process.
type Status struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitError string    `json:"exit_error,omitempty"`
}
