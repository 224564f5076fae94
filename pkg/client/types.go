package client

import "time"

// StatusResponse mirrors GET /status.
type StatusResponse struct {
	Server1   bool   `json:"server1"`
	Server2   bool   `json:"server2"`
	Active    string `json:"active"`
	NonActive string `json:"non-active"`
}

// SwapResponse mirrors POST /swap.
type SwapResponse struct {
	OK      bool   `json:"ok"`
	Active  string `json:"active,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// RedeployResponse mirrors POST /redeploy-non-active.
type RedeployResponse struct {
	OK         bool   `json:"ok"`
	Redeployed string `json:"redeployed,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ProcessInfo is one entry of GET /processes.
type ProcessInfo struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitError string    `json:"exit_error,omitempty"`
}
