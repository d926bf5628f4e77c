package api

import "time"

// Response is the standard JSON envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Version    string `json:"version,omitempty"`
	Uptime     string `json:"uptime"`
	Interval   uint8  `json:"interval"`
	Interfaces int    `json:"interfaces"`
}

// InterfaceInfo describes one open MRD socket.
type InterfaceInfo struct {
	Name       string            `json:"name"`
	Family     string            `json:"family"`
	Index      int               `json:"index"`
	Sent       map[string]uint64 `json:"sent"`
	Received   map[string]uint64 `json:"received"`
	SendErrors uint64            `json:"send_errors"`
	RecvErrors uint64            `json:"recv_errors"`
	LastSend   *time.Time        `json:"last_send,omitempty"`
	Healthy    bool              `json:"healthy"`
}
