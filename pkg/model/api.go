package model

import "time"

// Response is the envelope used by the HTTP status API.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *Error    `json:"error"`
}

// CPUUsage reports committed versus total CPU slots on a node.
type CPUUsage struct {
	Used  int `json:"used"`
	Total int `json:"total"`
}
