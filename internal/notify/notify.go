// File: internal/notify/notify.go
package notify

import (
	"context"
	"time"
)

// Message is one run outcome as told to an operator.
type Message struct {
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	ReportType string    `json:"report_type,omitempty"`
	Succeeded  bool      `json:"succeeded"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier delivers a Message over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}
