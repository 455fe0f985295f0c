// Package chatlog persists the audit trail of assistant conversations.
package chatlog

import (
	"context"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Store is the persistence interface for chat log entries.
type Store interface {
	// Record appends an entry.
	Record(ctx context.Context, entry protocol.ChatLogEntry) error
	// List returns entries matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]protocol.ChatLogEntry, error)
	// Count returns the number of entries matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)
}

// Filter constrains chat log queries.
type Filter struct {
	SessionID  string
	Username   string
	ActionType string
	Limit      int // 0 = no limit
}
