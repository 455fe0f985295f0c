package protocol

import "time"

// Chat log action types.
const (
	LogAction     = "action"
	LogText       = "text"
	LogAttachment = "attachment"
	LogDetach     = "detach"
)

// ChatLogEntry records one user event and what the assistant answered.
type ChatLogEntry struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Username    string    `json:"username"`
	ActionType  string    `json:"action_type"`
	ActionValue string    `json:"action_value"`
	BotResponse string    `json:"bot_response"`
	CreatedAt   time.Time `json:"created_at"`
}
