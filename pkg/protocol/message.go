package protocol

import "time"

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Button is a selectable reply attached to a bot message. Action is the
// token dispatched back to the dialogue engine when the button is pressed.
type Button struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

// Message is one entry of a conversation's append-only log.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Buttons   []Button  `json:"buttons,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HasButtons returns true if the message offers any buttons.
func (m Message) HasButtons() bool {
	return len(m.Buttons) > 0
}
