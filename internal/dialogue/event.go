package dialogue

import (
	"github.com/h1v3-io/helpdesk/internal/submit"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Event is an input to the engine: a button press, free text, or the
// completion of a network effect.
type Event interface {
	isEvent()
}

// Text is free-text input typed by the user.
type Text struct {
	Body string
}

// AdminsLoaded carries the technician list.
type AdminsLoaded struct {
	Admins []protocol.Admin
}

// AdminsUnavailable reports that the technician list could not be fetched.
type AdminsUnavailable struct {
	Err error
}

// TicketSubmitted carries the result of a completed submission.
type TicketSubmitted struct {
	Result submit.Result
}

// SubmissionFailed reports that the ticket could not be created.
type SubmissionFailed struct {
	Err error
}

func (Text) isEvent()              {}
func (AdminsLoaded) isEvent()      {}
func (AdminsUnavailable) isEvent() {}
func (TicketSubmitted) isEvent()   {}
func (SubmissionFailed) isEvent()  {}

// Effect is work the engine asks its driver to perform.
type Effect interface {
	isEffect()
}

// QueryAdmins fetches the technician list and feeds back AdminsLoaded or
// AdminsUnavailable.
type QueryAdmins struct{}

// Submit files a ticket and feeds back TicketSubmitted or SubmissionFailed.
type Submit struct {
	Request submit.Request
}

// RecordSolved reports a self-service resolution to the backend.
type RecordSolved struct {
	Context protocol.TicketContext
}

// Schedule delivers Event after the named wait, unless a newer event was
// accepted in the meantime.
type Schedule struct {
	Wait  Wait
	Event Event
}

func (QueryAdmins) isEffect()  {}
func (Submit) isEffect()       {}
func (RecordSolved) isEffect() {}
func (Schedule) isEffect()     {}

// Wait names a delay; the driver maps it to a duration.
type Wait int

const (
	WaitWelcome Wait = iota
	WaitAfterSolved
	WaitAfterSummary
	WaitAfterFailure
	WaitAdminFallback
)

// Pace is the pause before a user-triggered reply is shown.
type Pace int

const (
	PaceNone Pace = iota
	PaceThinking
	PaceNotice
)

// Reply is one bot message.
type Reply struct {
	Text    string
	Buttons []protocol.Button
}

// Transition is the outcome of applying one event.
type Transition struct {
	State   State
	Replies []Reply
	Effects []Effect
	Pace    Pace
	// Accepted is false when the event was ignored or answered with the
	// "use the buttons" notice. Accepted events invalidate pending
	// scheduled events.
	Accepted bool
}
