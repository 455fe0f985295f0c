package dialogue

import (
	"slices"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// StateName is a node of the conversation state machine.
type StateName string

const (
	SelectingAction      StateName = "SELECTING_ACTION"
	SelectingCategory    StateName = "SELECTING_CATEGORY"
	SelectingSubcategory StateName = "SELECTING_SUBCATEGORY"
	ConfirmingEscalation StateName = "CONFIRMING_ESCALATION"
	AskingFinalOptions   StateName = "ASKING_FINAL_OPTIONS"
	DescribingIssue      StateName = "DESCRIBING_ISSUE"
	SelectingPreference  StateName = "SELECTING_PREFERENCE"
	SelectingPolicy      StateName = "SELECTING_POLICY"
)

// States lists every state in declaration order.
var States = []StateName{
	SelectingAction,
	SelectingCategory,
	SelectingSubcategory,
	ConfirmingEscalation,
	AskingFinalOptions,
	DescribingIssue,
	SelectingPreference,
	SelectingPolicy,
}

// Valid reports whether s is one of the defined states.
func (s StateName) Valid() bool {
	return slices.Contains(States, s)
}

// Context is what the conversation has collected so far. It is a value:
// methods return modified copies and never share slices with the receiver.
type Context struct {
	CategoryKey        string
	SubcategoryKey     string
	ProblemDescription string
	AttachedFiles      []attachment.File
	FinalOptionIndex   int
	FinalOptionsTried  []string
	// Settled is set once the current branch has concluded (solved, or a
	// ticket submission started). Only main_menu is accepted afterwards.
	Settled bool
}

func (c Context) clone() Context {
	c.AttachedFiles = slices.Clone(c.AttachedFiles)
	c.FinalOptionsTried = slices.Clone(c.FinalOptionsTried)
	return c
}

// WithFiles returns a copy holding files as the attachment list.
func (c Context) WithFiles(files []attachment.File) Context {
	c = c.clone()
	c.AttachedFiles = slices.Clone(files)
	return c
}

// TicketContext converts the context into the ticket API's payload.
func (c Context) TicketContext() protocol.TicketContext {
	tc := protocol.TicketContext{
		CategoryKey:        c.CategoryKey,
		SubcategoryKey:     c.SubcategoryKey,
		ProblemDescription: c.ProblemDescription,
		AttachedFiles:      make([]protocol.FileInfo, len(c.AttachedFiles)),
		FinalOptionIndex:   c.FinalOptionIndex,
		FinalOptionsTried:  slices.Clone(c.FinalOptionsTried),
	}
	if tc.FinalOptionsTried == nil {
		tc.FinalOptionsTried = []string{}
	}
	for i, f := range c.AttachedFiles {
		tc.AttachedFiles[i] = protocol.FileInfo{Name: f.Name, Type: f.MimeType, Size: f.Size}
	}
	return tc
}

// State is the full conversation state.
type State struct {
	Current StateName
	Context Context
}

// Initial returns the state a new conversation starts in.
func Initial() State {
	return State{Current: SelectingAction}
}

func (s State) with(current StateName, edit func(*Context)) State {
	next := State{Current: current, Context: s.Context.clone()}
	if edit != nil {
		edit(&next.Context)
	}
	return next
}
