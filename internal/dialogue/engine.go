// Package dialogue implements the scripted troubleshooting conversation: a
// pure state machine over the knowledge base and a Session that drives it.
package dialogue

import (
	"slices"
	"strings"

	"github.com/h1v3-io/helpdesk/internal/submit"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Engine computes transitions over a knowledge base. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	KB *protocol.KnowledgeBase
}

// NewEngine returns an engine over kb.
func NewEngine(kb *protocol.KnowledgeBase) *Engine {
	return &Engine{KB: kb}
}

// Welcome greets user and schedules the main menu.
func (e *Engine) Welcome(user protocol.User) Transition {
	return Transition{
		State:    Initial(),
		Replies:  []Reply{{Text: welcomeText(user)}},
		Effects:  []Effect{Schedule{Wait: WaitWelcome, Event: Action{Kind: ActMainMenu}}},
		Accepted: true,
	}
}

// Apply computes the transition for ev in state s.
func (e *Engine) Apply(s State, ev Event) Transition {
	switch ev := ev.(type) {
	case Action:
		return e.applyAction(s, ev)
	case Text:
		return e.applyText(s, ev)
	case AdminsLoaded:
		return e.adminsLoaded(s, ev)
	case AdminsUnavailable:
		return Transition{
			State:   s,
			Replies: []Reply{{Text: textAdminsFallback}},
			Effects: []Effect{Schedule{
				Wait:  WaitAdminFallback,
				Event: Action{Kind: ActSetPreference, Key: PreferenceNone},
			}},
			Accepted: true,
		}
	case TicketSubmitted:
		next := s.with(s.Current, func(c *Context) { c.AttachedFiles = nil })
		return Transition{
			State:    next,
			Replies:  []Reply{{Text: SummaryText(ev.Result)}},
			Effects:  []Effect{Schedule{Wait: WaitAfterSummary, Event: Action{Kind: ActMainMenu}}},
			Accepted: true,
		}
	case SubmissionFailed:
		return Transition{
			State:    s,
			Replies:  []Reply{{Text: submissionErrorText(ev.Err)}},
			Effects:  []Effect{Schedule{Wait: WaitAfterFailure, Event: Action{Kind: ActMainMenu}}},
			Accepted: true,
		}
	}
	return notice(s)
}

func (e *Engine) applyAction(s State, a Action) Transition {
	if a.Kind == ActMainMenu {
		return e.mainMenu()
	}
	if s.Context.Settled {
		return notice(s)
	}

	switch s.Current {
	case SelectingAction:
		switch a.Kind {
		case ActReportProblem:
			return e.categories(s)
		case ActConsultPolicies:
			return e.policies(s)
		}
	case SelectingCategory:
		if a.Kind == ActCategory {
			return e.subcategories(s, a.Key)
		}
	case SelectingSubcategory:
		switch a.Kind {
		case ActSubcategory:
			return e.steps(s, a.Key)
		case ActReportProblem:
			return e.categories(s)
		case ActCategory:
			return e.subcategories(s, a.Key)
		}
	case ConfirmingEscalation, AskingFinalOptions:
		return e.escalation(s, a)
	case SelectingPreference:
		if a.Kind == ActSetPreference {
			return e.submit(s, a.Key)
		}
	case SelectingPolicy:
		switch a.Kind {
		case ActPolicy:
			return e.policy(s, a.Key)
		case ActConsultPolicies:
			return e.policies(s)
		}
	}
	return notice(s)
}

func (e *Engine) applyText(s State, t Text) Transition {
	body := strings.TrimSpace(t.Body)
	if body == "" {
		return Transition{State: s}
	}
	if s.Current != DescribingIssue {
		return notice(s)
	}
	next := s.with(SelectingPreference, func(c *Context) { c.ProblemDescription = body })
	return Transition{
		State:    next,
		Effects:  []Effect{QueryAdmins{}},
		Accepted: true,
	}
}

func (e *Engine) mainMenu() Transition {
	return Transition{
		State: Initial(),
		Replies: []Reply{{
			Text:    textMainMenu,
			Buttons: []protocol.Button{btnReport, btnPolicies},
		}},
		Pace:     PaceThinking,
		Accepted: true,
	}
}

func (e *Engine) categories(s State) Transition {
	buttons := make([]protocol.Button, 0, e.KB.Categories.Len()+1)
	for _, c := range e.KB.Categories.All() {
		buttons = append(buttons, protocol.Button{
			Text:   c.Value.Title,
			Action: Action{Kind: ActCategory, Key: c.Key}.Token(),
		})
	}
	buttons = append(buttons, backTo(Action{Kind: ActMainMenu}))

	next := s.with(SelectingCategory, func(c *Context) {
		c.CategoryKey = ""
		c.SubcategoryKey = ""
	})
	return accepted(next, Reply{Text: textChooseCategory, Buttons: buttons})
}

func (e *Engine) subcategories(s State, key string) Transition {
	cat, ok := e.KB.Categories.Get(key)
	if !ok {
		return notice(s)
	}
	buttons := make([]protocol.Button, 0, cat.Subcategories.Len()+2)
	for _, sc := range cat.Subcategories.All() {
		buttons = append(buttons, protocol.Button{
			Text:   sc.Value.Title,
			Action: Action{Kind: ActSubcategory, Key: sc.Key}.Token(),
		})
	}
	buttons = append(buttons, backTo(Action{Kind: ActReportProblem}), btnHome)

	next := s.with(SelectingSubcategory, func(c *Context) {
		c.CategoryKey = key
		c.SubcategoryKey = ""
		c.FinalOptionIndex = 0
		c.FinalOptionsTried = nil
	})
	return accepted(next, Reply{Text: textChooseSub, Buttons: buttons})
}

func (e *Engine) steps(s State, key string) Transition {
	sub, ok := e.KB.Subcategory(s.Context.CategoryKey, key)
	if !ok {
		return notice(s)
	}
	next := s.with(ConfirmingEscalation, func(c *Context) {
		c.SubcategoryKey = key
		c.FinalOptionIndex = 0
		c.FinalOptionsTried = nil
	})
	return accepted(next, Reply{
		Text: stepsText(sub),
		Buttons: []protocol.Button{
			{Text: "✅ Yes, it's solved", Action: string(ActSolved)},
			{Text: "❌ No, I need help", Action: string(ActEscalate)},
			backTo(Action{Kind: ActCategory, Key: s.Context.CategoryKey}),
		},
	})
}

func (e *Engine) escalation(s State, a Action) Transition {
	sub, ok := e.KB.Subcategory(s.Context.CategoryKey, s.Context.SubcategoryKey)
	if !ok {
		return notice(s)
	}

	switch a.Kind {
	case ActSolved:
		return e.solved(s, textSolved)
	case ActCategory:
		if s.Current == ConfirmingEscalation {
			return e.subcategories(s, a.Key)
		}
	case ActEscalate:
		if s.Current != ConfirmingEscalation {
			break
		}
		if sub.HasFinalOptions() {
			return e.finalOption(s, sub, 0)
		}
		return e.describe(s)
	case ActFinalOptionSolved:
		if s.Current == AskingFinalOptions && a.Index == s.Context.FinalOptionIndex {
			return e.solved(s, textOptionSolved)
		}
	case ActFinalOptionFailed:
		if s.Current != AskingFinalOptions || a.Index != s.Context.FinalOptionIndex {
			break
		}
		tried := sub.FinalOptions[a.Index].Title
		s = s.with(s.Current, func(c *Context) {
			c.FinalOptionsTried = append(c.FinalOptionsTried, tried)
		})
		return e.finalOption(s, sub, a.Index+1)
	}
	return notice(s)
}

func (e *Engine) finalOption(s State, sub protocol.Subcategory, i int) Transition {
	if i >= len(sub.FinalOptions) {
		return e.describe(s.with(s.Current, func(c *Context) { c.FinalOptionIndex = i }))
	}
	next := s.with(AskingFinalOptions, func(c *Context) { c.FinalOptionIndex = i })
	return accepted(next, Reply{
		Text: optionText(sub.FinalOptions[i]),
		Buttons: []protocol.Button{
			{Text: "✅ It worked", Action: Action{Kind: ActFinalOptionSolved, Index: i}.Token()},
			{Text: "❌ It didn't work", Action: Action{Kind: ActFinalOptionFailed, Index: i}.Token()},
		},
	})
}

func (e *Engine) describe(s State) Transition {
	return accepted(s.with(DescribingIssue, nil), Reply{Text: textDescribe})
}

func (e *Engine) solved(s State, text string) Transition {
	next := s.with(s.Current, func(c *Context) { c.Settled = true })
	t := accepted(next, Reply{Text: text})
	t.Effects = []Effect{
		RecordSolved{Context: next.Context.TicketContext()},
		Schedule{Wait: WaitAfterSolved, Event: Action{Kind: ActMainMenu}},
	}
	return t
}

func (e *Engine) adminsLoaded(s State, ev AdminsLoaded) Transition {
	buttons := make([]protocol.Button, 0, len(ev.Admins)+1)
	for _, a := range ev.Admins {
		handle := a.Handle()
		if !selectableHandle(handle) {
			continue
		}
		buttons = append(buttons, protocol.Button{
			Text:   "👤 " + a.DisplayName(),
			Action: Action{Kind: ActSetPreference, Key: handle}.Token(),
		})
	}
	buttons = append(buttons, btnAuto)
	return Transition{
		State:    s,
		Replies:  []Reply{{Text: textChooseAdmin, Buttons: buttons}},
		Accepted: true,
	}
}

// selectableHandle reports whether handle survives a set_preference token
// round trip and is not mistaken for auto-assignment.
func selectableHandle(handle string) bool {
	return handle != "" && handle != PreferenceNone && !strings.Contains(handle, ":")
}

func (e *Engine) submit(s State, preference string) Transition {
	next := s.with(s.Current, func(c *Context) { c.Settled = true })
	req := submit.Request{
		Context: next.Context.TicketContext(),
		Files:   slices.Clone(next.Context.AttachedFiles),
	}
	if preference != PreferenceNone {
		req.PreferredAdmin = preference
	}
	return Transition{
		State:    next,
		Effects:  []Effect{Submit{Request: req}},
		Pace:     PaceThinking,
		Accepted: true,
	}
}

func (e *Engine) policies(s State) Transition {
	buttons := make([]protocol.Button, 0, e.KB.Policies.Len()+1)
	for _, p := range e.KB.Policies.All() {
		buttons = append(buttons, protocol.Button{
			Text:   p.Value.Title,
			Action: Action{Kind: ActPolicy, Key: p.Key}.Token(),
		})
	}
	buttons = append(buttons, backTo(Action{Kind: ActMainMenu}))
	return accepted(s.with(SelectingPolicy, nil), Reply{Text: textPolicies, Buttons: buttons})
}

func (e *Engine) policy(s State, key string) Transition {
	p, ok := e.KB.Policies.Get(key)
	if !ok {
		return notice(s)
	}
	return accepted(s, Reply{
		Text:    policyText(p),
		Buttons: []protocol.Button{backTo(Action{Kind: ActConsultPolicies})},
	})
}

func accepted(s State, r Reply) Transition {
	return Transition{State: s, Replies: []Reply{r}, Pace: PaceThinking, Accepted: true}
}

func notice(s State) Transition {
	return Transition{State: s, Replies: []Reply{{Text: textUseButtons}}, Pace: PaceNotice}
}
