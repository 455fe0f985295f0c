package dialogue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/h1v3-io/helpdesk/internal/submit"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Fixed bot texts. Markdown with **bold**.
const (
	textMainMenu        = "What do you need to do?"
	textChooseCategory  = "Got it. What kind of problem are you having?"
	textChooseSub       = "OK. Now, be a bit more specific:"
	textPolicies        = "Sure, here are the policies."
	textSolved          = "Excellent! I'm glad I could help. 👍"
	textOptionSolved    = "Great! I'm glad that worked."
	textDescribe        = "📝 **Describe your problem in detail**\nYou can paste images or attach files."
	textChooseAdmin     = "👥 **Select a technician** for your ticket:"
	textAdminsFallback  = "⚠️ The technician list could not be loaded. The ticket will be assigned automatically."
	textUseButtons      = "Please use the buttons to select an option."
	TextLoadFailed      = "Error loading the chat configuration."
	TextRestart         = "The assistant is unavailable. Please restart the conversation."
	textOptionFollowsUp = "Try this:"
)

var (
	btnReport   = protocol.Button{Text: "🛎️ Report a problem", Action: string(ActReportProblem)}
	btnPolicies = protocol.Button{Text: "📋 Consult policies", Action: string(ActConsultPolicies)}
	btnHome     = protocol.Button{Text: "🏠 Menu", Action: string(ActMainMenu)}
	btnAuto     = protocol.Button{Text: "🎲 Automatic assignment", Action: Action{Kind: ActSetPreference, Key: PreferenceNone}.Token()}
)

func backTo(a Action) protocol.Button {
	return protocol.Button{Text: "🔙 Back", Action: a.Token()}
}

func welcomeText(user protocol.User) string {
	return fmt.Sprintf("Hi, **%s**! 👋 I'm your IT virtual assistant. How can I help you today?", user.DisplayName())
}

func stepsText(sub protocol.Subcategory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OK, for **\"%s\"**, try these steps:\n\n", sub.Title)
	b.WriteString(strings.Join(sub.Steps, "\n"))
	b.WriteString("\n\n--------------------\n")
	if sub.ConfirmationTitle != "" {
		fmt.Fprintf(&b, "**%s**", sub.ConfirmationTitle)
	} else {
		b.WriteString("**Did that solve your problem?**")
	}
	return b.String()
}

func optionText(opt protocol.Option) string {
	return fmt.Sprintf("%s\n**%s**\n%s", textOptionFollowsUp, opt.Title, opt.Description)
}

func policyText(p protocol.Policy) string {
	return fmt.Sprintf("**%s**\n\n%s", p.Title, p.Content)
}

// SummaryText renders the message reporting a created ticket.
func SummaryText(res submit.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ **Ticket #%s created!**\n", res.TicketID)
	if res.AssignedAdmin != "" {
		fmt.Fprintf(&b, "Assigned to: **%s**\n", res.AssignedAdmin)
	}
	fmt.Fprintf(&b, "Files uploaded: %d", res.Uploaded())
	if n := res.Failed(); n > 0 {
		fmt.Fprintf(&b, "\n⚠️ %d file(s) failed", n)
	}
	return b.String()
}

func submissionErrorText(err error) string {
	if err == nil {
		return "❌ Error creating ticket"
	}
	reason := err.Error()
	var se *submit.SubmissionError
	if errors.As(err, &se) {
		reason = se.Reason()
	}
	return "❌ Error creating ticket: " + reason
}
