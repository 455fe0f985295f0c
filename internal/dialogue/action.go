package dialogue

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionKind selects the handler for a button press.
type ActionKind string

const (
	ActMainMenu          ActionKind = "main_menu"
	ActReportProblem     ActionKind = "report_problem"
	ActConsultPolicies   ActionKind = "consult_policies"
	ActCategory          ActionKind = "category"
	ActSubcategory       ActionKind = "subcategory"
	ActSolved            ActionKind = "solved"
	ActEscalate          ActionKind = "escalate"
	ActFinalOptionSolved ActionKind = "final_option_solved"
	ActFinalOptionFailed ActionKind = "final_option_failed"
	ActSetPreference     ActionKind = "set_preference"
	ActPolicy            ActionKind = "policy"
)

type paramKind int

const (
	paramNone paramKind = iota
	paramKey
	paramIndex
)

var actionParams = map[ActionKind]paramKind{
	ActMainMenu:          paramNone,
	ActReportProblem:     paramNone,
	ActConsultPolicies:   paramNone,
	ActCategory:          paramKey,
	ActSubcategory:       paramKey,
	ActSolved:            paramNone,
	ActEscalate:          paramNone,
	ActFinalOptionSolved: paramIndex,
	ActFinalOptionFailed: paramIndex,
	ActSetPreference:     paramKey,
	ActPolicy:            paramKey,
}

// PreferenceNone is the set_preference key that requests auto-assignment.
const PreferenceNone = "none"

// Action is a parsed button token. Key is set for category, subcategory,
// set_preference and policy; Index for the final_option kinds.
type Action struct {
	Kind  ActionKind
	Key   string
	Index int
}

func (Action) isEvent() {}

// ParseAction parses a colon-delimited token of the form type[:param].
func ParseAction(token string) (Action, error) {
	parts := strings.Split(strings.TrimSpace(token), ":")
	kind := ActionKind(parts[0])
	params := parts[1:]

	pk, ok := actionParams[kind]
	if !ok {
		return Action{}, fmt.Errorf("dialogue: unknown action %q", parts[0])
	}

	switch pk {
	case paramNone:
		if len(params) != 0 {
			return Action{}, fmt.Errorf("dialogue: action %q takes no parameters", kind)
		}
		return Action{Kind: kind}, nil
	case paramKey:
		if len(params) != 1 || params[0] == "" {
			return Action{}, fmt.Errorf("dialogue: action %q needs exactly one key", kind)
		}
		return Action{Kind: kind, Key: params[0]}, nil
	default:
		if len(params) != 1 {
			return Action{}, fmt.Errorf("dialogue: action %q needs exactly one index", kind)
		}
		i, err := strconv.Atoi(params[0])
		if err != nil || i < 0 {
			return Action{}, fmt.Errorf("dialogue: action %q: invalid index %q", kind, params[0])
		}
		return Action{Kind: kind, Index: i}, nil
	}
}

// MustParseAction is like ParseAction but panics on error.
func MustParseAction(token string) Action {
	a, err := ParseAction(token)
	if err != nil {
		panic(err)
	}
	return a
}

// Token renders the action back into its wire form.
func (a Action) Token() string {
	switch actionParams[a.Kind] {
	case paramKey:
		return string(a.Kind) + ":" + a.Key
	case paramIndex:
		return string(a.Kind) + ":" + strconv.Itoa(a.Index)
	}
	return string(a.Kind)
}

func (a Action) String() string {
	return a.Token()
}
