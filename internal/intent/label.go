package intent

import "strings"

// Label is a closed intent category. Model output is parsed into a Label
// exactly once, at the classification boundary; everything downstream
// switches on the enum and never inspects raw strings.
type Label string

const (
	// Greeting covers salutations with no actionable request.
	Greeting Label = "greeting"
	// DirectTool covers requests for a specific helpdesk action.
	DirectTool Label = "direct_tool"
	// FAQ covers questions likely answered by the FAQ corpus.
	FAQ Label = "faq"
	// GeneralQA covers everything else that is a genuine question.
	GeneralQA Label = "general_qa"
	// Unknown is the sentinel for output that matched no category. It is
	// never routed directly; the workflow retries and then degrades to
	// GeneralQA.
	Unknown Label = "unknown"
)

// ParseLabel maps a raw model string to a Label. Leading and trailing space
// and letter case are forgiven; anything else unrecognized is Unknown.
func ParseLabel(s string) Label {
	switch Label(strings.ToLower(strings.TrimSpace(s))) {
	case Greeting:
		return Greeting
	case DirectTool:
		return DirectTool
	case FAQ:
		return FAQ
	case GeneralQA:
		return GeneralQA
	default:
		return Unknown
	}
}

// Routable reports whether the label can be routed without retrying.
func (l Label) Routable() bool {
	return l != Unknown
}
