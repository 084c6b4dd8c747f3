package conversation

import "fmt"

// Node is a step of a conversation turn.
type Node int

// Nodes.
const (
	NodeEntry Node = iota
	NodeIdentityCheck
	NodePlanCheck
	NodeAskEmail
	NodeEmailCheck
	NodeAssistantTurn
	NodeToolDispatch
	NodeEnd
	NodeBlocked
)

var nodeNames = [...]string{
	NodeEntry:         "entry",
	NodeIdentityCheck: "identity_check",
	NodePlanCheck:     "plan_check",
	NodeAskEmail:      "ask_email",
	NodeEmailCheck:    "email_check",
	NodeAssistantTurn: "assistant_turn",
	NodeToolDispatch:  "tool_dispatch",
	NodeEnd:           "end",
	NodeBlocked:       "blocked_terminal",
}

func (n Node) String() string {
	if n >= 0 && int(n) < len(nodeNames) {
		return nodeNames[n]
	}
	return fmt.Sprintf("node(%d)", int(n))
}

// Terminal reports whether a turn stops at n.
func (n Node) Terminal() bool { return n == NodeEnd || n == NodeBlocked }

// Event is the outcome of running a node.
type Event int

// Events.
const (
	EvDone Event = iota
	EvActive
	EvNeedsEmail
	EvOther
	EvPlanActive
	EvPlanExpired
	EvToolCalls
	EvNoToolCalls
)

var eventNames = [...]string{
	EvDone:        "done",
	EvActive:      "active",
	EvNeedsEmail:  "needs_email",
	EvOther:       "other",
	EvPlanActive:  "plan_active",
	EvPlanExpired: "plan_expired",
	EvToolCalls:   "tool_calls",
	EvNoToolCalls: "no_tool_calls",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

type edge struct {
	from Node
	on   Event
}

// transitions is the whole turn graph. The email path goes straight to
// the assistant without a plan check.
var transitions = map[edge]Node{
	{NodeEntry, EvDone}: NodeIdentityCheck,

	{NodeIdentityCheck, EvActive}:     NodePlanCheck,
	{NodeIdentityCheck, EvNeedsEmail}: NodeAskEmail,
	{NodeIdentityCheck, EvOther}:      NodeAssistantTurn,

	{NodePlanCheck, EvPlanActive}:  NodeAssistantTurn,
	{NodePlanCheck, EvPlanExpired}: NodeBlocked,

	{NodeAskEmail, EvDone}:   NodeEmailCheck,
	{NodeEmailCheck, EvDone}: NodeAssistantTurn,

	{NodeAssistantTurn, EvToolCalls}:   NodeToolDispatch,
	{NodeAssistantTurn, EvNoToolCalls}: NodeEnd,

	{NodeToolDispatch, EvDone}: NodeAssistantTurn,
}

// Next returns the node that follows from on ev. Terminal nodes and
// events a node does not emit are errors.
func Next(from Node, ev Event) (Node, error) {
	if from.Terminal() {
		return from, fmt.Errorf("no transition out of terminal node %s", from)
	}
	to, ok := transitions[edge{from, ev}]
	if !ok {
		return from, fmt.Errorf("no transition from %s on %s", from, ev)
	}
	return to, nil
}
