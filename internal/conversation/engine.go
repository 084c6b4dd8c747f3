// Package conversation runs one inbound WhatsApp message through the
// assistant: identity resolution, plan enforcement, the model call and
// tool dispatch. A turn is an explicit state machine (see [Next]);
// the per-thread state is restored from and saved to a checkpoint.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/camppoia/leozera/internal/checkpoint"
	"github.com/camppoia/leozera/internal/dates"
	"github.com/camppoia/leozera/internal/events"
	"github.com/camppoia/leozera/internal/llm"
	"github.com/camppoia/leozera/internal/prompts"
	"github.com/camppoia/leozera/internal/tools"
	"github.com/camppoia/leozera/internal/users"
)

// Directory is the subset of the user directory a turn needs.
type Directory interface {
	FindByPhone(ctx context.Context, phone string) (*users.User, error)
	FindByEmail(ctx context.Context, email string) (*users.User, error)
	FindByID(ctx context.Context, id string) (*users.User, error)
	Downgrade(ctx context.Context, id string, at time.Time) (bool, error)
}

// StateStore persists thread state between turns.
type StateStore interface {
	Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error)
	Save(ctx context.Context, threadID string, state *checkpoint.State) (*checkpoint.Checkpoint, error)
}

// ToolRunner lists and executes the assistant's tools.
type ToolRunner interface {
	List() []map[string]any
	Execute(ctx context.Context, name string, args map[string]any, caller tools.Caller) (string, error)
}

// Config tunes the engine.
type Config struct {
	Model            string
	Temperature      float64 // zero leaves the provider default
	RegistrationLink string
	PlansLink        string
	MaxHistory       int // messages replayed to the model; zero = unlimited
	MaxToolRounds    int // tool dispatches per turn; zero = unlimited
	// EmailTrialDowngrade lets the assistant turn downgrade a lapsed
	// trial resolved by email. Off, the email path skips plan checks.
	EmailTrialDowngrade bool
}

// Deps are the collaborators of an [Engine].
type Deps struct {
	Users    Directory
	Tools    ToolRunner
	LLM      llm.Client
	State    StateStore
	Resolver *dates.Resolver
	Events   *events.Bus
	Logger   *slog.Logger
}

// Engine runs conversation turns. It holds no per-thread state; callers
// serialise turns of the same thread.
type Engine struct {
	users    Directory
	tools    ToolRunner
	llm      llm.Client
	state    StateStore
	resolver *dates.Resolver
	events   *events.Bus
	logger   *slog.Logger
	cfg      Config
}

// NewEngine creates an engine.
func NewEngine(d Deps, cfg Config) *Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Engine{
		users:    d.Users,
		tools:    d.Tools,
		llm:      d.LLM,
		state:    d.State,
		resolver: d.Resolver,
		events:   d.Events,
		logger:   d.Logger,
		cfg:      cfg,
	}
}

// Result is the outcome of one turn.
type Result struct {
	// Reply is the last assistant text of the turn, the message to
	// deliver to the user.
	Reply      string
	Final      Node
	Status     AuthStatus
	ToolRounds int
}

// turn is the working state of a single HandleTurn call.
type turn struct {
	threadID string
	identity Identity
	messages []llm.Message
	start    int // index of the first message appended this turn
	rounds   int
	logger   *slog.Logger
}

func (t *turn) say(text string) {
	t.messages = append(t.messages, llm.Message{Role: llm.RoleAssistant, Content: text})
}

// HandleTurn processes one inbound message on threadID and returns the
// reply. Lookup and model failures are absorbed into the conversation;
// the error return is reserved for a broken state machine.
func (e *Engine) HandleTurn(ctx context.Context, threadID, text string) (*Result, error) {
	started := time.Now()
	ctx = tools.WithConversationID(ctx, threadID)
	t := &turn{
		threadID: threadID,
		logger:   e.logger.With("conversation_id", threadID),
	}
	e.restore(ctx, t)
	t.start = len(t.messages)
	t.messages = append(t.messages, llm.Message{Role: llm.RoleUser, Content: text})

	e.publish(events.KindTurnStart, map[string]any{
		"conversation_id": threadID,
		"status":          string(t.identity.Status()),
	})

	node := NodeEntry
	for {
		ev := e.step(ctx, t, node)
		if node.Terminal() {
			break
		}
		next, err := Next(node, ev)
		if err != nil {
			return nil, fmt.Errorf("conversation %s: %w", threadID, err)
		}
		t.logger.Log(ctx, llm.LevelTrace, "transition", "from", node, "event", ev, "to", next)
		node = next
	}
	if t.rounds > 0 && lastReply(t.messages[t.start:]) == "" {
		t.logger.Warn("model ended tool rounds without a reply", "rounds", t.rounds)
		t.say(prompts.EmptyReply)
	}

	e.persist(ctx, t)

	res := &Result{
		Reply:      lastReply(t.messages[t.start:]),
		Final:      node,
		Status:     t.identity.Status(),
		ToolRounds: t.rounds,
	}
	e.publish(events.KindTurnComplete, map[string]any{
		"conversation_id": threadID,
		"final":           node.String(),
		"status":          string(res.Status),
		"tool_rounds":     t.rounds,
		"elapsed_ms":      time.Since(started).Milliseconds(),
	})
	t.logger.Info("turn complete",
		"final", node,
		"status", res.Status,
		"tool_rounds", t.rounds,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return res, nil
}

func (e *Engine) restore(ctx context.Context, t *turn) {
	cp, err := e.state.Load(ctx, t.threadID)
	if err != nil {
		t.logger.Warn("checkpoint load failed, starting fresh", "error", err)
		return
	}
	if cp == nil || cp.State == nil {
		return
	}
	t.identity = identityFromInfo(cp.State.User)
	t.messages = cp.State.Messages
}

func (e *Engine) persist(ctx context.Context, t *turn) {
	state := &checkpoint.State{
		Messages: trimHistory(t.messages, e.cfg.MaxHistory),
		User:     t.identity.Info(),
	}
	if _, err := e.state.Save(ctx, t.threadID, state); err != nil {
		t.logger.Error("checkpoint save failed", "error", err)
	}
}

// step runs node and reports its outcome.
func (e *Engine) step(ctx context.Context, t *turn, node Node) Event {
	switch node {
	case NodeEntry:
		return EvDone
	case NodeIdentityCheck:
		return e.identityCheck(ctx, t)
	case NodePlanCheck:
		return e.planCheck(ctx, t)
	case NodeAskEmail:
		t.say(prompts.AskEmail)
		return EvDone
	case NodeEmailCheck:
		e.emailCheck(ctx, t)
		return EvDone
	case NodeAssistantTurn:
		return e.assistantTurn(ctx, t)
	case NodeToolDispatch:
		e.dispatchTools(ctx, t)
		return EvDone
	case NodeBlocked:
		t.say(prompts.PlanExpired)
	}
	return EvDone
}

// identityCheck resolves the sender from the thread id. A thread that
// is already Active keeps its identity without a lookup.
func (e *Engine) identityCheck(ctx context.Context, t *turn) Event {
	if t.identity.IsActive() {
		return EvActive
	}

	phone, ok := PhoneFromThreadID(t.threadID)
	if !ok {
		t.identity = PendingIdentity(NeedsEmail, Profile{})
		return EvNeedsEmail
	}

	u, err := e.users.FindByPhone(ctx, phone)
	if err != nil {
		t.logger.Warn("user lookup by phone failed", "error", err)
		t.identity = PendingIdentity(NeedsRegistration, Profile{})
		return EvOther
	}
	if u == nil {
		t.say(prompts.Registration(e.cfg.RegistrationLink))
		t.identity = PendingIdentity(NeedsRegistration, Profile{Phone: phone})
		t.logger.Info("unknown phone, registration requested")
		return EvOther
	}

	p := profileFromUser(u)
	p.Phone = phone
	id, err := ActiveIdentity(u.ID, p)
	if err != nil {
		t.logger.Warn("user record without id", "error", err)
		t.identity = PendingIdentity(NeedsRegistration, Profile{Phone: phone})
		return EvOther
	}
	t.identity = id
	t.logger.Info("user identified by phone", "user_id", u.ID)
	return EvActive
}

// planCheck reloads the subscription and downgrades a lapsed plan.
// Missing data never blocks: no id, no record, no expiry or a lookup
// error all count as an active plan.
func (e *Engine) planCheck(ctx context.Context, t *turn) Event {
	userID := t.identity.UserID()
	if userID == "" {
		return EvPlanActive
	}
	u, err := e.users.FindByID(ctx, userID)
	if err != nil {
		t.logger.Warn("plan lookup failed", "user_id", userID, "error", err)
		return EvPlanActive
	}
	if u == nil {
		return EvPlanActive
	}
	t.identity.refreshPlan(u)
	if u.PlanExpiresAt == nil {
		return EvPlanActive
	}

	now := e.resolver.Now()
	if !u.Expired(now) {
		return EvPlanActive
	}
	if _, err := e.users.Downgrade(ctx, userID, now); err != nil {
		t.logger.Error("plan downgrade failed", "user_id", userID, "error", err)
	}
	t.identity.markDowngraded()
	t.logger.Info("plan expired", "user_id", userID, "expired_at", u.PlanExpiresAt)
	return EvPlanExpired
}

// emailCheck resolves the sender from an email typed in the latest
// user message. A found user becomes Active without a plan check.
func (e *Engine) emailCheck(ctx context.Context, t *turn) {
	email := latestUserText(t.messages)
	if email == "" {
		return
	}
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		t.say(prompts.InvalidEmail)
		return
	}

	u, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		t.logger.Warn("user lookup by email failed", "error", err)
		t.identity = PendingIdentity(NeedsRegistration, Profile{Email: email})
		return
	}
	if u == nil {
		t.say(prompts.EmailNotRegistered(email, e.cfg.RegistrationLink))
		t.identity = PendingIdentity(NeedsRegistration, Profile{Email: email})
		t.logger.Info("email not registered")
		return
	}

	p := profileFromUser(u)
	p.Email = email
	id, err := ActiveIdentity(u.ID, p)
	if err != nil {
		t.identity = PendingIdentity(NeedsRegistration, Profile{Email: email})
		return
	}
	t.identity = id
	t.logger.Info("user identified by email", "user_id", u.ID)
}

// assistantTurn asks the model for the next message. Tools are offered
// only to an Active, unblocked user.
func (e *Engine) assistantTurn(ctx context.Context, t *turn) Event {
	if e.cfg.MaxToolRounds > 0 && t.rounds >= e.cfg.MaxToolRounds {
		t.logger.Warn("tool round limit reached", "rounds", t.rounds)
		t.say(prompts.TryAgain)
		return EvNoToolCalls
	}

	now := e.resolver.Now()
	e.expireTrial(ctx, t, now)
	blocked := t.identity.Blocked()

	system := prompts.SystemPrompt(e.cfg.RegistrationLink, prompts.UserContext{
		Name:               t.identity.Name,
		Phone:              t.identity.Phone,
		Status:             string(t.identity.Status()),
		Plan:               string(t.identity.Plan),
		SubscriptionStatus: t.identity.SubscriptionStatus,
		Blocked:            blocked,
		Today:              dates.FormatDate(now),
		PlansLink:          e.cfg.PlansLink,
	})
	msgs := make([]llm.Message, 0, len(t.messages)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, trimHistory(t.messages, e.cfg.MaxHistory)...)

	var toolDefs []map[string]any
	if t.identity.IsActive() && !blocked {
		toolDefs = e.tools.List()
	}

	var opts []llm.ChatOption
	if e.cfg.Temperature > 0 {
		opts = append(opts, llm.WithTemperature(e.cfg.Temperature))
	}

	e.publish(events.KindLLMCall, map[string]any{
		"conversation_id": t.threadID,
		"round":           t.rounds,
		"model":           e.cfg.Model,
		"tools":           len(toolDefs),
	})
	t.logger.Debug("calling LLM", "model", e.cfg.Model, "messages", len(msgs), "tools", len(toolDefs))

	resp, err := e.llm.Chat(ctx, e.cfg.Model, msgs, toolDefs, opts...)
	if err != nil {
		t.logger.Error("LLM call failed", "error", err)
		t.say(prompts.TryAgain)
		return EvNoToolCalls
	}

	reply := resp.Message
	reply.Role = llm.RoleAssistant
	t.messages = append(t.messages, reply)
	t.logger.Debug("LLM response",
		"model", resp.Model,
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
		"tool_calls", len(reply.ToolCalls),
	)
	if len(reply.ToolCalls) > 0 {
		return EvToolCalls
	}
	return EvNoToolCalls
}

// expireTrial downgrades a lapsed trial that reached the assistant
// without a plan check (the email path) when EmailTrialDowngrade is set.
func (e *Engine) expireTrial(ctx context.Context, t *turn, now time.Time) {
	id := &t.identity
	if !e.cfg.EmailTrialDowngrade || !id.IsActive() || id.Plan != users.PlanTrial || id.PlanExpiresAt == nil || !id.PlanExpiresAt.Before(now) {
		return
	}
	if _, err := e.users.Downgrade(ctx, id.UserID(), now); err != nil {
		t.logger.Error("trial downgrade failed", "user_id", id.UserID(), "error", err)
	}
	id.markDowngraded()
}

// dispatchTools answers every tool call of the last assistant message.
// Identity and plan are checked again per call.
func (e *Engine) dispatchTools(ctx context.Context, t *turn) {
	t.rounds++
	last := t.messages[len(t.messages)-1]

	for _, call := range last.ToolCalls {
		callCtx := tools.WithToolCallID(ctx, call.ID)
		e.publish(events.KindToolCall, map[string]any{
			"conversation_id": t.threadID,
			"tool":            call.Name,
		})
		start := time.Now()

		var (
			content string
			ok      = true
		)
		switch {
		case !t.identity.IsActive():
			content, ok = prompts.ToolNeedsRegistration, false
		case t.identity.Plan == users.PlanNone:
			content, ok = prompts.ToolNeedsPlan, false
		default:
			res, err := e.tools.Execute(callCtx, call.Name, call.Arguments, t.identity.Caller())
			if err != nil {
				ok = false
				content = "Erro: " + err.Error()
				var unavailable *tools.ErrToolUnavailable
				if errors.As(err, &unavailable) {
					t.logger.Warn("model requested unknown tool", "tool", call.Name)
				} else {
					t.logger.Error("tool failed", "tool", call.Name, "user_id", t.identity.UserID(), "error", err)
				}
			} else {
				content = res
			}
		}

		t.messages = append(t.messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Name:       call.Name,
		})
		e.publish(events.KindToolDone, map[string]any{
			"conversation_id": t.threadID,
			"tool":            call.Name,
			"ok":              ok,
			"duration_ms":     time.Since(start).Milliseconds(),
		})
		t.logger.Info("tool executed", "tool", call.Name, "ok", ok, "elapsed", time.Since(start).Round(time.Millisecond))
	}
}

func (e *Engine) publish(kind string, data map[string]any) {
	e.events.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceConversation,
		Kind:      kind,
		Data:      data,
	})
}

func latestUserText(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return strings.ToLower(strings.TrimSpace(msgs[i].Content))
		}
	}
	return ""
}

func lastReply(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleAssistant && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content
		}
	}
	return ""
}

// trimHistory keeps at most limit trailing messages. The cut moves
// forward past tool results so no result is separated from the
// assistant message that requested it.
func trimHistory(msgs []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	start := len(msgs) - limit
	for start < len(msgs) && msgs[start].Role == llm.RoleTool {
		start++
	}
	return msgs[start:]
}
