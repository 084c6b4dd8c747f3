package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/camppoia/leozera/internal/conversation"
	"github.com/camppoia/leozera/internal/events"
)

// handleTimeout bounds how long a single inbound message may be
// processed (conversation turn + reply send).
const handleTimeout = 5 * time.Minute

// rateWindow is the sliding window for per-sender rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// dedupeTTL is how long a provider message id is remembered.
const dedupeTTL = 10 * time.Minute

// TurnHandler runs one conversation turn. The real implementation is
// *conversation.Engine.
type TurnHandler interface {
	HandleTurn(ctx context.Context, threadID, text string) (*conversation.Result, error)
}

// Channel sends text to a chat.
type Channel interface {
	SendText(ctx context.Context, chatID, text string) error
}

// Typer is implemented by channels that can show a typing indicator.
type Typer interface {
	StartTyping(ctx context.Context, chatID string) error
	StopTyping(ctx context.Context, chatID string) error
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Turns       TurnHandler
	Channel     Channel
	Events      *events.Bus
	Logger      *slog.Logger
	RateLimit   int           // per chat per minute; 0 = unlimited
	TypingDelay time.Duration // pause with the typing indicator on before replying
}

// Bridge routes inbound WhatsApp messages through the conversation
// engine and sends the replies back. Turns of one chat run one at a
// time; different chats run concurrently.
type Bridge struct {
	turns       TurnHandler
	channel     Channel
	events      *events.Bus
	logger      *slog.Logger
	rateLimit   int
	typingDelay time.Duration

	seen   *ristretto.Cache
	seenMu sync.Mutex

	locks *keyedMutex

	mu          sync.Mutex
	senderTimes map[string][]time.Time
	lastCleanup time.Time
}

// NewBridge creates a WhatsApp bridge.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seen, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        100_000,
		MaxCost:            10_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Bridge{
		turns:       cfg.Turns,
		channel:     cfg.Channel,
		events:      cfg.Events,
		logger:      logger,
		rateLimit:   cfg.RateLimit,
		typingDelay: cfg.TypingDelay,
		seen:        seen,
		locks:       newKeyedMutex(),
		senderTimes: make(map[string][]time.Time),
	}, nil
}

// Close releases the dedupe cache.
func (b *Bridge) Close() {
	b.seen.Close()
}

// Handle processes one inbound message and reports whether it was
// answered. Duplicate and rate-limited deliveries are dropped.
func (b *Bridge) Handle(ctx context.Context, in Inbound) bool {
	log := b.logger.With("thread_id", in.ChatID, "provider", in.Provider)

	if b.duplicate(in.MessageID) {
		log.Debug("duplicate delivery ignored", "message_id", in.MessageID)
		return false
	}
	if !b.allowSender(in.ChatID) {
		log.Warn("whatsapp message rate-limited")
		return false
	}

	unlock := b.locks.Lock(in.ChatID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	b.publish(events.KindMessageReceived, map[string]any{
		"thread_id":   in.ChatID,
		"provider":    in.Provider,
		"message_len": len(in.Text),
	})
	log.Info("whatsapp message received", "message_len", len(in.Text))

	res, err := b.turns.HandleTurn(ctx, in.ChatID, in.Text)
	if err != nil {
		log.Error("conversation turn failed", "error", err)
		return false
	}
	if res.Reply == "" {
		log.Debug("turn produced no reply", "final", res.Final)
		return false
	}

	reply := FormatReply(res.Reply)
	if err := b.deliver(ctx, in.ChatID, reply); err != nil {
		log.Error("whatsapp reply send failed", "error", err)
		return false
	}

	b.publish(events.KindMessageSent, map[string]any{
		"thread_id":    in.ChatID,
		"response_len": len(reply),
	})
	log.Info("whatsapp reply sent", "response_len", len(reply), "final", res.Final)
	return true
}

// deliver sends reply wrapped in a typing indicator when the channel
// supports one.
func (b *Bridge) deliver(ctx context.Context, chatID, reply string) error {
	typer, ok := b.channel.(Typer)
	if ok {
		if err := typer.StartTyping(ctx, chatID); err != nil {
			b.logger.Debug("whatsapp typing indicator failed", "thread_id", chatID, "error", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := typer.StopTyping(stopCtx, chatID); err != nil {
				b.logger.Debug("whatsapp typing stop failed", "thread_id", chatID, "error", err)
			}
		}()
		if b.typingDelay > 0 {
			timer := time.NewTimer(b.typingDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return b.channel.SendText(ctx, chatID, reply)
}

// duplicate reports whether id was seen within dedupeTTL, recording it
// otherwise. Empty ids are never duplicates.
func (b *Bridge) duplicate(id string) bool {
	if id == "" {
		return false
	}
	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	if _, ok := b.seen.Get(id); ok {
		return true
	}
	b.seen.SetWithTTL(id, struct{}{}, 1, dedupeTTL)
	b.seen.Wait()
	return false
}

// allowSender checks whether the sender is within the per-minute rate
// limit. Returns true if the message should be processed.
func (b *Bridge) allowSender(senderID string) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	timestamps := b.senderTimes[senderID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= b.rateLimit {
		b.senderTimes[senderID] = valid
		return false
	}

	b.senderTimes[senderID] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts stale sender entries. Must be called with
// b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for sender, timestamps := range b.senderTimes {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1].Before(cutoff) {
			delete(b.senderTimes, sender)
		}
	}
}

func (b *Bridge) publish(kind string, data map[string]any) {
	b.events.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceWhatsApp,
		Kind:      kind,
		Data:      data,
	})
}

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
