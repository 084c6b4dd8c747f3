// Package checkpoint persists per-thread conversation state so a
// WhatsApp conversation resumes where it left off.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/camppoia/leozera/internal/llm"
)

// UserInfo is the identity and plan snapshot carried by a thread.
type UserInfo struct {
	Name               string     `json:"nome,omitempty"`
	Phone              string     `json:"telefone,omitempty"`
	Email              string     `json:"email,omitempty"`
	UserID             string     `json:"user_id,omitempty"`
	Status             string     `json:"status,omitempty"`
	Plan               string     `json:"plano,omitempty"`
	SubscriptionStatus string     `json:"status_assinatura,omitempty"`
	PlanExpiresAt      *time.Time `json:"data_vencimento_plano,omitempty"`
}

// State is the restorable data of one thread.
type State struct {
	Messages []llm.Message `json:"messages"`
	User     UserInfo      `json:"user_info"`
}

// Checkpoint is the stored state of one thread.
type Checkpoint struct {
	ThreadID  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Turns     int // saves since the thread was created

	// Captured state; nil when listed without state.
	State *State

	ByteSize     int64 // compressed size
	MessageCount int
}

// StartupStatus summarises stored threads for the startup log.
type StartupStatus struct {
	Threads    int
	Messages   int
	LastUpdate *time.Time
}

// Summary returns a one-line human description of the checkpoint.
func (c *Checkpoint) Summary() string {
	return fmt.Sprintf("%s | %s | %d turns | %s",
		c.ThreadID,
		c.UpdatedAt.Format("2006-01-02 15:04"),
		c.Turns,
		formatCount(c.MessageCount, "msg"),
	)
}

func formatCount(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
