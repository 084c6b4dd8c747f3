package conversation

import (
	"errors"
	"strings"
	"time"

	"github.com/camppoia/leozera/internal/checkpoint"
	"github.com/camppoia/leozera/internal/tools"
	"github.com/camppoia/leozera/internal/users"
)

// AuthStatus is how far identity resolution got for a thread.
type AuthStatus string

// Statuses. The string values are the ones stored in checkpoints.
const (
	Unresolved        AuthStatus = ""
	NeedsEmail        AuthStatus = "precisa_email"
	NeedsRegistration AuthStatus = "precisa_cadastro"
	Active            AuthStatus = "ativo"
)

// ErrNoUserID is returned when activating an identity without a user id.
var ErrNoUserID = errors.New("active identity requires a user id")

// Profile is the descriptive part of an identity.
type Profile struct {
	Name               string
	Phone              string
	Email              string
	Plan               users.Plan
	SubscriptionStatus string
	PlanExpiresAt      *time.Time
}

// Identity is the resolved sender of a thread. Status and user id are
// only settable through [ActiveIdentity] and [PendingIdentity], so an
// Active identity always carries a user id.
type Identity struct {
	Profile
	status AuthStatus
	userID string
}

// ActiveIdentity returns an Active identity for userID.
func ActiveIdentity(userID string, p Profile) (Identity, error) {
	if strings.TrimSpace(userID) == "" {
		return Identity{}, ErrNoUserID
	}
	return Identity{Profile: p, status: Active, userID: userID}, nil
}

// PendingIdentity returns an identity that has not been resolved to a
// user. Asking for Active here yields NeedsRegistration.
func PendingIdentity(status AuthStatus, p Profile) Identity {
	if status == Active {
		status = NeedsRegistration
	}
	return Identity{Profile: p, status: status}
}

// Status reports the resolution status.
func (i Identity) Status() AuthStatus { return i.status }

// UserID is the directory id, empty unless Active.
func (i Identity) UserID() string { return i.userID }

// IsActive reports whether the sender is a known user.
func (i Identity) IsActive() bool { return i.status == Active }

// Blocked reports whether paid features must be withheld.
func (i Identity) Blocked() bool {
	return i.Plan == users.PlanNone ||
		i.SubscriptionStatus == users.SubscriptionOverdue ||
		i.SubscriptionStatus == users.SubscriptionInactive
}

func (i *Identity) refreshPlan(u *users.User) {
	i.Plan = u.Plan
	i.SubscriptionStatus = u.SubscriptionStatus
	i.PlanExpiresAt = u.PlanExpiresAt
}

func (i *Identity) markDowngraded() {
	i.Plan = users.PlanNone
	i.SubscriptionStatus = users.SubscriptionInactive
}

// Caller is the tool-facing snapshot of i.
func (i Identity) Caller() tools.Caller {
	return tools.Caller{
		UserID: i.userID,
		Name:   i.Name,
		Phone:  i.Phone,
		Email:  i.Email,
		Status: string(i.status),
		Plan:   string(i.Plan),
	}
}

// Info converts i to its checkpoint form.
func (i Identity) Info() checkpoint.UserInfo {
	return checkpoint.UserInfo{
		Name:               i.Name,
		Phone:              i.Phone,
		Email:              i.Email,
		UserID:             i.userID,
		Status:             string(i.status),
		Plan:               string(i.Plan),
		SubscriptionStatus: i.SubscriptionStatus,
		PlanExpiresAt:      i.PlanExpiresAt,
	}
}

// identityFromInfo restores a checkpointed identity. A stored "ativo"
// without a user id comes back Unresolved so it is looked up again.
func identityFromInfo(info checkpoint.UserInfo) Identity {
	p := Profile{
		Name:               info.Name,
		Phone:              info.Phone,
		Email:              info.Email,
		Plan:               users.Plan(info.Plan),
		SubscriptionStatus: info.SubscriptionStatus,
		PlanExpiresAt:      info.PlanExpiresAt,
	}
	status := AuthStatus(info.Status)
	if status == Active {
		id, err := ActiveIdentity(info.UserID, p)
		if err != nil {
			return PendingIdentity(Unresolved, p)
		}
		return id
	}
	return PendingIdentity(status, p)
}

func profileFromUser(u *users.User) Profile {
	return Profile{
		Name:               u.Name,
		Phone:              u.Phone,
		Email:              u.Email,
		Plan:               u.Plan,
		SubscriptionStatus: u.SubscriptionStatus,
		PlanExpiresAt:      u.PlanExpiresAt,
	}
}

// PhoneFromThreadID extracts the national phone number from a WhatsApp
// chat id such as 5511987654321@c.us: the suffix and the two-digit
// country code are dropped. Ids without @c.us (for example @lid) and
// numbers shorter than ten digits report false.
func PhoneFromThreadID(threadID string) (string, bool) {
	if !strings.Contains(threadID, "@c.us") {
		return "", false
	}
	bare := strings.ReplaceAll(threadID, "@c.us", "")
	if len(bare) <= 2 {
		return "", false
	}
	phone := bare[2:]
	if len(phone) < 10 {
		return "", false
	}
	return phone, true
}
