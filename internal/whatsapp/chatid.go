// Package whatsapp connects the conversation engine to WhatsApp through
// a WAHA (WhatsApp HTTP API) instance or Twilio, in both directions.
package whatsapp

import (
	"strings"
)

// Chat id suffixes used by WhatsApp gateways.
const (
	userSuffix      = "@c.us"
	lidSuffix       = "@lid"
	groupSuffix     = "@g.us"
	jidSuffix       = "@s.whatsapp.net"
	statusBroadcast = "status@broadcast"
)

// countryCode is prepended to national numbers.
const countryCode = "55"

// LIDNamespace is the opstate namespace mapping @lid ids to chat ids.
const LIDNamespace = "whatsapp_lid"

// ChatID returns the WhatsApp chat id for a national phone number.
func ChatID(phone string) string {
	return countryCode + digits(phone) + userSuffix
}

// ChatIDFromJID converts a "number@s.whatsapp.net" jid to a chat id.
func ChatIDFromJID(jid string) string {
	return strings.TrimSuffix(jid, jidSuffix) + userSuffix
}

// IsLID reports whether chatID is a linked-device id that must be
// resolved before it can identify a user.
func IsLID(chatID string) bool {
	return strings.HasSuffix(chatID, lidSuffix)
}

// Ignored reports whether messages from chatID are never answered:
// groups and status broadcasts.
func Ignored(chatID string) bool {
	return strings.Contains(chatID, groupSuffix) || strings.Contains(chatID, statusBroadcast)
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
