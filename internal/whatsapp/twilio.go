package whatsapp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const twilioPrefix = "whatsapp:"

// messageCreator is the part of the Twilio REST API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioClient sends WhatsApp messages through Twilio.
type TwilioClient struct {
	api  messageCreator
	from string // whatsapp:+E164
}

// NewTwilioClient creates a client for accountSID. from is the Twilio
// WhatsApp sender in E.164, with or without the "whatsapp:" prefix.
func NewTwilioClient(accountSID, authToken, from string) *TwilioClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioClient{api: client.Api, from: twilioAddress(from)}
}

// SendText sends text to chatID. The Twilio API call does not take a
// context; ctx is only checked before the request.
func (c *TwilioClient) SendText(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(c.from)
	params.SetTo(twilioAddress(strings.TrimSuffix(chatID, userSuffix)))
	params.SetBody(text)

	if _, err := c.api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send to %s: %w", chatID, err)
	}
	return nil
}

// Send delivers text to a national phone number.
func (c *TwilioClient) Send(ctx context.Context, phone, text string) error {
	return c.SendText(ctx, ChatID(phone), text)
}

// twilioAddress renders a number as "whatsapp:+<digits>".
func twilioAddress(number string) string {
	return twilioPrefix + "+" + digits(strings.TrimPrefix(number, twilioPrefix))
}

// ParseTwilioForm reads an inbound Twilio WhatsApp webhook form. It
// reports false for deliveries that carry no text.
func ParseTwilioForm(form url.Values) (Inbound, bool) {
	from := digits(strings.TrimPrefix(form.Get("From"), twilioPrefix))
	body := strings.TrimSpace(form.Get("Body"))
	if from == "" || body == "" {
		return Inbound{}, false
	}
	return Inbound{
		ChatID:    from + userSuffix,
		Text:      body,
		MessageID: form.Get("MessageSid"),
		Provider:  "twilio",
	}, true
}
