package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/camppoia/leozera/internal/buildinfo"
	"github.com/camppoia/leozera/internal/config"
	"github.com/camppoia/leozera/internal/events"
)

// statusInterval is how often the retained status document is
// refreshed.
const statusInterval = time.Minute

// eventBuffer is the bus subscription depth. Events beyond it are
// dropped by the bus rather than blocking publishers.
const eventBuffer = 256

// client is the subset of the connection manager the publisher uses.
type client interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Status is the retained status document.
type Status struct {
	Device    string           `json:"device"`
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	UpdatedAt time.Time        `json:"updated_at"`
	Today     map[string]int64 `json:"today"`
	Dropped   uint64           `json:"dropped_events"`
}

// Publisher manages the MQTT connection and forwards bus events to it.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	bus      *events.Bus
	counters *DailyCounters
	logger   *slog.Logger
	cm       *autopaho.ConnectionManager
	client   client
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect and begin forwarding.
func New(cfg config.MQTTConfig, clientID string, bus *events.Bus, counters *DailyCounters, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = NewDailyCounters(nil)
	}
	return &Publisher{
		cfg:      cfg,
		clientID: clientID,
		bus:      bus,
		counters: counters,
		logger:   logger,
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	p.client = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.run(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return strings.Trim(p.cfg.TopicPrefix, "/") + "/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) statusTopic() string {
	return p.baseTopic() + "/status"
}

func (p *Publisher) eventTopic(e events.Event) string {
	source, kind := e.Source, e.Kind
	if source == "" {
		source = "unknown"
	}
	if kind == "" {
		kind = "unknown"
	}
	return p.baseTopic() + "/events/" + source + "/" + kind
}

// --- Forwarding ---

func (p *Publisher) run(ctx context.Context) {
	ch := p.bus.Subscribe(eventBuffer)
	defer p.bus.Unsubscribe(ch)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	p.publishStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.forward(ctx, e)
		case <-ticker.C:
			p.publishStatus(ctx)
		}
	}
}

// forward counts e and publishes it as a non-retained JSON message.
func (p *Publisher) forward(ctx context.Context, e events.Event) {
	p.counters.Inc(e.Kind)
	if p.client == nil {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := p.eventTopic(e)
	if _, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
	}
}

func (p *Publisher) status() Status {
	return Status{
		Device:    p.cfg.DeviceName,
		Version:   buildinfo.Version,
		Uptime:    buildinfo.Uptime().String(),
		UpdatedAt: time.Now().UTC(),
		Today:     p.counters.Snapshot(),
		Dropped:   p.bus.Dropped(),
	}
}

func (p *Publisher) publishStatus(ctx context.Context) {
	if p.client == nil {
		return
	}
	payload, err := json.Marshal(p.status())
	if err != nil {
		p.logger.Error("mqtt marshal status", "error", err)
		return
	}
	if _, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   p.statusTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt status publish failed", "error", err)
		return
	}
	p.logger.Log(ctx, config.LevelTrace, "mqtt status published")
}

func (p *Publisher) publishAvailability(ctx context.Context, c client, status string) {
	if _, err := c.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}
