// Package config handles Leozera configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/leozera/config.yaml,
// /etc/leozera/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "leozera", "config.yaml"))
	}

	paths = append(paths, "/etc/leozera/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Leozera configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	DataDir      string             `yaml:"data_dir"`
	Database     DatabaseConfig     `yaml:"database"`
	Timezone     string             `yaml:"timezone"`
	LLM          LLMConfig          `yaml:"llm"`
	WhatsApp     WhatsAppConfig     `yaml:"whatsapp"`
	Links        LinksConfig        `yaml:"links"`
	Conversation ConversationConfig `yaml:"conversation"`
	Reminders    RemindersConfig    `yaml:"reminders"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // text or json
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
	// WebhookToken, when set, must be presented as ?token= or the
	// X-Webhook-Token header on inbound webhooks.
	WebhookToken string `yaml:"webhook_token"`
	// AdminToken guards the /v1 operational API as a Bearer token or
	// the X-Admin-Token header. Empty means WebhookToken; with both
	// empty the API rejects every call.
	AdminToken string `yaml:"admin_token"`
}

// DatabaseConfig selects the SQLite driver and file.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
	Path   string `yaml:"path"`   // Default: <data_dir>/leozera.db
}

// LLMConfig defines the language model providers.
type LLMConfig struct {
	DefaultModel string          `yaml:"default_model"`
	OpenAI       OpenAIConfig    `yaml:"openai"`
	Anthropic    AnthropicConfig `yaml:"anthropic"`
	Models       []ModelConfig   `yaml:"models"`
	Temperature  float64         `yaml:"temperature"`
}

// OpenAIConfig covers any OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// ModelConfig maps a model name to its provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // openai, anthropic
}

// WhatsAppConfig defines the messaging channel.
type WhatsAppConfig struct {
	Provider    string        `yaml:"provider"` // waha or twilio
	WAHA        WAHAConfig    `yaml:"waha"`
	Twilio      TwilioConfig  `yaml:"twilio"`
	RateLimit   int           `yaml:"rate_limit"` // messages per sender per minute; 0 = unlimited
	TypingDelay time.Duration `yaml:"typing_delay"`
}

// WAHAConfig points at a WAHA (WhatsApp HTTP API) instance.
type WAHAConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Session string `yaml:"session"`
	// Inbound selects how messages arrive: "webhook" (default) or
	// "websocket" to subscribe to the WAHA event stream.
	Inbound string `yaml:"inbound"`
}

// TwilioConfig holds Twilio WhatsApp credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"` // E.164 sender, e.g. +14155238886
}

// LinksConfig holds the public URLs embedded in user-facing messages.
type LinksConfig struct {
	Registration string `yaml:"registration"`
	Plans        string `yaml:"plans"`
	Dashboard    string `yaml:"dashboard"`
}

// ConversationConfig bounds a single conversation turn.
type ConversationConfig struct {
	MaxHistory    int `yaml:"max_history"`
	MaxToolRounds int `yaml:"max_tool_rounds"`
	// EmailTrialDowngrade downgrades a lapsed trial that signed in by
	// email. Off by default: the email path runs no plan check.
	EmailTrialDowngrade bool `yaml:"email_trial_downgrade"`
}

// RemindersConfig sets the sweep cadences.
type RemindersConfig struct {
	Enabled           *bool         `yaml:"enabled"`
	AppointmentsEvery time.Duration `yaml:"appointments_every"`
	TrialEvery        time.Duration `yaml:"trial_every"`
	PlansEvery        time.Duration `yaml:"plans_every"`
}

// IsEnabled reports whether the reminder sweeps should be scheduled.
// Unset means enabled.
func (r RemindersConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// KnowledgeConfig points at the support material indexed for the
// knowledge lookup tool.
type KnowledgeConfig struct {
	Dir            string `yaml:"dir"`
	EmbeddingModel string `yaml:"embedding_model"` // OpenAI embedding model; empty = local hashing
}

// MQTTConfig enables forwarding operational events to a broker.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DeviceName  string `yaml:"device_name"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether a broker is set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "leozera.db")
	}
	if c.Timezone == "" {
		c.Timezone = "America/Sao_Paulo"
	}
	if c.LLM.DefaultModel == "" {
		c.LLM.DefaultModel = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.BaseURL == "" {
		c.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.WhatsApp.Provider == "" {
		c.WhatsApp.Provider = "waha"
	}
	if c.WhatsApp.WAHA.Session == "" {
		c.WhatsApp.WAHA.Session = "default"
	}
	if c.WhatsApp.WAHA.Inbound == "" {
		c.WhatsApp.WAHA.Inbound = "webhook"
	}
	if c.WhatsApp.RateLimit == 0 {
		c.WhatsApp.RateLimit = 20
	}
	if c.Links.Registration == "" {
		c.Links.Registration = "https://leozera.camppoia.com.br/login/"
	}
	if c.Links.Plans == "" {
		c.Links.Plans = "https://leozera.camppoia.com.br/planos/"
	}
	if c.Links.Dashboard == "" {
		c.Links.Dashboard = "https://leozera.camppoia.com.br/finance/dashboard/"
	}
	if c.Conversation.MaxHistory == 0 {
		c.Conversation.MaxHistory = 40
	}
	if c.Conversation.MaxToolRounds == 0 {
		c.Conversation.MaxToolRounds = 6
	}
	if c.Reminders.AppointmentsEvery == 0 {
		c.Reminders.AppointmentsEvery = 5 * time.Minute
	}
	if c.Reminders.TrialEvery == 0 {
		c.Reminders.TrialEvery = 10 * time.Minute
	}
	if c.Reminders.PlansEvery == 0 {
		c.Reminders.PlansEvery = 5 * time.Minute
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "leozera"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "leozera"
	}
}

// Validate reports configuration errors that would make the service
// unusable.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("database.driver %q not supported (valid: sqlite3, sqlite)", c.Database.Driver)
	}
	switch c.WhatsApp.Provider {
	case "waha", "twilio":
	default:
		return fmt.Errorf("whatsapp.provider %q not supported (valid: waha, twilio)", c.WhatsApp.Provider)
	}
	switch c.WhatsApp.WAHA.Inbound {
	case "webhook", "websocket":
	default:
		return fmt.Errorf("whatsapp.waha.inbound %q not supported (valid: webhook, websocket)", c.WhatsApp.WAHA.Inbound)
	}
	for _, m := range c.LLM.Models {
		switch strings.ToLower(m.Provider) {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("llm.models: %s has unknown provider %q", m.Name, m.Provider)
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
