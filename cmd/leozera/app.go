package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/camppoia/leozera/internal/appointments"
	"github.com/camppoia/leozera/internal/checkpoint"
	"github.com/camppoia/leozera/internal/config"
	"github.com/camppoia/leozera/internal/conversation"
	"github.com/camppoia/leozera/internal/database"
	"github.com/camppoia/leozera/internal/dates"
	"github.com/camppoia/leozera/internal/events"
	"github.com/camppoia/leozera/internal/knowledge"
	"github.com/camppoia/leozera/internal/llm"
	"github.com/camppoia/leozera/internal/opstate"
	"github.com/camppoia/leozera/internal/reminders"
	"github.com/camppoia/leozera/internal/scheduler"
	"github.com/camppoia/leozera/internal/tools"
	"github.com/camppoia/leozera/internal/transactions"
	"github.com/camppoia/leozera/internal/users"
	"github.com/camppoia/leozera/internal/whatsapp"
)

// Checkpoint retention for the daily prune job.
const (
	checkpointMaxIdle = 90 * 24 * time.Hour
	checkpointMinKeep = 500
)

// outbound is a WhatsApp channel that can also deliver reminders by
// phone number.
type outbound interface {
	whatsapp.Channel
	reminders.Sender
}

// app holds the components shared by serve, sweep and confirm.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loc    *time.Location
	db     *sql.DB
	bus    *events.Bus

	users        *users.Store
	appointments *appointments.Store
	transactions *transactions.Store
	checkpoints  *checkpoint.Store
	opstate      *opstate.Store
	runs         *scheduler.Store

	waha    *whatsapp.WAHAClient // nil unless whatsapp.provider is waha
	channel outbound
	sweeper *reminders.Sweeper
}

// newApp opens the database, migrates every store and builds the
// outbound channel and reminder sweeper.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, loc: loc, db: db, bus: events.New()}

	if err := a.openStores(); err != nil {
		db.Close()
		return nil, err
	}

	switch cfg.WhatsApp.Provider {
	case "twilio":
		tw := cfg.WhatsApp.Twilio
		a.channel = whatsapp.NewTwilioClient(tw.AccountSID, tw.AuthToken, tw.From)
	default:
		w := cfg.WhatsApp.WAHA
		a.waha = whatsapp.NewWAHAClient(w.BaseURL, w.APIKey, w.Session, logger)
		a.channel = a.waha
	}
	logger.Info("whatsapp channel configured", "provider", cfg.WhatsApp.Provider)

	a.sweeper = reminders.NewSweeper(a.appointments, a.users, a.channel, reminders.Options{
		PlansLink: cfg.Links.Plans,
		Events:    a.bus,
		Logger:    logger.With("component", "reminders"),
	})
	return a, nil
}

func (a *app) openStores() error {
	var err error
	if a.users, err = users.NewStore(a.db); err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	if a.appointments, err = appointments.NewStore(a.db, a.loc); err != nil {
		return fmt.Errorf("open appointment store: %w", err)
	}
	if a.transactions, err = transactions.NewStore(a.db, a.loc); err != nil {
		return fmt.Errorf("open transaction store: %w", err)
	}
	if a.checkpoints, err = checkpoint.NewStore(a.db); err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	if a.opstate, err = opstate.NewStore(a.db); err != nil {
		return fmt.Errorf("open operational state store: %w", err)
	}
	if a.runs, err = scheduler.NewStore(a.db); err != nil {
		return fmt.Errorf("open job run store: %w", err)
	}
	return nil
}

// Close releases the database.
func (a *app) Close() error {
	return a.db.Close()
}

// sweepJobs returns the reminder sweeps as scheduler jobs at their
// configured intervals.
func (a *app) sweepJobs() []scheduler.Job {
	r := a.cfg.Reminders
	return []scheduler.Job{
		{Name: "appointments", Every: r.AppointmentsEvery, Run: sweepRun(a.sweeper.SweepAppointments)},
		{Name: "trial_expiry", Every: r.TrialEvery, Run: sweepRun(a.sweeper.SweepTrialExpiry)},
		{Name: "plan_expiry", Every: r.PlansEvery, Run: sweepRun(a.sweeper.SweepPlanExpiry)},
	}
}

// pruneJob drops conversation state of long-idle threads once a day.
func (a *app) pruneJob() scheduler.Job {
	return scheduler.Job{
		Name:  "checkpoint_prune",
		Every: 24 * time.Hour,
		Run: func(ctx context.Context) (string, error) {
			n, err := a.checkpoints.Prune(ctx, checkpointMaxIdle, checkpointMinKeep)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("pruned=%d", n), nil
		},
	}
}

// sweepRun adapts a sweep to a job run func.
func sweepRun(sweep func(context.Context) (reminders.SweepReport, error)) scheduler.RunFunc {
	return func(ctx context.Context) (string, error) {
		r, err := sweep(ctx)
		return formatReport(r), err
	}
}

func formatReport(r reminders.SweepReport) string {
	return fmt.Sprintf("scanned=%d sent=%d downgraded=%d skipped=%d failed=%d",
		r.Scanned, r.Sent, r.Downgraded, r.Skipped, r.Failed)
}

// newEngine builds the conversation engine with every tool registered.
func (a *app) newEngine(ctx context.Context) (*conversation.Engine, error) {
	cfg := a.cfg
	client := createLLMClient(cfg, a.logger)
	resolver := dates.NewResolver(a.loc, nil)

	registry := tools.NewRegistry()
	tools.NewAppointmentTools(a.appointments, resolver, a.logger).Register(registry)
	chooser := tools.NewLLMCategoryChooser(client, cfg.LLM.DefaultModel)
	tools.NewTransactionTools(a.transactions, a.users, chooser, resolver, a.logger).Register(registry)

	index, err := a.loadKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	tools.RegisterKnowledgeTool(registry, index, a.logger)
	a.logger.Info("tools registered", "tools", registry.Names())

	if st, err := a.checkpoints.Status(ctx); err != nil {
		a.logger.Warn("checkpoint status unavailable", "error", err)
	} else {
		a.logger.Info("conversation state loaded", "threads", st.Threads, "messages", st.Messages)
	}

	return conversation.NewEngine(conversation.Deps{
		Users:    a.users,
		Tools:    registry,
		LLM:      client,
		State:    a.checkpoints,
		Resolver: resolver,
		Events:   a.bus,
		Logger:   a.logger.With("component", "conversation"),
	}, conversation.Config{
		Model:               cfg.LLM.DefaultModel,
		Temperature:         cfg.LLM.Temperature,
		RegistrationLink:    cfg.Links.Registration,
		PlansLink:           cfg.Links.Plans,
		MaxHistory:          cfg.Conversation.MaxHistory,
		MaxToolRounds:       cfg.Conversation.MaxToolRounds,
		EmailTrialDowngrade: cfg.Conversation.EmailTrialDowngrade,
	}), nil
}

// loadKnowledge indexes the support material directory. A missing
// directory leaves the index empty.
func (a *app) loadKnowledge(ctx context.Context) (*knowledge.Index, error) {
	kc := a.cfg.Knowledge
	var index *knowledge.Index
	var err error
	if kc.EmbeddingModel != "" {
		index, err = knowledge.New(knowledge.NewOpenAIEmbedder(a.cfg.LLM.OpenAI.BaseURL, a.cfg.LLM.OpenAI.APIKey, kc.EmbeddingModel), a.logger)
	} else {
		index, err = knowledge.New(nil, a.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("create knowledge index: %w", err)
	}
	if kc.Dir == "" {
		return index, nil
	}
	n, err := index.LoadDir(ctx, kc.Dir)
	if err != nil {
		a.logger.Warn("support material not loaded", "dir", kc.Dir, "error", err)
		return index, nil
	}
	a.logger.Info("support material indexed", "dir", kc.Dir, "documents", n, "passages", index.Count())
	return index, nil
}

// createLLMClient builds the provider router. Models not mapped to a
// provider go to the provider of the default model, else OpenAI.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	defaultProvider := "openai"
	for _, m := range cfg.LLM.Models {
		if m.Name == cfg.LLM.DefaultModel {
			defaultProvider = m.Provider
		}
	}

	router := llm.NewRouter(defaultProvider, logger)
	router.Register("openai", llm.NewOpenAIClient(cfg.LLM.OpenAI.BaseURL, cfg.LLM.OpenAI.APIKey, logger))
	if cfg.LLM.Anthropic.APIKey != "" {
		router.Register("anthropic", llm.NewAnthropicClient(cfg.LLM.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}
	for _, m := range cfg.LLM.Models {
		router.Assign(m.Name, m.Provider)
	}

	if p, _, ok := router.Provider(cfg.LLM.DefaultModel); !ok {
		logger.Warn("default model has no configured provider", "model", cfg.LLM.DefaultModel, "provider", p)
	}
	logger.Info("LLM client initialized", "default_model", cfg.LLM.DefaultModel, "default_provider", defaultProvider)
	return router
}
