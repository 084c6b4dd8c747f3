// Package server implements the Leozera HTTP surface: the WhatsApp
// provider webhooks, health and version probes, the registration QR
// code and a small operational API.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"github.com/camppoia/leozera/internal/buildinfo"
	"github.com/camppoia/leozera/internal/connwatch"
	"github.com/camppoia/leozera/internal/reminders"
	"github.com/camppoia/leozera/internal/scheduler"
	"github.com/camppoia/leozera/internal/whatsapp"
)

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 1 << 20

// qrSize is the edge length in pixels of the registration QR code.
const qrSize = 256

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// InboundHandler processes one inbound WhatsApp message.
// *whatsapp.Bridge implements it.
type InboundHandler interface {
	Handle(ctx context.Context, in whatsapp.Inbound) bool
}

// Confirmer sends an on-demand confirmation request.
// *reminders.Sweeper implements it.
type Confirmer interface {
	SendConfirmation(ctx context.Context, appointmentID string) (bool, error)
}

// Jobs exposes the job runner. *scheduler.Scheduler implements it.
type Jobs interface {
	Trigger(ctx context.Context, name string) (*scheduler.Run, error)
	Runs(ctx context.Context, job string, limit int) ([]*scheduler.Run, error)
	Stats() map[string]any
}

// Health reports dependency health. *connwatch.Manager implements it.
type Health interface {
	Healthy() bool
	Status() map[string]connwatch.Status
}

// Config holds the server settings and its collaborators. Nil
// collaborators disable the routes that need them.
type Config struct {
	Address          string
	Port             int
	WebhookToken     string
	AdminToken       string // guards /v1; falls back to WebhookToken
	RegistrationLink string

	Inbound   InboundHandler
	Aliases   whatsapp.AliasStore
	Confirmer Confirmer
	Jobs      Jobs
	Health    Health
	Logger    *slog.Logger
}

// Server is the HTTP server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server

	// baseCtx outlives individual requests so webhook handling can
	// continue after the provider gets its 200.
	baseCtx context.Context
	wg      sync.WaitGroup

	qrOnce sync.Once
	qrPNG  []byte
	qrErr  error
}

// New creates a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger, baseCtx: context.Background()}
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/version", s.handleVersion).Methods(http.MethodGet)
	r.HandleFunc("/cadastro/qr.png", s.handleRegistrationQR).Methods(http.MethodGet)

	hooks := r.PathPrefix("/webhooks").Subrouter()
	hooks.Use(s.requireWebhookToken)
	hooks.HandleFunc("/waha", s.handleWAHA).Methods(http.MethodPost)
	hooks.HandleFunc("/twilio", s.handleTwilio).Methods(http.MethodPost)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.requireAdminToken)
	api.HandleFunc("/appointments/{id}/confirmation", s.handleConfirmation).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/runs", s.handleRuns).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/stats", s.handleSchedulerStats).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/jobs/{name}/run", s.handleTrigger).Methods(http.MethodPost)

	return s.withLogging(r)
}

// Start serves HTTP until Shutdown is called. Webhook processing uses
// ctx, so cancelling it aborts in-flight conversation turns.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting HTTP server", "address", addr, "port", s.cfg.Port)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight webhook
// messages to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Wait blocks until every dispatched inbound message is handled.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// requireWebhookToken rejects webhook calls without the shared token
// when one is configured.
func (s *Server) requireWebhookToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.WebhookToken != "" {
			got := r.URL.Query().Get("token")
			if got == "" {
				got = r.Header.Get("X-Webhook-Token")
			}
			if !tokenMatches(got, s.cfg.WebhookToken) {
				s.logger.Warn("webhook rejected: bad token", "path", r.URL.Path, "remote", r.RemoteAddr)
				s.errorResponse(w, http.StatusUnauthorized, "invalid webhook token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdminToken guards the operational API. It fails closed: with
// no token configured every call is rejected.
func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.AdminToken
		if want == "" {
			want = s.cfg.WebhookToken
		}
		got, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.Header.Get("X-Admin-Token")
		}
		if want == "" || !tokenMatches(got, want) {
			s.logger.Warn("admin call rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "configured", want != "")
			s.errorResponse(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// handleHealth answers 200 even when degraded; status carries the verdict.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy"}
	if s.cfg.Health != nil {
		if !s.cfg.Health.Healthy() {
			resp["status"] = "degraded"
		}
		resp["services"] = s.cfg.Health.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleRegistrationQR(w http.ResponseWriter, r *http.Request) {
	if s.cfg.RegistrationLink == "" {
		s.errorResponse(w, http.StatusNotFound, "registration link not configured")
		return
	}
	s.qrOnce.Do(func() {
		s.qrPNG, s.qrErr = qrcode.Encode(s.cfg.RegistrationLink, qrcode.Medium, qrSize)
	})
	if s.qrErr != nil {
		s.logger.Error("registration QR encode failed", "error", s.qrErr)
		s.errorResponse(w, http.StatusInternalServerError, "qr encode failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := w.Write(s.qrPNG); err != nil {
		s.logger.Debug("failed to write QR response", "error", err)
	}
}

func (s *Server) handleWAHA(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Inbound == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "whatsapp inbound disabled")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "read body")
		return
	}
	in, ok, err := whatsapp.ParseWAHAEvent(r.Context(), raw, s.cfg.Aliases)
	if err != nil {
		s.logger.Warn("bad waha webhook payload", "error", err)
		s.errorResponse(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if ok {
		s.dispatch(in)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"accepted": ok}, s.logger)
}

func (s *Server) handleTwilio(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Inbound == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "whatsapp inbound disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid form")
		return
	}
	if in, ok := whatsapp.ParseTwilioForm(r.PostForm); ok {
		s.dispatch(in)
	}
	// An empty TwiML response; the reply goes out through the REST API.
	w.Header().Set("Content-Type", "text/xml")
	_, _ = io.WriteString(w, "<Response></Response>")
}

// dispatch hands in to the inbound handler on its own goroutine so the
// provider is acknowledged immediately.
func (s *Server) dispatch(in whatsapp.Inbound) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cfg.Inbound.Handle(s.baseCtx, in)
	}()
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Confirmer == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "reminders disabled")
		return
	}
	id := mux.Vars(r)["id"]
	sent, err := s.cfg.Confirmer.SendConfirmation(r.Context(), id)
	switch {
	case errors.Is(err, reminders.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, "appointment not found")
		return
	case err != nil:
		s.logger.Error("on-demand confirmation failed", "appointment_id", id, "error", err)
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"appointment_id": id, "sent": sent}, s.logger)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	runs, err := s.cfg.Jobs.Runs(r.Context(), r.URL.Query().Get("job"), parseIntParam(r, "limit", 50))
	if err != nil {
		s.logger.Error("list job runs failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []*scheduler.Run{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"runs": runs}, s.logger)
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.cfg.Jobs.Stats(), s.logger)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	name := mux.Vars(r)["name"]
	run, err := s.cfg.Jobs.Trigger(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	case run == nil:
		s.errorResponse(w, http.StatusInternalServerError, "job did not run")
		return
	}
	// A failed run is still reported through its record.
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, run, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
