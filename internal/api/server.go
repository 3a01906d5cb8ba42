// Package api is the HTTP control surface: run start/stop, claim listing,
// the approval endpoints, and the live SSE event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/policy"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/run"
)

const (
	maxBodyBytes   = 1 << 20 // JSON bodies above this are rejected outright
	sseKeepalive   = 15 * time.Second
	defaultRatePer = 120
)

// Controller is the run-owner surface the server drives.
type Controller interface {
	StartRun(sourceURL string) (*model.Run, error)
	StopRun() (bool, error)
	Status() (running bool, runID string)
	Claims() []*model.Claim
	Subscribe(lastSeq int64) *run.Subscription
	ApproveOutput(claimID string, expectedVersion int) (*run.ApprovalResult, error)
	RejectOutput(claimID string, expectedVersion int) (*model.Claim, error)
	GeneratePackage(claimID string, expectedVersion int) (*run.ApprovalResult, error)
	RenderImage(claimID string, expectedVersion int, force bool, forceNonce string) (*run.ApprovalResult, error)
	TagOverride(claimID string, expectedVersion int, tag model.ClaimTypeTag, reason string) (*model.Claim, error)
}

// Config tunes the server.
type Config struct {
	Addr               string
	ControlPassword    string
	ProtectRead        bool // apply the control secret to read endpoints too
	RateLimitPerMinute int
	MaxConnections     int // LimitListener cap; 0 disables
	ArtifactsDir       string
}

// Server hosts the control surface for one controller.
type Server struct {
	ctrl   Controller
	cfg    Config
	router chi.Router
	log    zerolog.Logger
}

// NewServer builds the router.
func NewServer(ctrl Controller, cfg Config) *Server {
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = defaultRatePer
	}
	s := &Server{
		ctrl: ctrl,
		cfg:  cfg,
		log:  log.With().Str("component", "api").Logger(),
	}

	limiter := newFixedWindow(cfg.RateLimitPerMinute)
	control := func(h http.HandlerFunc) http.Handler {
		return requireSecret(cfg.ControlPassword, h)
	}
	read := func(h http.HandlerFunc) http.Handler {
		if cfg.ProtectRead {
			return requireSecret(cfg.ControlPassword, h)
		}
		return h
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(limiter.middleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodPost, "/start", control(s.handleStart))
	r.Method(http.MethodPost, "/stop", control(s.handleStop))
	r.Method(http.MethodGet, "/claims", read(s.handleClaims))
	r.Method(http.MethodGet, "/events", read(s.handleEvents))
	r.Method(http.MethodPost, "/claims/{id}/approve-output", control(s.handleApprove))
	r.Method(http.MethodPost, "/claims/{id}/reject-output", control(s.handleReject))
	r.Method(http.MethodPost, "/claims/{id}/generate-package", control(s.handleGeneratePackage))
	r.Method(http.MethodPost, "/claims/{id}/render-image", control(s.handleRenderImage))
	r.Method(http.MethodPost, "/claims/{id}/tag-override", control(s.handleTagOverride))

	if cfg.ArtifactsDir != "" {
		fs := http.StripPrefix("/artifacts/", http.FileServer(http.Dir(cfg.ArtifactsDir)))
		r.Get("/artifacts/*", fs.ServeHTTP)
	}

	s.router = r
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens until ctx is canceled, capping concurrent connections when
// configured.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.cfg.Addr).Msg("api listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type startRequest struct {
	YoutubeURL string `json:"youtubeUrl"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	running, runID := s.ctrl.Status()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": running, "runId": runID})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	started, err := s.ctrl.StartRun(req.YoutubeURL)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "runId": started.ID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	running, err := s.ctrl.StopRun()
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": running})
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	running, runID := s.ctrl.Status()
	claims := s.ctrl.Claims()
	if claims == nil {
		claims = []*model.Claim{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "running": running, "runId": runID, "claims": claims,
	})
}

type claimActionRequest struct {
	ExpectedVersion *int   `json:"expectedVersion"`
	Reason          string `json:"reason"`
	Tag             string `json:"tag"`
	Force           bool   `json:"force"`
	ForceNonce      string `json:"forceNonce"`
}

// decodeClaimAction parses the shared mutation body and enforces the integer
// expectedVersion requirement.
func (s *Server) decodeClaimAction(w http.ResponseWriter, r *http.Request) (string, claimActionRequest, bool) {
	id := chi.URLParam(r, "id")
	var req claimActionRequest
	if !decodeBody(w, r, &req) {
		return "", req, false
	}
	if req.ExpectedVersion == nil {
		writeError(w, http.StatusBadRequest, "expectedVersion is required")
		return "", req, false
	}
	return id, req, true
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeClaimAction(w, r)
	if !ok {
		return
	}
	res, err := s.ctrl.ApproveOutput(id, *req.ExpectedVersion)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "claim": res.Claim, "package": res.Package, "renderJob": res.Render,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeClaimAction(w, r)
	if !ok {
		return
	}
	claim, err := s.ctrl.RejectOutput(id, *req.ExpectedVersion)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "claim": claim})
}

func (s *Server) handleGeneratePackage(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeClaimAction(w, r)
	if !ok {
		return
	}
	res, err := s.ctrl.GeneratePackage(id, *req.ExpectedVersion)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "claim": res.Claim, "package": res.Package})
}

func (s *Server) handleRenderImage(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeClaimAction(w, r)
	if !ok {
		return
	}
	res, err := s.ctrl.RenderImage(id, *req.ExpectedVersion, req.Force, req.ForceNonce)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok": true, "claim": res.Claim, "package": res.Package, "renderJob": res.Render,
	})
}

func (s *Server) handleTagOverride(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeClaimAction(w, r)
	if !ok {
		return
	}
	claim, err := s.ctrl.TagOverride(id, *req.ExpectedVersion, model.ClaimTypeTag(req.Tag), req.Reason)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "claim": claim})
}

// handleEvents is the long-lived SSE stream with Last-Event-ID replay.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var lastSeq int64
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		lastSeq, _ = strconv.ParseInt(raw, 10, 64)
	} else if raw := r.URL.Query().Get("lastEventId"); raw != "" {
		lastSeq, _ = strconv.ParseInt(raw, 10, 64)
	}

	sub := s.ctrl.Subscribe(lastSeq)
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, ev := range sub.Replay {
		if writeSSE(w, ev) != nil {
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-sub.Events:
			if !open {
				return
			}
			if writeSSE(w, ev) != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
	return err
}

// writeOpError maps controller errors onto the documented status codes.
func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	var conflict *run.VersionConflictError
	var blocked *run.PolicyBlockedError
	switch {
	case errors.Is(err, run.ErrNotFound):
		writeError(w, http.StatusNotFound, "claim not found")
	case errors.Is(err, run.ErrNoRun):
		writeError(w, http.StatusConflict, "no active run")
	case errors.Is(err, run.ErrRunActive):
		writeError(w, http.StatusConflict, "a run is already active")
	case errors.Is(err, run.ErrBadInput):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok": false, "error": "version conflict", "currentVersion": conflict.Current,
		})
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok": false, "error": policy.BlockMessage(blocked.Reason), "blockReason": blocked.Reason,
		})
	default:
		s.log.Error().Err(err).Msg("operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
