package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/registry"
	"github.com/callkaidsroofing/gem/pkg/router"
)

// Server wires the Router and Registry onto the HTTP surface §6 names.
// Auth and the HTTP-level idempotency cache are optional; the rate
// limiter is always present.
type Server struct {
	Router      *router.Router
	Registry    *registry.Registry
	ServiceName string

	WebhookSecrets map[string]string

	Auth        *JWTAuth
	RateLimiter *GlobalRateLimiter
	Idempotency IdempotencyStorer
}

// NewServer builds a Server. auth may be nil (no bearer-token requirement).
func NewServer(rt *router.Router, reg *registry.Registry, webhookSecrets map[string]string, auth *JWTAuth, limiter *GlobalRateLimiter) *Server {
	return &Server{
		Router:         rt,
		Registry:       reg,
		ServiceName:    "gem-router",
		WebhookSecrets: webhookSecrets,
		Auth:           auth,
		RateLimiter:    limiter,
		Idempotency:    NewIdempotencyStore(24 * time.Hour),
	}
}

// Handler builds the full mux with middleware applied in the order the
// teacher's own server composes them: rate limit first (cheapest reject),
// then idempotency replay, then auth, then the route handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /brain/tools", s.handleTools)
	mux.HandleFunc("GET /brain/help", s.handleHelp)
	mux.Handle("POST /brain/run", s.protect(s.wrapAuth(http.HandlerFunc(s.handleBrainRun))))
	mux.Handle("POST /webhooks/{source}", s.protect(http.HandlerFunc(s.handleWebhook)))

	return mux
}

// protect applies the rate limiter and, for mutating endpoints, the
// Idempotency-Key replay cache.
func (s *Server) protect(next http.Handler) http.Handler {
	h := IdempotencyMiddleware(s.Idempotency)(next)
	if s.RateLimiter != nil {
		h = s.RateLimiter.Middleware(h)
	}
	return h
}

func (s *Server) wrapAuth(next http.Handler) http.Handler {
	if s.Auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Auth.Middleware(next).ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": s.ServiceName,
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// toolSummary is the shape GET /brain/tools lists — enough for a caller
// to know what it can ask the router to run and how duplicates behave,
// without exposing the full JSON Schemas.
type toolSummary struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	IdempotencyMode string `json:"idempotency_mode"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := s.Registry.All()
	out := make([]toolSummary, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolSummary{
			Name:            t.Name,
			Description:     t.Description,
			IdempotencyMode: string(t.Idempotency.Mode),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "POST /brain/run with {\"message\": \"...\", \"mode\": \"answer|plan|enqueue|enqueue_and_wait\"} " +
			"to plan and optionally execute a tool call. GET /brain/tools lists the tool catalogue. " +
			"POST /webhooks/<source> ingests provider events.",
	})
}

func (s *Server) handleBrainRun(w http.ResponseWriter, r *http.Request) {
	var req contracts.RouterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteBadRequest(w, "message is required")
		return
	}
	switch req.Mode {
	case contracts.ModeAnswer, contracts.ModePlan, contracts.ModeEnqueue, contracts.ModeEnqueueAndWait:
	default:
		WriteBadRequest(w, "mode must be one of answer, plan, enqueue, enqueue_and_wait")
		return
	}

	resp := s.Router.RunBrain(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := strings.ToLower(r.PathValue("source"))

	env, raw, err := decodeWebhookBody(r.Body)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	if secret, configured := s.WebhookSecrets[source]; configured {
		sig := r.Header.Get("X-GEM-Signature")
		if !verifyWebhookSignature(raw, sig, secret) {
			WriteUnauthorized(w, "invalid webhook signature")
			return
		}
	}

	event := contracts.WebhookEvent{
		Source:     source,
		EventType:  env.EventType,
		ExternalID: env.ExternalID,
		Payload:    env.Payload,
	}

	status, callID, err := s.Router.IngestWebhook(r.Context(), event)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	resp := map[string]any{"status": status}
	if callID != "" {
		resp["call_id"] = callID
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
