package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"verigate/internal/employment"
	"verigate/internal/lookup/models"
	"verigate/internal/lookup/ports"
	"verigate/internal/lookup/updates"
)

// CallbackSecretHeader authenticates provider completion callbacks.
const CallbackSecretHeader = "X-Callback-Secret"

// Coordinator runs lookup attempts.
type Coordinator interface {
	RequestLookup(ctx context.Context, req models.LookupRequest) (*models.LookupOutcome, error)
}

// Completer records deferred job answers.
type Completer interface {
	Complete(ctx context.Context, completion models.Completion) (*models.LookupRecord, error)
}

// Verifier runs dual-employment checks.
type Verifier interface {
	Verify(ctx context.Context, req employment.VerifyRequest) ([]models.DualEmploymentResult, error)
}

// Handler serves the candidate lookup API.
type Handler struct {
	coordinator    Coordinator
	completer      Completer
	verifier       Verifier
	results        ports.ResultStore
	queue          ports.JobQueue
	bus            *updates.Bus
	callbackSecret string
	heartbeat      time.Duration
	logger         *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithCallbackSecret enables the provider callback endpoint.
func WithCallbackSecret(secret string) Option {
	return func(h *Handler) {
		h.callbackSecret = secret
	}
}

// WithHeartbeat sets how often idle event streams send a keep-alive comment.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		h.heartbeat = d
	}
}

// Deps are the services behind the API.
type Deps struct {
	Coordinator Coordinator
	Completer   Completer
	Verifier    Verifier
	Results     ports.ResultStore
	Queue       ports.JobQueue
	Bus         *updates.Bus
}

func New(deps Deps, opts ...Option) (*Handler, error) {
	switch {
	case deps.Coordinator == nil:
		return nil, fmt.Errorf("coordinator is required")
	case deps.Completer == nil:
		return nil, fmt.Errorf("completer is required")
	case deps.Verifier == nil:
		return nil, fmt.Errorf("verifier is required")
	case deps.Results == nil:
		return nil, fmt.Errorf("result store is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("job queue is required")
	case deps.Bus == nil:
		return nil, fmt.Errorf("bus is required")
	}
	h := &Handler{
		coordinator: deps.Coordinator,
		completer:   deps.Completer,
		verifier:    deps.Verifier,
		results:     deps.Results,
		queue:       deps.Queue,
		bus:         deps.Bus,
		heartbeat:   15 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the authenticated candidate endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/candidates/{candidateID}", func(r chi.Router) {
		r.Post("/lookups", h.HandleRequestLookup)
		r.Get("/lookups", h.HandleListLookups)
		r.Get("/lookups/latest", h.HandleLatestLookup)
		r.Get("/queue/{lookupType}", h.HandleQueueStatus)
		r.Post("/dual-employment", h.HandleDualEmployment)
		r.Get("/events", h.HandleEvents)
	})
}

// RegisterCallbacks mounts the provider webhook, which authenticates with
// the shared callback secret instead of a user token.
func (h *Handler) RegisterCallbacks(r chi.Router) {
	r.Post("/v1/provider/callbacks", h.HandleProviderCallback)
}
