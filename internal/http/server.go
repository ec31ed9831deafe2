package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/hperssn/trialclock/internal/runner"
	"github.com/hperssn/trialclock/internal/storage"
)

type Config struct {
	AuthDisabled bool
	// Tokens verifies bearer tokens; nil accepts proxy headers only.
	Tokens *TokenVerifier
	// Metrics is served on /metrics when set.
	Metrics   http.Handler
	WebSocket ConnectionConfig
}

type Server struct {
	manager    *runner.TrialManager
	candidates CandidateLister
	repo       storage.Repository
	socket     *FrameSocket
	cfg        Config
}

// NewServer builds the HTTP API. candidates and repo may be nil when no
// backend or archive is configured.
func NewServer(manager *runner.TrialManager, candidates CandidateLister, repo storage.Repository, cfg Config) *Server {
	if cfg.WebSocket.PingInterval == 0 {
		cfg.WebSocket = DefaultConnectionConfig()
	}
	return &Server{
		manager:    manager,
		candidates: candidates,
		repo:       repo,
		socket:     NewFrameSocket(manager, cfg.WebSocket),
		cfg:        cfg,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(ExtractIdentity(s.cfg.AuthDisabled, s.cfg.Tokens))

		r.Get("/course", s.getCourse)
		r.Get("/candidates", s.listCandidates)

		r.Route("/trials", func(r chi.Router) {
			r.Get("/", s.listTrials)
			r.Get("/{id}", s.getTrial)
			r.Get("/{id}/events", StreamTrialFrames(s.manager))
			r.Get("/{id}/ws", s.socket.Handle)

			r.Group(func(r chi.Router) {
				s.commands(r)
				r.Post("/", s.startTrial)
				r.Post("/{id}/stop", s.stopTrial)
				r.Post("/{id}/waypoint", s.toggleWaypoint)
				r.Post("/{id}/penalties", s.togglePenalty)
				r.Post("/{id}/eliminations", s.toggleElimination)
				r.Post("/{id}/submit", s.submitTrial)
				r.Delete("/{id}", s.resetTrial)
			})
		})

		r.Route("/subjects/{id}", func(r chi.Router) {
			r.Get("/trials", s.subjectTrials)
			r.Get("/stats", s.subjectStats)

			r.Group(func(r chi.Router) {
				s.commands(r)
				r.Delete("/trials/{trialId}", s.deleteArchivedTrial)
			})
		})
	})

	return r
}

// commands guards state-changing routes behind the operator role.
func (s *Server) commands(r chi.Router) {
	if !s.cfg.AuthDisabled {
		r.Use(RequireAdmin)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		}()

		next.ServeHTTP(ww, r)
	})
}
