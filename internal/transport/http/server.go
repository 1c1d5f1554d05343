// Package http exposes the streaming engine over a chi-routed REST surface
// that mirrors the binary protocol's commands 1:1.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/corvidstream/broker/internal/auth"
	"github.com/corvidstream/broker/internal/metrics"
	"github.com/corvidstream/broker/internal/rbac"
	"github.com/corvidstream/broker/internal/streaming"
)

// Server wires the core engine, authorizer, and auth service into an
// http.Handler. It holds no business logic of its own beyond request
// decoding, authorization gating, and response encoding.
type Server struct {
	system  *streaming.System
	authz   *rbac.Permissioner
	auth    *auth.Service
	metrics *metrics.Collector
	logger  *zap.Logger
	router  chi.Router
}

// NewServer builds the router and registers every route.
func NewServer(system *streaming.System, authz *rbac.Permissioner, authSvc *auth.Service, logger *zap.Logger) *Server {
	s := &Server{
		system:  system,
		authz:   authz,
		auth:    authSvc,
		metrics: metrics.NewCollector(),
		logger:  logger,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promMetricsHandler())

	s.router.Post("/login", s.handleLogin)

	s.router.Route("/streams", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/", s.handleCreateStream)
		r.Get("/", s.handleListStreams)

		r.Route("/{streamID}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteStream)

			r.Route("/topics", func(r chi.Router) {
				r.Post("/", s.handleCreateTopic)

				r.Route("/{topicID}", func(r chi.Router) {
					r.Delete("/", s.handleDeleteTopic)
					r.Post("/messages", s.handlePublish)
					r.Get("/messages", s.handlePoll)
					r.Put("/offsets/{consumer}", s.handleStoreOffset)
					r.Get("/offsets/{consumer}", s.handleGetOffset)
					r.Post("/groups/{group}/join", s.handleJoinGroup)
					r.Post("/groups/{group}/leave", s.handleLeaveGroup)
				})
			})
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionContextKey struct{}

// sessionFromContext returns the Session a prior requireAuth call placed on
// the request context. Handlers registered without requireAuth must not
// call this.
func sessionFromContext(ctx context.Context) streaming.Session {
	sess, _ := ctx.Value(sessionContextKey{}).(streaming.Session)
	return sess
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, kind := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Warn("request failed", zap.Error(err), zap.String("kind", kind))
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

// statusForError maps an engine Kind to an HTTP status, mirroring the
// binary transport's status:u32 mapping in internal/transport/binary.
func statusForError(err error) (int, string) {
	var sErr *streaming.Error
	if !errors.As(err, &sErr) {
		return http.StatusInternalServerError, "unknown"
	}
	switch sErr.Kind {
	case streaming.KindUnauthenticated:
		return http.StatusUnauthorized, sErr.Kind.String()
	case streaming.KindUnauthorized:
		return http.StatusForbidden, sErr.Kind.String()
	case streaming.KindNotFound:
		return http.StatusNotFound, sErr.Kind.String()
	case streaming.KindAlreadyExists:
		return http.StatusConflict, sErr.Kind.String()
	case streaming.KindInvalidArgument, streaming.KindOffsetOutOfRange:
		return http.StatusBadRequest, sErr.Kind.String()
	case streaming.KindBackpressured:
		return http.StatusTooManyRequests, sErr.Kind.String()
	case streaming.KindTimeout:
		return http.StatusGatewayTimeout, sErr.Kind.String()
	case streaming.KindFeatureUnavailable:
		return http.StatusNotImplemented, sErr.Kind.String()
	default:
		return http.StatusInternalServerError, sErr.Kind.String()
	}
}

func nowMicros() uint64 { return uint64(time.Now().UnixMicro()) }
