package binary

import (
	"net"

	"go.uber.org/zap"

	"github.com/corvidstream/broker/internal/auth"
	"github.com/corvidstream/broker/internal/metrics"
	"github.com/corvidstream/broker/internal/rbac"
	"github.com/corvidstream/broker/internal/streaming"
)

// Command codes, one per operation the dispatch table recognizes.
const (
	CommandPing uint32 = iota
	CommandLogin
	CommandCreateStream
	CommandDeleteStream
	CommandCreateTopic
	CommandDeleteTopic
	CommandPublish
	CommandPoll
	CommandStoreOffset
	CommandGetOffset
	CommandJoinGroup
	CommandLeaveGroup
)

// Server accepts TCP connections and dispatches each frame to the core
// engine. One goroutine per connection; a connection's Session lives only
// in that goroutine's stack, matching the per-connection-state approach a
// raw TCP broker protocol needs.
type Server struct {
	system  *streaming.System
	authz   *rbac.Permissioner
	auth    *auth.Service
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewServer(system *streaming.System, authz *rbac.Permissioner, authSvc *auth.Service, logger *zap.Logger) *Server {
	return &Server{
		system:  system,
		authz:   authz,
		auth:    authSvc,
		metrics: metrics.NewCollector(),
		logger:  logger,
	}
}

// ListenAndServe accepts connections on addr until the listener is closed.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer func() { _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered panic handling connection", zap.Any("panic", r))
		}
	}()

	sess := streaming.Session{}
	for {
		command, payload, err := readFrame(conn)
		if err != nil {
			return
		}

		resp, callErr := s.dispatch(&sess, command, payload)
		if writeErr := writeResponse(conn, statusForErr(callErr), resp); writeErr != nil {
			return
		}
	}
}
