// internal/streaming/session.go
package streaming

// Session carries the authenticated identity of one connection. It is
// produced by a transport's auth middleware, never by the core itself.
type Session struct {
	UserID        uint32
	ClientID      uint32
	Authenticated bool
}

// RequireAuthenticated returns Unauthenticated unless the session has
// completed login. Every operation but ping/login goes through this.
func (s Session) RequireAuthenticated() error {
	if !s.Authenticated {
		return ErrUnauthenticated
	}
	return nil
}

// Authorizer is the Permissioner's boundary as seen from the core: just
// enough surface to gate poll/send, implemented by internal/rbac.
type Authorizer interface {
	CanPoll(userID, streamID uint32) bool
	CanSend(userID, streamID uint32) bool
	CanManageServers(userID uint32) bool
}
