package streamer

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/capture"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/pipeline"
)

type SessionState int

const (
	SessionIdle SessionState = iota
	SessionNegotiating
	SessionActive
	SessionClosing
	SessionClosed
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "IDLE"
	case SessionNegotiating:
		return "NEGOTIATING"
	case SessionActive:
		return "ACTIVE"
	case SessionClosing:
		return "CLOSING"
	case SessionClosed:
		return "CLOSED"
	case SessionFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Handle is the coordinator's view of a built pipeline. The concrete
// implementation lives in the pipeline package; tests substitute
// fakes.
type Handle interface {
	ID() string
	Negotiate(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AddCandidate(candidate webrtc.ICECandidateInit) error
	Play(ctx context.Context) error
	Release()
	Health() capture.Health
}

// Engine builds pipeline handles; satisfied by pipeline.Manager
// through the engine adapter below.
type Engine interface {
	Build(ctx context.Context, opts pipeline.BuildOpts) (Handle, error)
}

type engine struct{ m *pipeline.Manager }

func (e engine) Build(ctx context.Context, opts pipeline.BuildOpts) (Handle, error) {
	p, err := e.m.Build(ctx, opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Session tracks one signaling slot: its state, the owned pipeline
// handle (zero or one) and the ICE mailbox. One lock per session, no
// process-wide shared negotiation state.
type Session struct {
	id        string
	createdAt time.Time

	mu      sync.Mutex
	state   SessionState
	handle  Handle
	health  capture.Health
	cancel  context.CancelFunc // in-flight negotiation wait, if any
	mailbox *Mailbox
	log     *logger.Logger
}

func newSession(mailboxCap int, log *logger.Logger) *Session {
	id := uuid.Must(uuid.NewV4()).String()
	l := log.Extend(log.With().Str("session", id[:8]))
	return &Session{
		id:        id,
		createdAt: time.Now(),
		state:     SessionIdle,
		mailbox:   NewMailbox(mailboxCap, l),
		log:       l,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) Health() capture.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *Session) setHealth(h capture.Health) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

// beginNegotiation stores the cancel for the in-flight negotiation so
// a concurrent stop can abort the wait.
func (s *Session) beginNegotiation(cancel context.CancelFunc) {
	s.mu.Lock()
	s.state = SessionNegotiating
	s.cancel = cancel
	s.mu.Unlock()
}

// attach hands the built pipeline handle to the session and flushes
// every remote candidate buffered during the grace window into it.
func (s *Session) attach(h Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	for _, c := range s.mailbox.DrainInbound() {
		if err := h.AddCandidate(c); err != nil {
			s.log.Warn().Err(err).Msg("buffered ice candidate not applied")
		}
	}
}

func (s *Session) activate() {
	s.mu.Lock()
	s.state = SessionActive
	s.cancel = nil
	s.mu.Unlock()
}

// forwardIce applies a remote candidate now if a handle exists,
// otherwise buffers it.
func (s *Session) forwardIce(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		s.mailbox.BufferInbound(c)
		return
	}
	if err := h.AddCandidate(c); err != nil {
		s.log.Warn().Err(err).Msg("ice candidate not applied")
	}
}

// fail marks the session terminally failed and releases its handle.
func (s *Session) fail() {
	s.mu.Lock()
	s.state = SessionFailed
	s.cancel = nil
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	s.mailbox.Clear()
	if h != nil {
		h.Release()
	}
}

// close cancels any in-flight negotiation, releases the handle and
// clears the mailbox. Idempotent.
func (s *Session) close() {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return
	}
	s.state = SessionClosing
	cancel := s.cancel
	s.cancel = nil
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.mailbox.Clear()
	if h != nil {
		h.Release()
	}
	s.setState(SessionClosed)
}
