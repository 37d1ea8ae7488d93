package streamer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/capture"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/config"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/pipeline"
)

// Coordinator reconciles the HTTP signaling surface with the engine
// domain. It owns the session registry (one live slot in this
// single-camera deployment) and serializes offers so overlapping
// negotiation can never leave two live pipeline handles behind.
//
// Exclusive-session policy: REPLACE. A new offer while a session is
// active tears the previous session down first, so a retrying browser
// is never locked out by its own stale session.
type Coordinator struct {
	engine Engine
	conf   config.Streamer
	log    *logger.Logger

	// offers are serialized end to end, registry lookups take mu only
	offerMu sync.Mutex

	mu      sync.Mutex
	current *Session
	// grace-window buffer for candidates arriving before any offer
	orphans *Mailbox

	// OnState, when set, observes every visible status change.
	OnState func(status string)
	// OnIce, when set, observes candidates gathered after the answer
	// went out; the listener drains them with DrainOutboundIce.
	OnIce func()
}

func NewCoordinator(engine Engine, conf config.Streamer, log *logger.Logger) *Coordinator {
	return &Coordinator{
		engine:  engine,
		conf:    conf,
		log:     log,
		orphans: NewMailbox(conf.MailboxCap, log),
	}
}

// WithManager wires the coordinator to the real pipeline manager.
func WithManager(m *pipeline.Manager) Engine { return engine{m: m} }

// HandleOffer negotiates a new session for the remote offer and
// returns the local answer plus whatever outbound candidates were
// gathered by response time. The rest trickles through the events
// feed.
func (c *Coordinator) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, []webrtc.ICECandidateInit, error) {
	c.offerMu.Lock()
	defer c.offerMu.Unlock()

	if err := validateOffer(offer); err != nil {
		return webrtc.SessionDescription{}, nil, &NegotiationError{Err: err}
	}

	// replace policy: at most one live session
	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()
	if prev != nil {
		c.log.Info().Msgf("session %s replaced by a new offer", prev.ID())
		prev.close()
	}

	s := newSession(c.conf.MailboxCap, c.log)
	nctx, cancel := context.WithTimeout(ctx, c.conf.NegotiationTimeout)
	defer cancel()
	s.beginNegotiation(cancel)

	c.mu.Lock()
	c.current = s
	for _, cand := range c.orphans.DrainInbound() {
		s.mailbox.BufferInbound(cand)
	}
	c.mu.Unlock()
	c.stateChanged()

	start := time.Now()
	handle, err := c.engine.Build(nctx, pipeline.BuildOpts{
		OnICECandidate: func(cand *webrtc.ICECandidateInit) {
			if cand == nil {
				return
			}
			s.mailbox.PushOutbound(*cand)
			// candidates queued mid-negotiation ride the answer;
			// anything later must reach the browser through the feed
			if s.State() == SessionActive {
				c.iceGathered()
			}
		},
		OnHealth: func(h capture.Health) {
			s.setHealth(h)
			c.stateChanged()
		},
	})
	if err != nil {
		return c.failOffer(s, err)
	}
	s.attach(handle)

	answer, err := handle.Negotiate(nctx, offer)
	if err != nil {
		return c.failOffer(s, err)
	}
	if err = handle.Play(nctx); err != nil {
		return c.failOffer(s, err)
	}

	s.activate()
	c.stateChanged()
	metricSessionsStarted.Inc()
	metricNegotiationSeconds.Observe(time.Since(start).Seconds())
	c.log.Info().Msgf("session %s is active (%.2fs)", s.ID(), time.Since(start).Seconds())

	return answer, s.mailbox.DrainOutbound(), nil
}

// failOffer moves the session to its terminal failed state, making
// sure any partially built handle is released.
func (c *Coordinator) failOffer(s *Session, err error) (webrtc.SessionDescription, []webrtc.ICECandidateInit, error) {
	c.log.Error().Err(err).Msgf("session %s negotiation failed", s.ID())
	s.fail()
	c.stateChanged()
	metricSessionsFailed.Inc()
	return webrtc.SessionDescription{}, nil, &NegotiationError{Err: err}
}

// HandleIce accepts a remote candidate, best effort: forwarded when a
// handle exists, buffered during the grace window otherwise. Never an
// error to the caller.
func (c *Coordinator) HandleIce(candidate webrtc.ICECandidateInit) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		c.orphans.BufferInbound(candidate)
		return
	}
	s.forwardIce(candidate)
}

// DrainOutboundIce returns the candidates gathered since the last
// drain, for the events feed.
func (c *Coordinator) DrainOutboundIce() []webrtc.ICECandidateInit {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.mailbox.DrainOutbound()
}

// Stop tears the current session down. Idempotent, cancels an
// in-flight negotiation wait before releasing the handle.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.close()
	c.stateChanged()
	c.log.Info().Msgf("session %s closed", s.ID())
}

// Status reports the visible session status; CLOSED when no session
// exists, DEGRADED when the session is up on placeholder frames after
// the capture retry budget ran out.
func (c *Coordinator) Status() string {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return SessionClosed.String()
	}
	if s.State() == SessionActive && s.Health() == capture.HealthDegraded {
		return "DEGRADED"
	}
	return s.State().String()
}

func (c *Coordinator) stateChanged() {
	if c.OnState != nil {
		c.OnState(c.Status())
	}
}

func (c *Coordinator) iceGathered() {
	if c.OnIce != nil {
		c.OnIce()
	}
}

func validateOffer(offer webrtc.SessionDescription) error {
	if offer.Type != webrtc.SDPTypeOffer {
		return ErrMalformedOffer
	}
	sdp := strings.TrimSpace(offer.SDP)
	if sdp == "" || !strings.HasPrefix(sdp, "v=") {
		return ErrMalformedOffer
	}
	return nil
}
