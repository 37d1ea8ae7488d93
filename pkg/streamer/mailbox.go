package streamer

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
)

// Mailbox holds the two per-session ICE FIFO queues: candidates
// generated locally waiting to be delivered to the browser, and
// candidates received from the browser before a pipeline handle
// existed. Both queues are bounded, overflow drops the oldest entry
// with a log.
type Mailbox struct {
	mu       sync.Mutex
	cap      int
	outbound []webrtc.ICECandidateInit
	inbound  []webrtc.ICECandidateInit
	log      *logger.Logger
}

func NewMailbox(capacity int, log *logger.Logger) *Mailbox {
	return &Mailbox{cap: capacity, log: log}
}

// PushOutbound queues a locally generated candidate.
func (m *Mailbox) PushOutbound(c webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbound = appendBounded(m.outbound, c, m.cap, m.log, "outbound")
}

// DrainOutbound atomically swaps out and returns every pending
// outbound candidate. A candidate is returned exactly once even when
// generation races with the drain.
func (m *Mailbox) DrainOutbound() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.outbound
	m.outbound = nil
	return out
}

// BufferInbound stores a remote candidate for later application.
func (m *Mailbox) BufferInbound(c webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = appendBounded(m.inbound, c, m.cap, m.log, "inbound")
}

// DrainInbound atomically swaps out and returns the buffered remote
// candidates.
func (m *Mailbox) DrainInbound() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	in := m.inbound
	m.inbound = nil
	return in
}

// Clear empties both queues.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbound = nil
	m.inbound = nil
}

func appendBounded(q []webrtc.ICECandidateInit, c webrtc.ICECandidateInit, max int, log *logger.Logger, dir string) []webrtc.ICECandidateInit {
	if max > 0 && len(q) >= max {
		q = q[1:]
		log.Warn().Msgf("%s ice queue overflow, oldest candidate dropped", dir)
	}
	return append(q, c)
}
