package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saikamal-replicantsys/rtsp-demo/pkg/config"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
)

// Stage names reported through the dialer's notify callback while the
// upstream attach progresses. The graph links its runtime-negotiated
// stages on these notifications.
const (
	StageCapture = "capture"
	StageDepay   = "depay"
)

const defaultFrameDuration = 40 * time.Millisecond

// reader delivers media frames from an attached upstream connection.
type reader interface {
	// ReadFrame blocks until the next access unit arrives. Once the
	// connection has failed it must keep returning the error without
	// blocking; the failure counter in the pull loop depends on that.
	ReadFrame() (Frame, error)
	Close()
}

type dialFunc func(ctx context.Context, notify func(stage string)) (reader, error)

// Source pulls the camera stream and keeps it alive across upstream
// failures. Read failures beyond the configured threshold trigger a
// reconnect cycle with exponential backoff; while a cycle is running
// the source keeps emitting a placeholder frame at the stream cadence
// so downstream timing never stalls on the camera.
type Source struct {
	conf config.Camera
	log  *logger.Logger
	dial dialFunc

	// OnFrame and OnHealth are set before Connect and not changed after.
	OnFrame  func(Frame)
	OnHealth func(Health)

	health atomic.Int32

	mu       sync.Mutex
	conn     reader
	lastGood Frame
	cadence  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSource(conf config.Camera, log *logger.Logger) *Source {
	s := &Source{conf: conf, log: log, done: make(chan struct{}), cadence: defaultFrameDuration}
	s.dial = rtspDial(conf, log)
	return s
}

func (s *Source) Health() Health { return Health(s.health.Load()) }

func (s *Source) setHealth(h Health) {
	if Health(s.health.Swap(int32(h))) == h {
		return
	}
	s.log.Info().Msgf("capture health: %v", h)
	if s.OnHealth != nil {
		s.OnHealth(h)
	}
}

// Connect performs the initial upstream attach. Stage-ready
// notifications fire through notify as the attach progresses. An error
// here fails the pipeline build; failures after Connect are handled by
// the watchdog instead.
func (s *Source) Connect(ctx context.Context, notify func(stage string)) error {
	conn, err := s.dial(ctx, notify)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Start begins pulling frames. Must be called after Connect.
func (s *Source) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// Stop detaches from the upstream and waits for the pull loop to exit.
// Safe to call more than once and before Start.
func (s *Source) Stop() {
	if s.cancel == nil {
		s.closeConn()
		return
	}
	s.cancel()
	s.closeConn()
	<-s.done
}

func (s *Source) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		frame, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			s.log.Warn().Err(err).Msgf("camera read failed (%d in a row)", failures)
			if failures < s.conf.Failures.Threshold {
				continue
			}
			if !s.reconnect(ctx) {
				return
			}
			failures = 0
			continue
		}
		failures = 0
		s.deliver(frame)
	}
}

func (s *Source) deliver(frame Frame) {
	if frame.Duration <= 0 {
		frame.Duration = s.cadence
	}
	s.mu.Lock()
	s.cadence = frame.Duration
	if frame.Keyframe {
		s.lastGood = Frame{Data: frame.Data, Duration: frame.Duration, Keyframe: true}
	}
	s.mu.Unlock()
	if s.OnFrame != nil {
		s.OnFrame(frame)
	}
}

// placeholder returns the frame emitted while the camera is away:
// the last good keyframe, or a pre-encoded blank one before any
// keyframe was seen.
func (s *Source) placeholder() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastGood.Data != nil {
		return Frame{Data: s.lastGood.Data, Duration: s.cadence, Keyframe: true}
	}
	return Frame{Data: blankFrame, Duration: s.cadence, Keyframe: true}
}

// reconnect runs reconnect cycles with exponential backoff until one
// succeeds, the retry budget is exhausted (health turns degraded, the
// session stays up on placeholder frames), or ctx is cancelled.
// Placeholder frames keep flowing at the stream cadence for the whole
// duration; the backoff wait never blocks frame emission.
func (s *Source) reconnect(ctx context.Context) bool {
	s.closeConn()
	s.setHealth(HealthReconnecting)

	ticker := time.NewTicker(s.placeholder().Duration)
	defer ticker.Stop()

	delay := s.conf.Backoff.Base
	for attempt := 1; ; attempt++ {
		if attempt > s.conf.Failures.MaxRetries {
			s.setHealth(HealthDegraded)
			s.holdPlaceholder(ctx, ticker)
			return false
		}
		s.log.Info().Msgf("camera reconnect attempt %d in %v", attempt, delay)
		metricReconnects.Inc()

		wait := time.NewTimer(delay)
	backoff:
		for {
			select {
			case <-ctx.Done():
				wait.Stop()
				return false
			case <-ticker.C:
				if s.OnFrame != nil {
					s.OnFrame(s.placeholder())
				}
			case <-wait.C:
				break backoff
			}
		}

		conn, err := s.dial(ctx, func(string) {})
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()
			s.setHealth(HealthOk)
			s.log.Info().Msg("camera reconnected")
			return true
		}
		s.log.Warn().Err(err).Msg("camera reconnect failed")

		delay *= 2
		if delay > s.conf.Backoff.Cap {
			delay = s.conf.Backoff.Cap
		}
	}
}

// holdPlaceholder keeps the cadence going after the retry budget is
// spent, until the session is stopped.
func (s *Source) holdPlaceholder(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.OnFrame != nil {
				s.OnFrame(s.placeholder())
			}
		}
	}
}
