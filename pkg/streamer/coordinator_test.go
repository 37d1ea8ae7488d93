package streamer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/capture"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/config"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/pipeline"
)

const offerSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

type fakeHandle struct {
	id       string
	released atomic.Bool

	negotiateDelay time.Duration
	negotiateErr   error
	playErr        error
	onNegotiate    func()

	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Negotiate(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if h.onNegotiate != nil {
		h.onNegotiate()
	}
	if h.negotiateDelay > 0 {
		select {
		case <-time.After(h.negotiateDelay):
		case <-ctx.Done():
			return webrtc.SessionDescription{}, ctx.Err()
		}
	}
	if h.negotiateErr != nil {
		return webrtc.SessionDescription{}, h.negotiateErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: offerSDP}, nil
}

func (h *fakeHandle) AddCandidate(c webrtc.ICECandidateInit) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.candidates = append(h.candidates, c)
	return nil
}

func (h *fakeHandle) Play(ctx context.Context) error { return h.playErr }
func (h *fakeHandle) Release()                       { h.released.Store(true) }
func (h *fakeHandle) Health() capture.Health         { return capture.HealthOk }

func (h *fakeHandle) addedCandidates() []webrtc.ICECandidateInit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), h.candidates...)
}

type fakeEngine struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	buildErr error
	next     func() *fakeHandle
	lastOpts pipeline.BuildOpts
}

func (e *fakeEngine) Build(ctx context.Context, opts pipeline.BuildOpts) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buildErr != nil {
		return nil, e.buildErr
	}
	h := &fakeHandle{id: "fake"}
	if e.next != nil {
		h = e.next()
	}
	e.handles = append(e.handles, h)
	e.lastOpts = opts
	return h, nil
}

func (e *fakeEngine) built() []*fakeHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeHandle(nil), e.handles...)
}

func testConf() config.Streamer {
	return config.Streamer{
		NegotiationTimeout: time.Second,
		MailboxCap:         8,
	}
}

func validOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
}

func TestCoordinatorOfferStopCycle(t *testing.T) {
	eng := &fakeEngine{}
	c := NewCoordinator(eng, testConf(), logger.Default())

	for i := 0; i < 5; i++ {
		answer, _, err := c.HandleOffer(context.Background(), validOffer())
		if err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
		if answer.Type != webrtc.SDPTypeAnswer {
			t.Fatalf("offer %d: want answer, got %v", i, answer.Type)
		}
		if got := c.Status(); got != "ACTIVE" {
			t.Fatalf("offer %d: want ACTIVE, got %s", i, got)
		}
		c.Stop()
		if got := c.Status(); got != "CLOSED" {
			t.Fatalf("stop %d: want CLOSED, got %s", i, got)
		}
	}
	for i, h := range eng.built() {
		if !h.released.Load() {
			t.Errorf("handle %d leaked", i)
		}
	}
}

func TestCoordinatorStopIdempotent(t *testing.T) {
	c := NewCoordinator(&fakeEngine{}, testConf(), logger.Default())
	c.Stop()
	c.Stop()
	if got := c.Status(); got != "CLOSED" {
		t.Errorf("want CLOSED, got %s", got)
	}
}

func TestCoordinatorMalformedOffer(t *testing.T) {
	eng := &fakeEngine{}
	c := NewCoordinator(eng, testConf(), logger.Default())

	for _, offer := range []webrtc.SessionDescription{
		{Type: webrtc.SDPTypeAnswer, SDP: offerSDP},
		{Type: webrtc.SDPTypeOffer, SDP: ""},
		{Type: webrtc.SDPTypeOffer, SDP: "not sdp at all"},
	} {
		_, _, err := c.HandleOffer(context.Background(), offer)
		if !errors.Is(err, ErrMalformedOffer) {
			t.Errorf("offer %+v: want ErrMalformedOffer, got %v", offer, err)
		}
		var ne *NegotiationError
		if !errors.As(err, &ne) {
			t.Errorf("offer %+v: want NegotiationError, got %T", offer, err)
		}
	}
	if len(eng.built()) != 0 {
		t.Error("malformed offer reached the engine")
	}
}

func TestCoordinatorNegotiationFailureReleasesHandle(t *testing.T) {
	boom := errors.New("dtls handshake failed")
	eng := &fakeEngine{next: func() *fakeHandle {
		return &fakeHandle{id: "fail", negotiateErr: boom}
	}}
	c := NewCoordinator(eng, testConf(), logger.Default())

	_, _, err := c.HandleOffer(context.Background(), validOffer())
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped %v, got %v", boom, err)
	}
	if got := c.Status(); got != "FAILED" {
		t.Errorf("want FAILED, got %s", got)
	}
	hs := eng.built()
	if len(hs) != 1 || !hs[0].released.Load() {
		t.Error("failed negotiation leaked its handle")
	}
}

func TestCoordinatorNegotiationTimeout(t *testing.T) {
	eng := &fakeEngine{next: func() *fakeHandle {
		return &fakeHandle{id: "slow", negotiateDelay: time.Second}
	}}
	conf := testConf()
	conf.NegotiationTimeout = 20 * time.Millisecond
	c := NewCoordinator(eng, conf, logger.Default())

	_, _, err := c.HandleOffer(context.Background(), validOffer())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	hs := eng.built()
	if len(hs) != 1 || !hs[0].released.Load() {
		t.Error("timed-out negotiation leaked its handle")
	}
}

func TestCoordinatorIceBeforeOffer(t *testing.T) {
	eng := &fakeEngine{}
	c := NewCoordinator(eng, testConf(), logger.Default())

	early := webrtc.ICECandidateInit{Candidate: "candidate:early"}
	c.HandleIce(early) // no session yet, must not panic or error

	if _, _, err := c.HandleOffer(context.Background(), validOffer()); err != nil {
		t.Fatal(err)
	}
	hs := eng.built()
	if len(hs) != 1 {
		t.Fatalf("want 1 handle, got %d", len(hs))
	}
	got := hs[0].addedCandidates()
	if len(got) != 1 || got[0].Candidate != "candidate:early" {
		t.Errorf("orphaned candidate not flushed into the new handle: %v", got)
	}
}

func TestCoordinatorReplaceClosesPrevious(t *testing.T) {
	eng := &fakeEngine{}
	c := NewCoordinator(eng, testConf(), logger.Default())

	if _, _, err := c.HandleOffer(context.Background(), validOffer()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.HandleOffer(context.Background(), validOffer()); err != nil {
		t.Fatal(err)
	}

	hs := eng.built()
	if len(hs) != 2 {
		t.Fatalf("want 2 handles, got %d", len(hs))
	}
	if !hs[0].released.Load() {
		t.Error("replaced session kept its handle alive")
	}
	if hs[1].released.Load() {
		t.Error("live session's handle was released")
	}
	if got := c.Status(); got != "ACTIVE" {
		t.Errorf("want ACTIVE, got %s", got)
	}
}

func TestCoordinatorConcurrentOffers(t *testing.T) {
	eng := &fakeEngine{next: func() *fakeHandle {
		return &fakeHandle{id: "h", negotiateDelay: 5 * time.Millisecond}
	}}
	c := NewCoordinator(eng, testConf(), logger.Default())

	const offers = 8
	var wg sync.WaitGroup
	for i := 0; i < offers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.HandleOffer(context.Background(), validOffer())
		}()
	}
	wg.Wait()

	live := 0
	for _, h := range eng.built() {
		if !h.released.Load() {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("want exactly one live handle after %d racing offers, got %d", offers, live)
	}
	c.Stop()
	for i, h := range eng.built() {
		if !h.released.Load() {
			t.Errorf("handle %d leaked after stop", i)
		}
	}
}

func TestCoordinatorOutboundIceDeliveredOnce(t *testing.T) {
	eng := &fakeEngine{}
	c := NewCoordinator(eng, testConf(), logger.Default())

	if _, _, err := c.HandleOffer(context.Background(), validOffer()); err != nil {
		t.Fatal(err)
	}
	// candidates gathered after the answer went out trickle through the feed
	eng.lastOpts.OnICECandidate(&webrtc.ICECandidateInit{Candidate: "candidate:late"})
	got := c.DrainOutboundIce()
	if len(got) != 1 || got[0].Candidate != "candidate:late" {
		t.Fatalf("want the late candidate, got %v", got)
	}
	if len(c.DrainOutboundIce()) != 0 {
		t.Error("candidate delivered twice")
	}
}

func TestCoordinatorIceListenerNotifiedWhenActive(t *testing.T) {
	eng := &fakeEngine{}
	c := NewCoordinator(eng, testConf(), logger.Default())

	notified := 0
	var fromFeed []webrtc.ICECandidateInit
	c.OnIce = func() {
		notified++
		fromFeed = append(fromFeed, c.DrainOutboundIce()...)
	}

	// a candidate gathered mid-negotiation rides the answer, not the feed
	eng.next = func() *fakeHandle {
		h := &fakeHandle{id: "h"}
		h.onNegotiate = func() {
			eng.lastOpts.OnICECandidate(&webrtc.ICECandidateInit{Candidate: "candidate:early"})
		}
		return h
	}
	_, ice, err := c.HandleOffer(context.Background(), validOffer())
	if err != nil {
		t.Fatal(err)
	}
	if notified != 0 {
		t.Errorf("mid-negotiation candidate hit the feed %d times", notified)
	}
	if len(ice) != 1 || ice[0].Candidate != "candidate:early" {
		t.Fatalf("early candidate missing from the answer: %v", ice)
	}

	// a candidate gathered while ACTIVE reaches the feed right away
	eng.lastOpts.OnICECandidate(&webrtc.ICECandidateInit{Candidate: "candidate:late"})
	if notified != 1 {
		t.Fatalf("want one feed notification, got %d", notified)
	}
	if len(fromFeed) != 1 || fromFeed[0].Candidate != "candidate:late" {
		t.Fatalf("late candidate did not reach the feed: %v", fromFeed)
	}
}

func TestCoordinatorMalformedOfferKeepsActiveSession(t *testing.T) {
	eng := &fakeEngine{}
	c := NewCoordinator(eng, testConf(), logger.Default())

	if _, _, err := c.HandleOffer(context.Background(), validOffer()); err != nil {
		t.Fatal(err)
	}
	_, _, err := c.HandleOffer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"})
	if !errors.Is(err, ErrMalformedOffer) {
		t.Fatalf("want ErrMalformedOffer, got %v", err)
	}
	if got := c.Status(); got != "ACTIVE" {
		t.Errorf("a rejected offer must not disturb the live session, got %s", got)
	}
	if hs := eng.built(); len(hs) != 1 || hs[0].released.Load() {
		t.Error("the live handle was released by a rejected offer")
	}
}

func TestCoordinatorDegradedStatus(t *testing.T) {
	eng := &fakeEngine{}
	c := NewCoordinator(eng, testConf(), logger.Default())

	if _, _, err := c.HandleOffer(context.Background(), validOffer()); err != nil {
		t.Fatal(err)
	}
	eng.lastOpts.OnHealth(capture.HealthDegraded)
	if got := c.Status(); got != "DEGRADED" {
		t.Errorf("want DEGRADED, got %s", got)
	}
}
