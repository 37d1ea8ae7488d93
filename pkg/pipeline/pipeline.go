package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/gofrs/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/capture"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/config"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
)

type State int32

const (
	StateNew State = iota
	StateBuilding
	StateLinked
	StatePlaying
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateBuilding:
		return "BUILDING"
	case StateLinked:
		return "LINKED"
	case StatePlaying:
		return "PLAYING"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Manager builds and drives pipelines. All graph mutation goes
// through its runner, the single engine execution context.
type Manager struct {
	runner *Runner
	api    *ApiFactory
	camera config.Camera
	opts   config.Streamer
	log    *logger.Logger
}

func NewManager(conf config.StreamerConfig, log *logger.Logger) (*Manager, error) {
	api, err := NewApiFactory(conf.Webrtc, log, nil)
	if err != nil {
		return nil, err
	}
	return &Manager{
		runner: NewRunner(log),
		api:    api,
		camera: conf.Camera,
		opts:   conf.Streamer,
		log:    log,
	}, nil
}

// Shutdown stops the engine context with a bounded grace period.
func (m *Manager) Shutdown(ctx context.Context) error { return m.runner.Shutdown(ctx) }

type BuildOpts struct {
	OnICECandidate func(*webrtc.ICECandidateInit)
	OnHealth       func(capture.Health)
}

// Pipeline is the handle to one constructed media graph. Owned by the
// manager; callers hold a reference and drive it through the methods
// below, never mutating engine state directly.
type Pipeline struct {
	id       string
	runner   *Runner
	peer     *peer
	source   *capture.Source
	graph    *graph
	state    atomic.Int32
	released atomic.Bool
	log      *logger.Logger
}

// Build constructs the graph: transport sink and static stages
// eagerly on the engine context, then the upstream attach whose
// runtime-negotiated stages link reactively within per-stage
// timeouts. Any error releases the partially built handle.
func (m *Manager) Build(ctx context.Context, opts BuildOpts) (*Pipeline, error) {
	id := uuid.Must(uuid.NewV4()).String()
	p := &Pipeline{
		id:     id,
		runner: m.runner,
		log:    m.log.Extend(m.log.With().Str("pipe", id[:8])),
	}
	p.state.Store(int32(StateBuilding))

	err := m.runner.Do(ctx, func() error {
		pr, err := newPeer(m.api, m.log, opts.OnICECandidate)
		if err != nil {
			return &BuildError{Stage: StageSink, Err: err}
		}
		p.peer = pr
		p.graph = newGraph()
		p.source = capture.NewSource(m.camera, m.log)
		p.source.OnHealth = opts.OnHealth
		p.source.OnFrame = func(f capture.Frame) {
			out, err := p.graph.run(f)
			if err != nil {
				m.log.Error().Err(err).Msg("frame dropped in graph")
				return
			}
			if err := p.peer.writeSample(out.Data, out.Duration); err != nil {
				m.log.Debug().Err(err).Msg("sink write")
				return
			}
			metricFramesForwarded.Inc()
		}
		return nil
	})
	if err != nil {
		p.fail()
		return nil, err
	}

	// The attach is network I/O, it runs off the engine context so a
	// slow camera cannot stall unrelated engine work. Graph linkage
	// updates happen before any frame flows.
	if err := p.source.Connect(ctx, p.graph.notify); err != nil {
		p.fail()
		return nil, &BuildError{Stage: capture.StageCapture, Err: err}
	}
	if err := p.graph.awaitLinked(ctx, m.opts.StageLinkTimeout); err != nil {
		p.fail()
		return nil, err
	}

	p.state.Store(int32(StateLinked))
	m.log.Debug().Msgf("pipeline %s linked", p.id)
	return p, nil
}

func (p *Pipeline) ID() string   { return p.id }
func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) Health() capture.Health {
	if p.source == nil {
		return capture.HealthOk
	}
	return p.source.Health()
}

// Negotiate applies the remote offer and produces the local answer on
// the engine context, bridged back through the runner and bounded by
// ctx.
func (p *Pipeline) Negotiate(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if p.released.Load() {
		return webrtc.SessionDescription{}, ErrReleased
	}
	var answer webrtc.SessionDescription
	err := p.runner.Do(ctx, func() (err error) {
		answer, err = p.peer.answer(offer)
		return
	})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// AddCandidate forwards a remote ICE candidate into the transport
// sink, best effort.
func (p *Pipeline) AddCandidate(candidate webrtc.ICECandidateInit) error {
	if p.released.Load() {
		return ErrReleased
	}
	p.runner.Post(func() {
		if err := p.peer.addCandidate(candidate); err != nil {
			p.log.Warn().Err(err).Msg("ice candidate not applied")
		}
	})
	return nil
}

// Play starts the media flow.
func (p *Pipeline) Play(ctx context.Context) error {
	if p.released.Load() {
		return ErrReleased
	}
	return p.runner.Do(ctx, func() error {
		p.source.Start()
		p.state.Store(int32(StatePlaying))
		return nil
	})
}

// Stop pauses the media flow without releasing the handle.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.released.Load() {
		return ErrReleased
	}
	return p.runner.Do(ctx, func() error {
		p.source.Stop()
		p.state.Store(int32(StateStopped))
		return nil
	})
}

// Release frees the capture connection and the transport sink.
// Idempotent, always safe to call on a failed or already released
// handle.
func (p *Pipeline) Release() {
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	if State(p.state.Load()) != StateFailed {
		p.state.Store(int32(StateStopped))
	}
	p.runner.Post(func() { p.teardown() })
}

// fail releases a partially built handle after a build error.
func (p *Pipeline) fail() {
	p.state.Store(int32(StateFailed))
	if p.released.CompareAndSwap(false, true) {
		p.runner.Post(func() { p.teardown() })
	}
}

func (p *Pipeline) teardown() {
	if p.source != nil {
		p.source.Stop()
	}
	if p.peer != nil {
		p.peer.close()
	}
}
