package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/capture"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/config"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
)

// a linked pipeline over a source that was never connected, enough to
// drive the play/stop/release lifecycle without a camera
func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	r := NewRunner(logger.Default())
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	var conf config.Camera
	conf.Url = "rtsp://127.0.0.1/test"
	p := &Pipeline{
		id:     "lifecycle-test",
		runner: r,
		source: capture.NewSource(conf, logger.Default()),
		log:    logger.Default(),
	}
	p.state.Store(int32(StateLinked))
	return p
}

func TestPipelinePlayStopStates(t *testing.T) {
	p := testPipeline(t)
	ctx := context.Background()

	if err := p.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := p.State(); got != StatePlaying {
		t.Errorf("after play: want PLAYING, got %v", got)
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := p.State(); got != StateStopped {
		t.Errorf("after stop: want STOPPED, got %v", got)
	}
}

func TestPipelineReleaseIsTerminal(t *testing.T) {
	p := testPipeline(t)
	ctx := context.Background()

	p.Release()
	p.Release() // idempotent

	if err := p.Play(ctx); !errors.Is(err, ErrReleased) {
		t.Errorf("play on released handle: want ErrReleased, got %v", err)
	}
	if err := p.Stop(ctx); !errors.Is(err, ErrReleased) {
		t.Errorf("stop on released handle: want ErrReleased, got %v", err)
	}
	if err := p.AddCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"}); !errors.Is(err, ErrReleased) {
		t.Errorf("candidate on released handle: want ErrReleased, got %v", err)
	}
}
