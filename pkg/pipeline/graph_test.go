package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saikamal-replicantsys/rtsp-demo/pkg/capture"
)

func TestGraphLinksOnNotifications(t *testing.T) {
	g := newGraph()
	g.notify(capture.StageCapture)
	g.notify(capture.StageDepay)

	if err := g.awaitLinked(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatalf("link failed: %v", err)
	}
	for _, s := range g.stages {
		if !s.linked {
			t.Errorf("stage %s is not linked", s.name)
		}
	}
}

func TestGraphIncompleteOnMissingNotification(t *testing.T) {
	g := newGraph()
	g.notify(capture.StageCapture)
	// depay never reports ready

	err := g.awaitLinked(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrIncompleteGraph) {
		t.Fatalf("expected incomplete graph, got %v", err)
	}
	var be *BuildError
	if !errors.As(err, &be) || be.Stage != capture.StageDepay {
		t.Errorf("expected depay stage failure, got %v", err)
	}
}

func TestGraphOutOfOrderNotification(t *testing.T) {
	g := newGraph()
	g.notify(capture.StageDepay)
	g.notify(capture.StageCapture)

	if err := g.awaitLinked(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrIncompleteGraph) {
		t.Fatalf("expected incomplete graph for out of order links, got %v", err)
	}
}

func TestGraphRunForwardsFrames(t *testing.T) {
	g := newGraph()
	g.notify(capture.StageCapture)
	g.notify(capture.StageDepay)
	if err := g.awaitLinked(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	in := capture.Frame{Data: []byte{1, 2, 3}, Duration: 40 * time.Millisecond, Keyframe: true}
	out, err := g.run(in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(out.Data) != string(in.Data) || out.Duration != in.Duration {
		t.Errorf("frame was mangled: %+v", out)
	}
}
