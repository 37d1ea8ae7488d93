package pipeline

import (
	"context"
	"time"

	"github.com/saikamal-replicantsys/rtsp-demo/pkg/capture"
)

// Static stage names. Capture and depay names come from the capture
// package since their readiness is negotiated with the camera at
// runtime.
const (
	StageDecode  = "decode"
	StageConvert = "convert"
	StageEncode  = "encode"
	StagePay     = "pay"
	StageSink    = "sink"
)

type stage struct {
	name    string
	linked  bool
	process func(capture.Frame) (capture.Frame, error)
}

// graph models the processing chain
// capture → depay → decode → convert → encode → pay → sink
// as named stages. Static stages link eagerly at construction;
// runtime-negotiated ones (capture, depay) link reactively as the
// upstream attach emits stage-ready notifications. The structure is
// immutable once linked, so the frame path reads it without locks.
type graph struct {
	stages  []*stage
	pending []string
	ready   chan string
}

func identity(f capture.Frame) (capture.Frame, error) { return f, nil }

func newGraph() *graph {
	g := &graph{
		// ready is buffered so notification producers never block on
		// a slow or abandoned await
		ready:   make(chan string, 8),
		pending: []string{capture.StageCapture, capture.StageDepay},
	}
	for _, name := range []string{
		capture.StageCapture, capture.StageDepay,
		StageDecode, StageConvert, StageEncode, StagePay, StageSink,
	} {
		s := &stage{name: name, process: identity}
		// decode/convert/encode compute runs upstream in this
		// deployment, the stages forward access units as is
		switch name {
		case capture.StageCapture, capture.StageDepay:
			s.linked = false
		default:
			s.linked = true
		}
		g.stages = append(g.stages, s)
	}
	return g
}

// notify reports a stage as ready. Callable from any goroutine.
func (g *graph) notify(name string) {
	select {
	case g.ready <- name:
	default:
	}
}

// awaitLinked consumes stage-ready notifications in the order the
// pending stages were presented, each bounded by perStage. A missing
// notification fails the build with an incomplete graph.
func (g *graph) awaitLinked(ctx context.Context, perStage time.Duration) error {
	for _, want := range g.pending {
		timer := time.NewTimer(perStage)
		select {
		case name := <-g.ready:
			timer.Stop()
			if name != want {
				return &BuildError{Stage: want, Err: ErrIncompleteGraph}
			}
			g.stage(name).linked = true
		case <-timer.C:
			return &BuildError{Stage: want, Err: ErrIncompleteGraph}
		case <-ctx.Done():
			timer.Stop()
			return &BuildError{Stage: want, Err: ctx.Err()}
		}
	}
	g.pending = nil
	return nil
}

func (g *graph) stage(name string) *stage {
	for _, s := range g.stages {
		if s.name == name {
			return s
		}
	}
	return nil
}

// run pushes a frame through every linked stage.
func (g *graph) run(f capture.Frame) (capture.Frame, error) {
	var err error
	for _, s := range g.stages {
		if !s.linked {
			continue
		}
		if f, err = s.process(f); err != nil {
			return f, err
		}
	}
	return f, nil
}
