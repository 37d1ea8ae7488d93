package capture

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestRtspConnLatchesSessionError(t *testing.T) {
	sessionErr := errors.New("tcp connection reset")
	conn := &rtspConn{frames: make(chan Frame), errs: make(chan error, 1)}
	conn.errs <- sessionErr

	// the session error is delivered once on the channel, but every
	// read after the session died must keep failing without blocking
	got := make(chan error, 3)
	go func() {
		for i := 0; i < 3; i++ {
			_, err := conn.ReadFrame()
			got <- err
		}
	}()
	for i := 0; i < 3; i++ {
		select {
		case err := <-got:
			if !errors.Is(err, sessionErr) {
				t.Fatalf("read %d: want session error, got %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("read %d blocked on a dead session", i)
		}
	}
}

func TestQueueDepth(t *testing.T) {
	tests := []struct {
		latencyMs int
		want      int
	}{
		{0, 1},
		{30, 1},
		{40, 1},
		{100, 2},
		{400, 10},
	}
	for _, tc := range tests {
		if got := queueDepth(tc.latencyMs); got != tc.want {
			t.Errorf("queueDepth(%d): want %d, got %d", tc.latencyMs, tc.want, got)
		}
	}
}

func TestJoinAccessUnit(t *testing.T) {
	au := [][]byte{{0x67, 0x42}, {0x68, 0xce}, {0x65, 0x88, 0x84}}
	want := []byte{
		0, 0, 0, 1, 0x67, 0x42,
		0, 0, 0, 1, 0x68, 0xce,
		0, 0, 0, 1, 0x65, 0x88, 0x84,
	}
	if got := joinAccessUnit(au); !bytes.Equal(got, want) {
		t.Errorf("joinAccessUnit: got % x", got)
	}
}

func TestIsKeyframe(t *testing.T) {
	tests := []struct {
		name string
		au   [][]byte
		want bool
	}{
		{"idr slice", [][]byte{{0x65, 0x88}}, true},
		{"idr behind parameter sets", [][]byte{{0x67}, {0x68}, {0x65}}, true},
		{"non-idr slice", [][]byte{{0x41, 0x9a}}, false},
		{"sei only", [][]byte{{0x06}}, false},
		{"empty nalu", [][]byte{{}}, false},
		{"empty au", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isKeyframe(tc.au); got != tc.want {
				t.Errorf("want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestBlankFrameIsAnnexBKeyframe(t *testing.T) {
	if !bytes.HasPrefix(blankFrame, []byte{0, 0, 0, 1}) {
		t.Fatal("placeholder frame is not Annex-B")
	}
	// split on start codes and check an IDR slice is present
	var au [][]byte
	for _, part := range bytes.Split(blankFrame, []byte{0, 0, 0, 1}) {
		if len(part) > 0 {
			au = append(au, part)
		}
	}
	if !isKeyframe(au) {
		t.Error("placeholder frame carries no IDR slice")
	}
}
