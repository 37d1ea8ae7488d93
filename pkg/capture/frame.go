package capture

import "time"

// Frame is one H264 access unit pulled from the camera.
type Frame struct {
	Data     []byte
	Duration time.Duration
	Keyframe bool
}

type Health int32

const (
	HealthOk Health = iota
	HealthReconnecting
	HealthDegraded
)

func (h Health) String() string {
	switch h {
	case HealthOk:
		return "ok"
	case HealthReconnecting:
		return "reconnecting"
	case HealthDegraded:
		return "degraded"
	}
	return "unknown"
}
