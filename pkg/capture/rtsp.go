package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/pion/rtp"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/config"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
)

// rtspConn adapts a gortsplib client session to the reader interface.
// Access units decoded from the RTP callback are handed over through a
// channel; ReadFrame pulls from it. The session error from Wait is
// delivered exactly once on errs, so it latches: once the session is
// dead every later ReadFrame returns the same error immediately
// instead of blocking on channels nothing writes to anymore.
type rtspConn struct {
	client *gortsplib.Client
	frames chan Frame
	errs   chan error

	mu  sync.Mutex
	err error
}

func (c *rtspConn) ReadFrame() (Frame, error) {
	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return Frame{}, err
	}
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errs:
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		return Frame{}, err
	}
}

func (c *rtspConn) Close() { c.client.Close() }

// rtspDial attaches to the camera: DESCRIBE, find the H264 media,
// SETUP, PLAY. The notify callback reports stage readiness as the
// attach progresses (capture once the stream format is known, depay
// once the depacketizer for it exists).
func rtspDial(conf config.Camera, log *logger.Logger) dialFunc {
	return func(ctx context.Context, notify func(stage string)) (reader, error) {
		u, err := base.ParseURL(conf.Url)
		if err != nil {
			return nil, fmt.Errorf("rtsp url: %w", err)
		}

		client := &gortsplib.Client{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err = client.Start(u.Scheme, u.Host); err != nil {
			return nil, err
		}

		desc, _, err := client.Describe(u)
		if err != nil {
			client.Close()
			return nil, err
		}

		var h264 *format.H264
		medi := desc.FindFormat(&h264)
		if medi == nil {
			client.Close()
			return nil, fmt.Errorf("camera at %s publishes no H264 media", u.Host)
		}
		notify(StageCapture)

		dec, err := h264.CreateDecoder()
		if err != nil {
			client.Close()
			return nil, err
		}
		notify(StageDepay)

		if _, err = client.Setup(desc.BaseURL, medi, 0, 0); err != nil {
			client.Close()
			return nil, err
		}

		conn := &rtspConn{
			client: client,
			frames: make(chan Frame, queueDepth(conf.Latency)),
			errs:   make(chan error, 1),
		}

		var lastPTS int64
		havePTS := false
		clock := int64(h264.ClockRate())
		client.OnPacketRTP(medi, h264, func(pkt *rtp.Packet) {
			au, err := dec.Decode(pkt)
			if err != nil {
				if err != rtph264.ErrNonStartingPacketAndNoPrevious && err != rtph264.ErrMorePacketsNeeded {
					log.Debug().Err(err).Msg("h264 depacketize")
				}
				return
			}
			frame := Frame{Data: joinAccessUnit(au), Keyframe: isKeyframe(au)}
			if pts, ok := client.PacketPTS2(medi, pkt); ok {
				if havePTS && pts > lastPTS {
					frame.Duration = time.Duration(pts-lastPTS) * time.Second / time.Duration(clock)
				}
				lastPTS = pts
				havePTS = true
			}
			select {
			case conn.frames <- frame:
			default:
				// frame backlog, drop to keep latency bounded
			}
		})

		if _, err = client.Play(nil); err != nil {
			client.Close()
			return nil, err
		}

		go func() {
			err := client.Wait()
			if err == nil {
				err = errors.New("rtsp session ended")
			}
			conn.errs <- err
		}()

		return conn, nil
	}
}

// queueDepth converts the configured latency budget in milliseconds
// into a frame queue capacity at the nominal stream cadence. Buffered
// frames are added latency, so the queue never holds more than the
// budget allows.
func queueDepth(latencyMs int) int {
	depth := int(time.Duration(latencyMs) * time.Millisecond / defaultFrameDuration)
	if depth < 1 {
		return 1
	}
	return depth
}

// joinAccessUnit flattens NAL units into Annex-B form for the sample track.
func joinAccessUnit(au [][]byte) []byte {
	n := 0
	for _, nalu := range au {
		n += 4 + len(nalu)
	}
	out := make([]byte, 0, n)
	for _, nalu := range au {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, nalu...)
	}
	return out
}

func isKeyframe(au [][]byte) bool {
	for _, nalu := range au {
		if len(nalu) > 0 && nalu[0]&0x1F == 5 {
			return true
		}
	}
	return false
}
