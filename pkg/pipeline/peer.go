package pipeline

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
)

// peer wraps the transport-sink end of the graph: one pion peer
// connection with a single outgoing H264 track. The browser is the
// offerer, we answer.
type peer struct {
	conn *webrtc.PeerConnection
	v    *webrtc.TrackLocalStaticSample
	log  *logger.Logger
}

var samplePool sync.Pool

func newPeer(api *ApiFactory, log *logger.Logger, onICECandidate func(*webrtc.ICECandidateInit)) (*peer, error) {
	conn, err := api.NewPeer()
	if err != nil {
		return nil, err
	}
	p := &peer{conn: conn, log: log}
	conn.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil {
			// ICE gathering finish condition
			p.log.Debug().Msg("ICE gathering was complete probably")
			onICECandidate(nil)
			return
		}
		candidate := ice.ToJSON()
		p.log.Debug().Str("candidate", candidate.Candidate).Msg("ICE")
		onICECandidate(&candidate)
	})
	conn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.log.Debug().Str(".state", state.String()).Msg("ICE")
	})

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, "video", "camera-video")
	if err != nil {
		p.close()
		return nil, err
	}
	sender, err := conn.AddTrack(video)
	if err != nil {
		p.close()
		return nil, err
	}
	// Read incoming RTCP packets
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()
	p.v = video
	p.log.Debug().Msgf("Added [%s] track", video.Codec().MimeType)
	return p, nil
}

// answer applies the remote offer and produces the local answer.
// Runs on the engine context only.
func (p *peer) answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.conn.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err = p.conn.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	p.log.Debug().Msg("Created Answer")
	return answer, nil
}

func (p *peer) writeSample(data []byte, duration time.Duration) error {
	sample, _ := samplePool.Get().(*media.Sample)
	if sample == nil {
		sample = new(media.Sample)
	}
	sample.Data = data
	sample.Duration = duration
	err := p.v.WriteSample(*sample)
	if err != nil {
		return err
	}
	samplePool.Put(sample)
	return nil
}

func (p *peer) addCandidate(candidate webrtc.ICECandidateInit) error {
	if err := p.conn.AddICECandidate(candidate); err != nil {
		return err
	}
	p.log.Debug().Str("candidate", candidate.Candidate).Msg("Ice")
	return nil
}

func (p *peer) close() {
	if p.conn == nil {
		return
	}
	if p.conn.ConnectionState() < webrtc.PeerConnectionStateDisconnected {
		// ignore this due to DTLS fatal: conn is closed
		_ = p.conn.Close()
	}
	p.log.Debug().Msg("WebRTC stop")
}
