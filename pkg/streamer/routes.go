package streamer

import (
	"encoding/json"
	"net/http"

	"github.com/pion/webrtc/v4"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/network/httpx"
)

type (
	offerRequest struct {
		Sdp  string `json:"sdp"`
		Type string `json:"type"`
	}
	offerResponse struct {
		Sdp  string         `json:"sdp"`
		Type string         `json:"type"`
		Ice  []iceCandidate `json:"ice,omitempty"`
	}
	iceRequest struct {
		Candidate iceCandidate `json:"candidate"`
	}
	iceCandidate struct {
		Candidate     string  `json:"candidate"`
		SdpMid        *string `json:"sdpMid"`
		SdpMLineIndex *uint16 `json:"sdpMLineIndex"`
	}
	successResponse struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	statusResponse struct {
		Status string `json:"status"`
	}
)

func toInit(c iceCandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: c.SdpMid, SDPMLineIndex: c.SdpMLineIndex}
}

func fromInit(c webrtc.ICECandidateInit) iceCandidate {
	return iceCandidate{Candidate: c.Candidate, SdpMid: c.SDPMid, SdpMLineIndex: c.SDPMLineIndex}
}

// Routes binds the signaling surface onto the mux:
//
//	POST /stream/offer          negotiate a session, answer + early ice
//	POST /stream/ice-candidate  accept a remote candidate, best effort
//	POST /stream/stop           tear the session down, idempotent
//	GET  /stream/status         visible session status
//	GET  /stream/events         websocket status/ice feed
//	GET  /log                   stub, the collector is external
func Routes(mux *httpx.Mux, coord *Coordinator, feed *EventFeed, log *logger.Logger) {
	mux.HandleFunc("/stream/offer", func(w httpx.ResponseWriter, r *httpx.Request) {
		var req offerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusInternalServerError, successResponse{Success: false, Error: "bad request body"})
			return
		}
		offer := webrtc.SessionDescription{Type: webrtc.NewSDPType(req.Type), SDP: req.Sdp}
		answer, ice, err := coord.HandleOffer(r.Context(), offer)
		if err != nil {
			log.Error().Err(err).Msg("offer rejected")
			writeJSON(w, http.StatusInternalServerError, successResponse{Success: false, Error: err.Error()})
			return
		}
		resp := offerResponse{Sdp: answer.SDP, Type: "answer"}
		for _, c := range ice {
			resp.Ice = append(resp.Ice, fromInit(c))
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/stream/ice-candidate", func(w httpx.ResponseWriter, r *httpx.Request) {
		var req iceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			// accept-and-best-effort, the contract never fails here
			log.Warn().Err(err).Msg("unreadable ice candidate")
			writeJSON(w, http.StatusOK, successResponse{Success: true})
			return
		}
		coord.HandleIce(toInit(req.Candidate))
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	})

	mux.HandleFunc("/stream/stop", func(w httpx.ResponseWriter, _ *httpx.Request) {
		coord.Stop()
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	})

	mux.HandleFunc("/stream/status", func(w httpx.ResponseWriter, _ *httpx.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Status: coord.Status()})
	})

	if feed != nil {
		mux.HandleFunc("/stream/events", feed.Handler)
	}

	mux.HandleW("/log", func(w httpx.ResponseWriter) {
		writeJSON(w, http.StatusOK, []any{})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
