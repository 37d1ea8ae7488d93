package streamer

import (
	"errors"
	"fmt"
)

var ErrMalformedOffer = errors.New("malformed sdp offer")

// NegotiationError covers everything that can fail an offer: a
// malformed remote SDP, a pipeline build error, or a negotiation
// timeout. Session-fatal, process survives.
type NegotiationError struct {
	Err error
}

func (e *NegotiationError) Error() string { return fmt.Sprintf("negotiation: %v", e.Err) }
func (e *NegotiationError) Unwrap() error { return e.Err }
