// Package sdp provides the offer/answer helpers the WebRTC ingest/egress
// paths need on top of github.com/pion/sdp/v3 and github.com/pion/webrtc/v4:
// building a local description and waiting out ICE gathering, and
// extracting mid/kind pairs from negotiated transceivers so a publisher's
// video/audio tracks can be mapped back onto internal/source.Source by
// name. Grounded on gtfodev-camsRelay/pkg/bridge.go's Negotiate, which
// performs the same CreateOffer/SetLocalDescription/GatheringComplete/mid
// extraction sequence against Cloudflare Calls instead of a browser peer.
package sdp

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	rerrors "github.com/ethan/streamcore/internal/errors"
)

// GatherTimeout bounds how long CreateLocalOffer/CreateLocalAnswer wait for
// ICE candidate gathering to finish before giving up. Trickle ICE is not
// used here: the SDP exchanged with WHIP/WHEP clients is a single
// request/response, so the full candidate set must be known up front.
const GatherTimeout = 10 * time.Second

// TransceiverMid describes one negotiated transceiver's identity.
type TransceiverMid struct {
	Mid  string
	Kind webrtc.RTPCodecType
}

// CreateLocalOffer creates an SDP offer on pc, sets it as the local
// description, and blocks until ICE gathering completes (or ctx is done,
// or GatherTimeout elapses), returning the non-trickle offer SDP.
func CreateLocalOffer(ctx context.Context, pc *webrtc.PeerConnection) (*webrtc.SessionDescription, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, rerrors.NewMediaError("sdp.create_offer", err)
	}
	return finishLocalDescription(ctx, pc, offer)
}

// CreateLocalAnswer creates an SDP answer for a remote offer already set
// on pc via SetRemoteDescription, waits out ICE gathering, and returns the
// non-trickle answer SDP.
func CreateLocalAnswer(ctx context.Context, pc *webrtc.PeerConnection) (*webrtc.SessionDescription, error) {
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, rerrors.NewMediaError("sdp.create_answer", err)
	}
	return finishLocalDescription(ctx, pc, answer)
}

func finishLocalDescription(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return nil, rerrors.NewMediaError("sdp.set_local_description", err)
	}
	timer := time.NewTimer(GatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		return nil, rerrors.NewTimeoutError("sdp.ice_gathering", GatherTimeout, nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return pc.LocalDescription(), nil
}

// ApplyRemoteDescription sets sdpBody as pc's remote description of the
// given type ("offer" or "answer").
func ApplyRemoteDescription(pc *webrtc.PeerConnection, typ webrtc.SDPType, sdpBody string) error {
	desc := webrtc.SessionDescription{Type: typ, SDP: sdpBody}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return rerrors.NewMediaError("sdp.set_remote_description", fmt.Errorf("%s: %w", typ, err))
	}
	return nil
}

// TransceiverMids returns the negotiated mid for every transceiver on pc
// that has been assigned one (only true after SetLocalDescription), each
// paired with its media kind. Publish/play handlers use this to bind the correct
// transceiver to each of a Source's audio/video tracks.
func TransceiverMids(pc *webrtc.PeerConnection) []TransceiverMid {
	var out []TransceiverMid
	for _, t := range pc.GetTransceivers() {
		if t.Mid() == "" {
			continue
		}
		out = append(out, TransceiverMid{Mid: t.Mid(), Kind: t.Kind()})
	}
	return out
}

// MidForKind returns the first mid matching kind, if any.
func MidForKind(mids []TransceiverMid, kind webrtc.RTPCodecType) (string, bool) {
	for _, m := range mids {
		if m.Kind == kind {
			return m.Mid, true
		}
	}
	return "", false
}
