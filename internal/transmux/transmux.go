// Package transmux defines the contract with the repackaging collaborator.
// The scheduler never looks inside media data; it hands loaded fragment
// payloads to a Transmuxer and reacts to the completion result.
package transmux

import (
	"hlsclient/internal/frag"
)

// Request carries one loaded fragment payload into the transmuxer.
type Request struct {
	Frag            *frag.Fragment
	Data            []byte
	InitSegmentData []byte
	Key             []byte
	KeyIV           []byte
	// AccurateTimeOffset is false while the level's PTS mapping is still
	// an estimate.
	AccurateTimeOffset bool
	TimeOffset         float64
}

// TrackOutput is the remuxed payload of one elementary stream.
type TrackOutput struct {
	Data      []byte
	Container string
	Codec     string

	StartPTS float64
	EndPTS   float64
	StartDTS float64
	EndDTS   float64

	// Dropped counts video frames discarded before the first keyframe.
	Dropped int
}

// Result is the completion event of one Request. Level and SN echo the
// request so late results can be matched against the current context.
type Result struct {
	Kind  frag.Kind
	Level int
	SN    int

	Audio *TrackOutput
	Video *TrackOutput

	// DeltaPTS is the audio-video start gap when both streams are present.
	DeltaPTS float64

	// InitSegmentTracks is set when the request carried init bytes that
	// produced codec initialization data.
	InitSegmentTracks map[string]InitTrack

	ID3  [][]byte
	Text [][]byte

	// InitPTS is the base presentation timestamp discovered for the
	// request's discontinuity range.
	HasInitPTS bool
	InitPTS    float64
	CC         int

	Err error
}

// InitTrack describes codec init data for one elementary stream.
type InitTrack struct {
	Container string
	Codec     string
	Data      []byte
}

// Transmuxer repackages fragment payloads. Push is asynchronous; the
// result is delivered to the callback passed at construction. Destroy
// discards internal state so init segments regenerate on the next push.
type Transmuxer interface {
	Push(req Request)
	Destroy()
}
