package transmux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlsclient/internal/frag"
	"hlsclient/internal/logger"
)

func collectResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transmux result")
		return Result{}
	}
}

func TestPassthrough_ForwardsPayloadWithPlaylistTiming(t *testing.T) {
	results := make(chan Result, 1)
	p := NewPassthrough(logger.Discard(), func(r Result) { results <- r })

	f := &frag.Fragment{Kind: frag.KindMain, Level: 1, SN: 7, Start: 28, Duration: 4}
	p.Push(Request{Frag: f, Data: []byte("media")})

	r := collectResult(t, results)
	assert.Equal(t, 1, r.Level)
	assert.Equal(t, 7, r.SN)
	require.NotNil(t, r.Video)
	assert.Equal(t, []byte("media"), r.Video.Data)
	assert.Equal(t, 28.0, r.Video.StartPTS)
	assert.Equal(t, 32.0, r.Video.EndPTS)
	assert.Equal(t, 0, r.Video.Dropped)
}

func TestPassthrough_InitPTSOncePerDiscontinuity(t *testing.T) {
	results := make(chan Result, 2)
	p := NewPassthrough(logger.Discard(), func(r Result) { results <- r })

	a := &frag.Fragment{Kind: frag.KindMain, SN: 1, Start: 0, Duration: 4, CC: 0}
	b := &frag.Fragment{Kind: frag.KindMain, SN: 2, Start: 4, Duration: 4, CC: 0}
	p.Push(Request{Frag: a, Data: []byte("a")})
	first := collectResult(t, results)
	p.Push(Request{Frag: b, Data: []byte("b")})
	second := collectResult(t, results)

	assert.True(t, first.HasInitPTS)
	assert.False(t, second.HasInitPTS)
}

func TestPassthrough_DestroyRegeneratesInitState(t *testing.T) {
	results := make(chan Result, 2)
	p := NewPassthrough(logger.Discard(), func(r Result) { results <- r })

	f := &frag.Fragment{Kind: frag.KindMain, SN: 1, Start: 0, Duration: 4}
	p.Push(Request{Frag: f, Data: []byte("a")})
	collectResult(t, results)

	p.Destroy()
	p.Push(Request{Frag: f, Data: []byte("a")})
	again := collectResult(t, results)
	assert.True(t, again.HasInitPTS)
}

func TestPassthrough_InitSegmentTracks(t *testing.T) {
	results := make(chan Result, 1)
	p := NewPassthrough(logger.Discard(), func(r Result) { results <- r })

	f := &frag.Fragment{Kind: frag.KindMain, SN: 3, Start: 12, Duration: 4}
	p.Push(Request{Frag: f, Data: []byte("media"), InitSegmentData: []byte("init")})

	r := collectResult(t, results)
	require.Contains(t, r.InitSegmentTracks, "video")
	assert.Equal(t, []byte("init"), r.InitSegmentTracks["video"].Data)
}
