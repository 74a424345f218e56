package level

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"hlsclient/internal/frag"
)

// FromMediaPlaylist converts a decoded media playlist into level details.
// Fragment start times are cumulative from zero; live merging slides them
// onto the session timeline afterwards.
func FromMediaPlaylist(pl *m3u8.MediaPlaylist, base *url.URL, kind frag.Kind, levelIdx int) (*Details, error) {
	d := &Details{
		TargetDuration: pl.TargetDuration,
		Live:           !pl.Closed,
	}

	curKey := pl.Key
	curMap := pl.Map
	cc := int(pl.DiscontinuitySeq)
	start := 0.0

	for _, seg := range pl.Segments {
		if seg == nil {
			break
		}
		if seg.Discontinuity {
			cc++
		}
		if seg.Key != nil {
			curKey = seg.Key
		}
		if seg.Map != nil {
			curMap = seg.Map
		}

		segURL, err := resolve(base, seg.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve segment URI %q: %w", seg.URI, err)
		}

		f := &frag.Fragment{
			Kind:     kind,
			Level:    levelIdx,
			SN:       int(seg.SeqId),
			Start:    start,
			Duration: seg.Duration,
			CC:       cc,
			URL:      segURL,
		}
		if seg.Limit > 0 {
			f.ByteRange = &frag.ByteRange{Length: seg.Limit, Offset: seg.Offset}
		}
		if !seg.ProgramDateTime.IsZero() {
			f.SetPDT(seg.ProgramDateTime)
			d.HasProgramDateTime = true
		}
		if curKey != nil && curKey.Method != "" && curKey.Method != "NONE" {
			f.Encrypted = true
			keyURL, err := resolve(base, curKey.URI)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve key URI %q: %w", curKey.URI, err)
			}
			f.KeyURI = keyURL
			if iv, err := parseIV(curKey.IV); err == nil {
				f.KeyIV = iv
			}
		}

		d.Fragments = append(d.Fragments, f)
		start += seg.Duration
	}

	if len(d.Fragments) == 0 {
		return nil, fmt.Errorf("playlist contains no segments")
	}

	d.StartSN = d.Fragments[0].SN
	d.EndSN = d.Fragments[len(d.Fragments)-1].SN
	d.StartCC = d.Fragments[0].CC
	d.EndCC = cc
	d.TotalDuration = start

	if curMap != nil && curMap.URI != "" {
		mapURL, err := resolve(base, curMap.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve init segment URI %q: %w", curMap.URI, err)
		}
		d.InitSegment = &frag.InitSegment{URL: mapURL}
		if curMap.Limit > 0 {
			d.InitSegment.ByteRange = &frag.ByteRange{Length: curMap.Limit, Offset: curMap.Offset}
		}
	}
	if pl.StartTime != 0 {
		offset := pl.StartTime
		d.StartTimeOffset = &offset
	}

	return d, nil
}

// FromMasterPlaylist converts master playlist variants into levels,
// ordered as declared.
func FromMasterPlaylist(pl *m3u8.MasterPlaylist, base *url.URL) ([]*Level, error) {
	var levels []*Level
	for _, v := range pl.Variants {
		if v == nil || v.Iframe {
			continue
		}
		uri, err := resolve(base, v.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve variant URI %q: %w", v.URI, err)
		}
		lvl := &Level{
			URI:     uri,
			Name:    v.Name,
			Bitrate: int(v.Bandwidth),
		}
		if w, h, ok := parseResolution(v.Resolution); ok {
			lvl.Width, lvl.Height = w, h
		}
		lvl.AudioCodec, lvl.VideoCodec = splitCodecs(v.Codecs)
		levels = append(levels, lvl)
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("master playlist contains no variants")
	}
	return levels, nil
}

func resolve(base *url.URL, ref string) (string, error) {
	if base == nil {
		return ref, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

func parseResolution(res string) (int, int, bool) {
	parts := strings.SplitN(strings.ToLower(res), "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return w, h, true
}

func splitCodecs(codecs string) (audio, video string) {
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(c)
		switch {
		case strings.HasPrefix(c, "mp4a"), strings.HasPrefix(c, "ac-3"), strings.HasPrefix(c, "ec-3"):
			audio = c
		case strings.HasPrefix(c, "avc"), strings.HasPrefix(c, "hvc"), strings.HasPrefix(c, "hev"), strings.HasPrefix(c, "av01"):
			video = c
		}
	}
	return audio, video
}

func parseIV(iv string) ([]byte, error) {
	if iv == "" {
		return nil, fmt.Errorf("empty IV")
	}
	s := strings.TrimPrefix(strings.TrimPrefix(iv, "0x"), "0X")
	return hex.DecodeString(s)
}
