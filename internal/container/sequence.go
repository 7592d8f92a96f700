package container

import (
	"bytes"
	"fmt"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
)

// maxSamples bounds the sample count a track may declare.
const maxSamples = 1 << 20

// parseSequence reads the image sequence track of a moov box: its sample
// count and the duration of every sample. It returns nil when moov has no
// picture or video track.
func parseSequence(b box) (*Track, error) {
	// Hand mp4ff the moov box alone so the HEIF meta boxes it does not
	// know never reach it.
	decoded, err := mp4.DecodeBox(0, bytes.NewReader(b.raw))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	moov, ok := decoded.(*mp4.MoovBox)
	if !ok {
		return nil, fmt.Errorf("decoded %s box: %w", decoded.Type(), ErrBadItem)
	}

	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil {
			continue
		}
		if h := trak.Mdia.Hdlr.HandlerType; h != "pict" && h != "vide" {
			continue
		}
		if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
			return nil, fmt.Errorf("track without sample table: %w", ErrBadItem)
		}
		stbl := trak.Mdia.Minf.Stbl

		timescale := uint32(1000)
		if trak.Mdia.Mdhd != nil && trak.Mdia.Mdhd.Timescale != 0 {
			timescale = trak.Mdia.Mdhd.Timescale
		}

		var count uint32
		switch {
		case stbl.Stsz != nil:
			count = stbl.Stsz.SampleNumber
		case stbl.Stts != nil:
			for _, n := range stbl.Stts.SampleCount {
				count += n
			}
		}

		if count > maxSamples {
			return nil, fmt.Errorf("%d samples: %w", count, ErrBadItem)
		}

		track := &Track{Timescale: timescale, Durations: make([]time.Duration, count)}
		if stbl.Stts != nil {
			for nr := uint32(1); nr <= count; nr++ {
				_, dur := stbl.Stts.GetDecodeTime(nr)
				track.Durations[nr-1] = ticks(dur, timescale)
			}
		}
		return track, nil
	}
	return nil, nil
}

func ticks(n, timescale uint32) time.Duration {
	return time.Duration(uint64(n) * uint64(time.Second) / uint64(timescale))
}
