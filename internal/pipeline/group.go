package pipeline

import "github.com/alxayo/go-rtmp/internal/codec"

// Group is a Packet Group (GOP): an ordered run of packets beginning with
// exactly one keyframe and containing every packet demuxed until (but not
// including) the next keyframe. StartTimestamp is the wall-clock
// millisecond the opening keyframe was demuxed at.
type Group struct {
	Packets        []*codec.Packet
	StartTimestamp int64
	CodecInfo      codec.CodecInfo
	AudioExtradata []byte
	HasAudio       bool
}

// DurationMS computes the segment length the Archiver names its file with:
// the sum of each video packet's duration*time_base when every video packet
// carries a positive duration, otherwise the span between the group's min
// and max video dts. Audio packets are not counted.
func (g *Group) DurationMS() int64 {
	allPositive := len(g.Packets) > 0
	var sum float64
	minDTS, maxDTS := int64(0), int64(0)
	first := true

	for _, p := range g.Packets {
		if p.StreamType != codec.StreamTypeVideo {
			continue
		}
		if p.Duration <= 0 {
			allPositive = false
		} else {
			sum += float64(p.Duration) * p.TimeBaseSeconds()
		}
		if first {
			minDTS, maxDTS = p.DTS, p.DTS
			first = false
			continue
		}
		if p.DTS < minDTS {
			minDTS = p.DTS
		}
		if p.DTS > maxDTS {
			maxDTS = p.DTS
		}
	}

	if allPositive && sum > 0 {
		return int64(sum * 1000)
	}

	if first {
		return 0
	}
	tb := g.videoTimeBaseSeconds()
	return int64(float64(maxDTS-minDTS) * tb * 1000)
}

func (g *Group) videoTimeBaseSeconds() float64 {
	for _, p := range g.Packets {
		if p.StreamType == codec.StreamTypeVideo {
			return p.TimeBaseSeconds()
		}
	}
	return 0
}

// MinVideoDTS returns the lowest dts among the group's video packets, used
// to rebase every packet's timestamp to zero when writing the segment.
func (g *Group) MinVideoDTS() int64 {
	first := true
	var min int64
	for _, p := range g.Packets {
		if p.StreamType != codec.StreamTypeVideo {
			continue
		}
		if first || p.DTS < min {
			min = p.DTS
			first = false
		}
	}
	return min
}
