package recording

import "time"

// silenceThreshold is the average absolute amplitude below which the tail of
// a transmission counts as silence. Matches the firmware's notion of a quiet
// release of the talk button.
const silenceThreshold = 100

// tailWindow is how much trailing audio the silence check inspects.
const tailWindow = 100 * time.Millisecond

// Analysis summarizes the quality of one recorded transmission.
type Analysis struct {
	Duration        time.Duration
	AvgAmplitude    float64
	AvgEndAmplitude float64
	SilentTail      bool

	PacketCount         int
	AvgInterPacketDelay time.Duration
	MinInterPacketDelay time.Duration
	MaxInterPacketDelay time.Duration
}

// Analyze computes quality statistics for a transmission: pcm is the combined
// s16le audio, times the arrival time of each packet.
func Analyze(pcm []byte, times []time.Time) Analysis {
	samples := decodeSamples(pcm)

	a := Analysis{
		Duration:    time.Duration(len(samples)) * time.Second / SampleRate,
		PacketCount: len(times),
	}

	if len(samples) > 0 {
		var sum float64
		for _, s := range samples {
			sum += absf(s)
		}
		a.AvgAmplitude = sum / float64(len(samples))
	}

	tailSamples := int(SampleRate * tailWindow / time.Second)
	if len(samples) >= tailSamples && tailSamples > 0 {
		var sum float64
		for _, s := range samples[len(samples)-tailSamples:] {
			sum += absf(s)
		}
		a.AvgEndAmplitude = sum / float64(tailSamples)
		a.SilentTail = a.AvgEndAmplitude < silenceThreshold
	} else {
		a.AvgEndAmplitude = a.AvgAmplitude
	}

	if len(times) > 1 {
		var total time.Duration
		for i := 1; i < len(times); i++ {
			d := times[i].Sub(times[i-1])
			total += d
			if i == 1 || d < a.MinInterPacketDelay {
				a.MinInterPacketDelay = d
			}
			if d > a.MaxInterPacketDelay {
				a.MaxInterPacketDelay = d
			}
		}
		a.AvgInterPacketDelay = total / time.Duration(len(times)-1)
	}

	return a
}

func absf(s int) float64 {
	if s < 0 {
		return float64(-s)
	}
	return float64(s)
}
