// Package recording implements the optional diagnostics sink: each tracked
// transmission is captured to a WAV file and analyzed for audio quality when
// it ends. The recorder sits off the relay's critical path; every failure is
// logged and swallowed.
package recording

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Relayed audio format: raw signed 16-bit little-endian PCM, 16 kHz mono.
// The relay never inspects frames; these constants only matter here, where
// recordings are written and analyzed.
const (
	SampleRate  = 16000
	SampleWidth = 2
	NumChannels = 1
	BitDepth    = 16
)

// Recorder captures one transmission at a time. Start is a no-op while a
// capture is already running, so overlapping transmitters fold into the
// recording that is in progress.
type Recorder struct {
	mu      sync.Mutex
	enabled bool
	dir     string
	cur     *transmission
}

type transmission struct {
	device  string
	started time.Time
	packets [][]byte
	times   []time.Time
}

// NewRecorder creates a recorder writing WAV files into dir. A disabled
// recorder accepts all calls and does nothing.
func NewRecorder(enabled bool, dir string) *Recorder {
	return &Recorder{enabled: enabled, dir: dir}
}

// Enabled reports whether recording is configured on.
func (r *Recorder) Enabled() bool { return r.enabled }

// Active reports whether a transmission capture is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Start opens a capture for the named device. No-op when disabled or when a
// capture is already running.
func (r *Recorder) Start(device string) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return
	}
	r.cur = &transmission{device: device, started: time.Now()}
	log.Printf("recording: started capture for %s", device)
}

// Append adds one relayed audio frame to the running capture. The frame is
// copied; callers reuse their buffers.
func (r *Recorder) Append(pcm []byte) {
	if !r.enabled || len(pcm) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	r.cur.packets = append(r.cur.packets, cp)
	r.cur.times = append(r.cur.times, time.Now())
}

// Finish closes the running capture, writes it to a WAV file and logs a
// quality analysis. Captures with no audio are discarded with a warning.
// Returns the saved file path, or "" when nothing was written.
func (r *Recorder) Finish() string {
	r.mu.Lock()
	cur := r.cur
	r.cur = nil
	r.mu.Unlock()

	if cur == nil {
		return ""
	}
	if len(cur.packets) == 0 {
		log.Printf("recording: no audio captured for %s, discarding", cur.device)
		return ""
	}

	total := 0
	for _, p := range cur.packets {
		total += len(p)
	}
	combined := make([]byte, 0, total)
	for _, p := range cur.packets {
		combined = append(combined, p...)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("transmission_%s.wav", cur.started.Format("20060102_150405")))
	if err := saveWAV(path, combined); err != nil {
		log.Printf("recording: save %s failed: %v", path, err)
		return ""
	}
	log.Printf("recording: saved %s (%d bytes)", path, total)

	logAnalysis(cur.device, path, Analyze(combined, cur.times))
	return path
}

func saveWAV(path string, pcm []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create recordings directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create recording file: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, SampleRate, BitDepth, NumChannels, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: NumChannels, SampleRate: SampleRate},
		Data:           decodeSamples(pcm),
		SourceBitDepth: BitDepth,
	}); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// decodeSamples converts raw s16le bytes to samples, ignoring any trailing
// odd byte.
func decodeSamples(pcm []byte) []int {
	n := len(pcm) / SampleWidth
	samples := make([]int, n)
	for i := 0; i < n; i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*SampleWidth:])))
	}
	return samples
}

func logAnalysis(device, path string, a Analysis) {
	log.Printf("recording: analysis for %s (%s)", device, filepath.Base(path))
	log.Printf("recording:   duration=%.2fs avg_amplitude=%.2f end_amplitude=%.2f silent_tail=%v",
		a.Duration.Seconds(), a.AvgAmplitude, a.AvgEndAmplitude, a.SilentTail)
	if a.PacketCount > 1 {
		log.Printf("recording:   packets=%d inter_packet_delay avg=%.2fms min=%.2fms max=%.2fms",
			a.PacketCount,
			float64(a.AvgInterPacketDelay.Microseconds())/1000,
			float64(a.MinInterPacketDelay.Microseconds())/1000,
			float64(a.MaxInterPacketDelay.Microseconds())/1000)
	} else {
		log.Printf("recording:   packets=%d", a.PacketCount)
	}
}
