// walkie-stream transmits raw PCM audio to a walkie-talkie relay as one
// push-to-talk transmission. Input is signed 16-bit little-endian mono PCM at
// 16 kHz, read from a file or stdin, chunked and paced at real time the way
// the firmware sends it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spottenn/wifi-talkie/internal/otelutil"
	"github.com/spottenn/wifi-talkie/pkg/client"
)

const (
	sampleRate  = 16000
	sampleWidth = 2
)

// streamStats tracks what has been sent so far for the periodic status line.
type streamStats struct {
	start  time.Time
	bytes  int64
	chunks int64
}

func (st *streamStats) log() {
	elapsed := time.Since(st.start).Seconds()
	if elapsed <= 0 {
		return
	}
	kbps := float64(st.bytes) * 8 / 1000 / elapsed
	log.Printf("sent %d chunks, %d bytes (%.1f kbps over %.1fs)", st.chunks, st.bytes, kbps, elapsed)
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/walkie", "relay websocket URL")
	device := flag.String("device", "walkie-stream", "device name to register as")
	file := flag.String("file", "-", "PCM input file, - for stdin")
	chunkSamples := flag.Int("chunk", 512, "samples per audio frame")
	flag.Parse()

	_ = otelutil.Init()
	defer otelutil.Flush()

	in := os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatalf("open input: %v", err)
		}
		defer f.Close()
		in = f
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	if err := run(ctx, *serverURL, *device, in, *chunkSamples); err != nil {
		log.Fatalf("stream failed: %v", err)
	}
}

func run(ctx context.Context, serverURL, device string, in io.Reader, chunkSamples int) error {
	c := client.New(client.Config{
		ServerURL: serverURL,
		Device:    device,
		UserAgent: "walkie-stream/1.0.0",
	})

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = c.Disconnect() }()

	// Drain server messages so notifications from other peers don't back up.
	go func() {
		if err := c.Listen(ctx); err != nil {
			log.Printf("listener stopped: %v", err)
		}
	}()

	if err := c.Register(ctx); err != nil {
		return err
	}
	if err := c.StartTransmission(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.EndTransmission(context.Background()); err != nil {
			log.Printf("end transmission: %v", err)
		}
	}()

	chunkBytes := chunkSamples * sampleWidth
	chunkDuration := time.Duration(chunkSamples) * time.Second / sampleRate
	stats := &streamStats{start: time.Now()}

	ticker := time.NewTicker(chunkDuration)
	defer ticker.Stop()
	statusEvery := time.NewTicker(5 * time.Second)
	defer statusEvery.Stop()

	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(in, buf)
		if n > 0 {
			if serr := c.SendAudio(ctx, buf[:n]); serr != nil {
				return serr
			}
			stats.bytes += int64(n)
			stats.chunks++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			stats.log()
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		select {
		case <-ctx.Done():
			stats.log()
			return nil
		case <-ticker.C:
		}
		select {
		case <-statusEvery.C:
			stats.log()
		default:
		}
	}
}
