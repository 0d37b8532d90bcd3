package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

const (
	sampleRate    = 48000
	channels      = 2
	frameSamples  = 960 // 20ms at 48kHz
	frameBytes    = frameSamples * channels * 2
	maxOpusPacket = 4000
)

// SourceFunc opens a radio URL as a stream of 48kHz stereo s16le PCM.
type SourceFunc func(ctx context.Context, url string) (io.ReadCloser, error)

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	// reads hold the read lock; Close takes the write lock so Wait only
	// runs once no read is in flight
	reading   sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// FFmpegSource decodes url with ffmpeg. Radio endpoints drop connections
// now and then, so ffmpeg is told to reconnect on its own before giving up.
// The process outlives ctx; Close kills it.
func FFmpegSource(ctx context.Context, url string) (io.ReadCloser, error) {
	cmd := exec.Command("ffmpeg",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", url,
		"-f", "s16le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", fmt.Sprint(channels),
		"-loglevel", "error",
		"pipe:1")

	source, err := startSource(cmd)
	if err != nil {
		return nil, err
	}
	return source, nil
}

func startSource(cmd *exec.Cmd) (*ffmpegSource, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	return &ffmpegSource{cmd: cmd, stdout: stdout}, nil
}

func (f *ffmpegSource) Read(p []byte) (int, error) {
	f.reading.RLock()
	defer f.reading.RUnlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.stdout.Read(p)
}

// Close kills ffmpeg, waits for pending reads to return and then reaps the
// process. Safe to call concurrently with Read.
func (f *ffmpegSource) Close() error {
	f.closeOnce.Do(func() {
		if f.cmd.Process != nil {
			f.cmd.Process.Kill()
		}
		// a blocked read returns once the pipe is closed
		f.stdout.Close()

		f.reading.Lock()
		f.closed = true
		f.reading.Unlock()

		// the kill makes Wait report an error
		f.cmd.Wait()
	})
	return nil
}
