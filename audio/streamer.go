package audio

import (
	"context"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"wavebot/session"
)

var ErrNotVoice = errors.New("connection cannot carry audio")

// Streamer opens radio streams and binds them to voice connections.
type Streamer struct {
	bitrate    int
	source     SourceFunc
	newEncoder func(bitrate int) (frameEncoder, error)
	logger     *log.Entry
}

func NewStreamer(bitrate int) *Streamer {
	return &Streamer{
		bitrate:    bitrate,
		source:     FFmpegSource,
		newEncoder: newOpusEncoder,
		logger: log.WithFields(log.Fields{
			"module": "streamer",
		}),
	}
}

func newOpusEncoder(bitrate int) (frameEncoder, error) {
	encoder, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	encoder.SetComplexity(10)
	if err := encoder.SetBitrate(bitrate); err != nil {
		encoder.SetBitrateToMax()
	}
	return encoder, nil
}

// Attach starts streaming radioURL into conn. It returns once the first
// PCM frame has been decoded, so an unreachable station fails here rather
// than after the session is marked Playing. onEvent receives StreamStarted
// from the streaming goroutine and must not call Close synchronously.
func (s *Streamer) Attach(ctx context.Context, conn session.Connection, radioURL string, onEvent func(*Stream, StreamEvent)) (*Stream, error) {
	voice, ok := conn.(Voice)
	if !ok {
		return nil, ErrNotVoice
	}

	logger := s.logger.WithField("url", radioURL)
	logger.Debug("opening radio stream")

	source, err := s.source(ctx, radioURL)
	if err != nil {
		return nil, err
	}

	first, err := readFirstFrame(ctx, source)
	if err != nil {
		source.Close()
		return nil, err
	}

	encoder, err := s.newEncoder(s.bitrate)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("error creating opus encoder: %w", err)
	}

	stream := newStream(radioURL, voice, source, encoder, onEvent)
	go stream.run(first)

	logger.Debug("radio stream attached")
	return stream, nil
}

func readFirstFrame(ctx context.Context, source io.ReadCloser) ([]byte, error) {
	type result struct {
		frame []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		frame := make([]byte, frameBytes)
		_, err := io.ReadFull(source, frame)
		done <- result{frame, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, io.EOF) || errors.Is(res.err, io.ErrUnexpectedEOF) {
				return nil, errors.New("radio stream closed before any audio arrived")
			}
			return nil, res.err
		}
		return res.frame, nil
	case <-ctx.Done():
		// closing the source unblocks the reader goroutine
		source.Close()
		return nil, ctx.Err()
	}
}
