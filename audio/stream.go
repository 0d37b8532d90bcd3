package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

type StreamEventType string

const (
	StreamStarted StreamEventType = "started"
	StreamEnded   StreamEventType = "ended"
	StreamFailed  StreamEventType = "failed"
)

type StreamEvent struct {
	Type StreamEventType
	Err  error
}

// Voice is the part of a voice connection a stream writes to.
type Voice interface {
	OpusSend() chan<- []byte
	Speaking(speaking bool) error
}

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Stream pumps one radio source into one voice connection. It is the
// stream handle stored on a voice session; Close is safe to call more than
// once and from any goroutine.
type Stream struct {
	URL       string
	StartedAt time.Time

	voice    Voice
	source   io.ReadCloser
	encoder  frameEncoder
	onEvent  func(*Stream, StreamEvent)
	logger   *log.Entry
	frames   atomic.Int64
	closing  atomic.Bool
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func newStream(url string, voice Voice, source io.ReadCloser, encoder frameEncoder, onEvent func(*Stream, StreamEvent)) *Stream {
	return &Stream{
		URL:       url,
		StartedAt: time.Now(),
		voice:     voice,
		source:    source,
		encoder:   encoder,
		onEvent:   onEvent,
		logger: log.WithFields(log.Fields{
			"module": "stream",
		}),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Frames returns how many opus frames have been sent.
func (s *Stream) Frames() int64 {
	return s.frames.Load()
}

func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		s.closing.Store(true)
		close(s.done)
		// unblocks a pending read
		err = s.source.Close()
		select {
		case <-s.finished:
		case <-time.After(5 * time.Second):
			s.logger.Warn("timed out waiting for stream loop to exit")
		}
	})
	return err
}

func (s *Stream) run(first []byte) {
	err := s.pump(first)

	s.source.Close()
	if speakErr := s.voice.Speaking(false); speakErr != nil {
		s.logger.Tracef("error clearing speaking flag: %v", speakErr)
	}
	close(s.finished)

	// Close was called: the owner already knows
	if s.closing.Load() {
		return
	}

	if err != nil {
		s.logger.Warnf("radio stream failed after %d frames: %v", s.Frames(), err)
		sentry.CaptureException(err)
		s.emit(StreamEvent{Type: StreamFailed, Err: err})
		return
	}
	s.logger.Debugf("radio stream ended after %d frames", s.Frames())
	s.emit(StreamEvent{Type: StreamEnded})
}

func (s *Stream) pump(first []byte) error {
	if err := s.voice.Speaking(true); err != nil {
		s.logger.Debugf("error setting speaking flag: %v", err)
	}

	pcm := make([]int16, frameSamples*channels)
	packet := make([]byte, maxOpusPacket)
	buffer := make([]byte, frameBytes)
	frame := first

	for {
		for i := range pcm {
			pcm[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
		}

		n, err := s.encoder.Encode(pcm, packet)
		if err != nil {
			return err
		}
		// OpusSend keeps the slice, so hand it a copy
		out := make([]byte, n)
		copy(out, packet[:n])

		select {
		case s.voice.OpusSend() <- out:
		case <-s.done:
			return nil
		}
		if s.frames.Add(1) == 1 {
			s.emit(StreamEvent{Type: StreamStarted})
		}

		frame = buffer
		if _, err := io.ReadFull(s.source, frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			if s.closing.Load() {
				return nil
			}
			return err
		}
	}
}

func (s *Stream) emit(event StreamEvent) {
	if s.onEvent != nil {
		s.onEvent(s, event)
	}
}
