package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/MimeLyc/livesub/pkg/log"
)

// OpenFunc opens the raw byte stream behind a source.
type OpenFunc func() (io.ReadCloser, error)

// OpenInput opens path for reading; "-" means standard input.
func OpenInput(path string) OpenFunc {
	return func() (io.ReadCloser, error) {
		if path == "" || path == "-" {
			return io.NopCloser(os.Stdin), nil
		}
		return os.Open(path)
	}
}

// PCMSource segments a raw 16-bit little-endian PCM stream (a microphone
// FIFO, `arecord` on stdin, a recording) into utterances using an energy VAD.
type PCMSource struct {
	open   OpenFunc
	format Format
	vadCfg VADConfig
	vad    *vad

	rc     io.ReadCloser
	frames chan []byte
	done   chan struct{}

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
}

type PCMOption func(*PCMSource)

func WithFormat(f Format) PCMOption {
	return func(s *PCMSource) { s.format = f }
}

func WithVAD(cfg VADConfig) PCMOption {
	return func(s *PCMSource) { s.vadCfg = cfg }
}

var _ Source = (*PCMSource)(nil)

func NewPCMSource(open OpenFunc, opts ...PCMOption) *PCMSource {
	s := &PCMSource{
		open:   open,
		format: DefaultFormat,
		vadCfg: DefaultVADConfig(),
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.vadCfg.FrameDuration <= 0 {
		s.vadCfg.FrameDuration = DefaultVADConfig().FrameDuration
	}
	s.vad = newVAD(s.vadCfg)
	return s
}

func (s *PCMSource) Open(_ context.Context) error {
	if s.format.BitsPerSample != 16 {
		return fmt.Errorf("audio: unsupported sample width %d", s.format.BitsPerSample)
	}
	rc, err := s.open()
	if err != nil {
		return fmt.Errorf("audio: open input: %w", err)
	}
	s.rc = rc
	go s.readLoop()
	return nil
}

func (s *PCMSource) frameBytes() int {
	n := int(int64(s.format.BytesPerSecond()) * int64(s.vadCfg.FrameDuration) / int64(time.Second))
	align := s.format.Channels * s.format.BitsPerSample / 8
	if align <= 0 {
		align = 2
	}
	n -= n % align
	if n <= 0 {
		n = align
	}
	return n
}

func (s *PCMSource) readLoop() {
	defer close(s.frames)
	size := s.frameBytes()
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(s.rc, buf)
		if n > 0 {
			select {
			case s.frames <- buf[:n]:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrEndOfStream
			}
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}
	}
}

func (s *PCMSource) streamErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr == nil {
		return ErrEndOfStream
	}
	return s.readErr
}

// nextFrame returns the next frame, or ErrWaitTimeout when deadline fires first.
func (s *PCMSource) nextFrame(ctx context.Context, deadline <-chan time.Time) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-s.frames:
		if !ok {
			return nil, s.streamErr()
		}
		return frame, nil
	case <-deadline:
		return nil, ErrWaitTimeout
	}
}

// Calibrate measures the mean ambient energy over d of audio and raises the
// speech threshold above it.
func (s *PCMSource) Calibrate(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	guard := time.NewTimer(d + time.Second)
	defer guard.Stop()

	var (
		heard time.Duration
		total float64
		count int
	)
	for heard < d {
		frame, err := s.nextFrame(ctx, guard.C)
		if errors.Is(err, ErrWaitTimeout) {
			break
		}
		if err != nil {
			return err
		}
		heard += s.format.Duration(len(frame))
		total += rmsEnergy(frame)
		count++
	}
	if count > 0 {
		s.vad.calibrate(total / float64(count))
	}
	log.Info("Calibrated speech threshold to %.1f over %v of ambient audio", s.vad.threshold, heard)
	return nil
}

func (s *PCMSource) Next(ctx context.Context, maxWait, maxPhrase time.Duration) (Segment, error) {
	s.vad.reset()
	preRollFrames := int(s.vadCfg.SpeechMin/s.vadCfg.FrameDuration) + 3

	wait := time.NewTimer(maxWait)
	defer wait.Stop()

	var (
		waited time.Duration
		pre    [][]byte
	)
	for {
		frame, err := s.nextFrame(ctx, wait.C)
		if err != nil {
			return Segment{}, err
		}
		waited += s.format.Duration(len(frame))
		pre = append(pre, frame)
		if len(pre) > preRollFrames {
			pre = pre[1:]
		}
		if s.vad.process(frame) == vadSpeechStart {
			break
		}
		if waited >= maxWait {
			return Segment{}, ErrWaitTimeout
		}
	}

	capturedAt := time.Now()
	var pcm []byte
	for _, f := range pre {
		pcm = append(pcm, f...)
	}

	phrase := time.NewTimer(maxPhrase)
	defer phrase.Stop()
	for s.format.Duration(len(pcm)) < maxPhrase {
		frame, err := s.nextFrame(ctx, phrase.C)
		if errors.Is(err, ErrWaitTimeout) || errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			return Segment{}, err
		}
		pcm = append(pcm, frame...)
		if s.vad.process(frame) == vadSpeechEnd {
			break
		}
	}

	return Segment{
		PCM:        pcm,
		Format:     s.format,
		Duration:   s.format.Duration(len(pcm)),
		CapturedAt: capturedAt,
	}, nil
}

func (s *PCMSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.rc != nil {
			err = s.rc.Close()
		}
	})
	return err
}
