// Package media decodes audio inputs that are not already raw PCM by piping
// them through ffmpeg.
package media

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/MimeLyc/livesub/pkg/log"
)

const stderrLimit = 4 << 10

type ffmpeg struct {
	ffmpegCmd   string
	ffprobeCmd  string
	input       string
	inputFormat string
	sampleRate  int
}

type Option func(*ffmpeg)

// WithInputFormat forces the demuxer, e.g. "pulse" or "alsa" for a capture
// device instead of a file.
func WithInputFormat(format string) Option {
	return func(ff *ffmpeg) { ff.inputFormat = format }
}

func WithSampleRate(rate int) Option {
	return func(ff *ffmpeg) {
		if rate > 0 {
			ff.sampleRate = rate
		}
	}
}

func NewFFmpeg(input string, opts ...Option) ffmpeg {
	ff := ffmpeg{
		ffmpegCmd:  "ffmpeg",
		ffprobeCmd: "ffprobe",
		input:      input,
		sampleRate: 16000,
	}
	for _, opt := range opts {
		opt(&ff)
	}
	return ff
}

// Open starts ffmpeg and returns its PCM output. Closing the reader stops the
// process.
func (ff ffmpeg) Open() (io.ReadCloser, error) {
	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(cmdPath, ff.decodeArgs()...)
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	log.Info("Decoding %s with ffmpeg (pid %d, %d Hz)", ff.describeInput(), cmd.Process.Pid, ff.sampleRate)
	return &process{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// Probe lists the audio streams of a file input. Capture devices cannot be
// probed.
func (ff ffmpeg) Probe() (AudioStreams, error) {
	if ff.inputFormat != "" || ff.input == "-" {
		return nil, nil
	}
	cmdPath, err := exec.LookPath(ff.ffprobeCmd)
	if err != nil {
		return nil, err
	}
	output, runErr := exec.Command(cmdPath, ff.probeArgs()...).Output()
	streams, parseErr := parseProbe(output)
	if parseErr != nil {
		if runErr != nil {
			return nil, fmt.Errorf("ffprobe failed: %w", runErr)
		}
		return nil, parseErr
	}
	if runErr != nil {
		if len(streams) == 0 {
			return nil, fmt.Errorf("ffprobe failed: %w", runErr)
		}
		log.Warn("ffprobe exited with error but returned %d audio streams: %v", len(streams), runErr)
	}
	return streams, nil
}

func (ff ffmpeg) describeInput() string {
	if ff.inputFormat != "" {
		return ff.inputFormat + ":" + ff.input
	}
	return ff.input
}

func (ff ffmpeg) decodeArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if ff.inputFormat != "" {
		args = append(args, "-f", ff.inputFormat)
	}
	input := ff.input
	if input == "-" {
		input = "pipe:0"
	}
	return append(args,
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(ff.sampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	)
}

func (ff ffmpeg) probeArgs() []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a",
		ff.input,
	}
}

type probeOutput struct {
	Streams []struct {
		Index      int    `json:"index"`
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Tags       struct {
			Language string `json:"language"`
			Title    string `json:"title"`
		} `json:"tags"`
	} `json:"streams"`
}

func parseProbe(output []byte) (AudioStreams, error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var streams AudioStreams
	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		rate, _ := strconv.Atoi(s.SampleRate)
		st := AudioStream{
			Index:      s.Index,
			Codec:      s.CodecName,
			SampleRate: rate,
			Channels:   s.Channels,
			Language:   s.Tags.Language,
			Title:      s.Tags.Title,
			LangTag:    language.Und,
		}
		if tag, err := language.Parse(s.Tags.Language); err == nil && s.Tags.Language != "" && s.Tags.Language != "und" {
			st.LangTag = tag
		}
		streams = append(streams, st)
	}
	return streams, nil
}

// process is the read side of a running ffmpeg.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer

	once sync.Once
	err  error
}

func (p *process) Read(b []byte) (int, error) {
	n, err := p.stdout.Read(b)
	if errors.Is(err, io.EOF) {
		if werr := p.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (p *process) Close() error {
	// Kill fails harmlessly once the process has already exited.
	_ = p.cmd.Process.Kill()
	err := p.wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !exitErr.Exited() {
		// killed by us
		return nil
	}
	return err
}

func (p *process) wait() error {
	p.once.Do(func() {
		if err := p.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(p.stderr.String())
			if msg != "" {
				p.err = fmt.Errorf("ffmpeg: %w: %s", err, msg)
			} else {
				p.err = fmt.Errorf("ffmpeg: %w", err)
			}
		}
	})
	return p.err
}

type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ Decoder = ffmpeg{}
