package media

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

// fakeBinary puts a shell script named name first on PATH.
func fakeBinary(t *testing.T, name, body string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts required")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		expected    AudioStreams
		expectError bool
	}{
		{
			name: "mixed streams keep audio only",
			output: `{"streams": [
				{"index": 0, "codec_type": "video", "codec_name": "h264"},
				{"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2,
				 "tags": {"language": "eng", "title": "Lecture"}},
				{"index": 2, "codec_type": "audio", "codec_name": "opus", "sample_rate": "16000", "channels": 1}
			]}`,
			expected: AudioStreams{
				{Index: 1, Codec: "aac", SampleRate: 48000, Channels: 2, Language: "eng", Title: "Lecture", LangTag: language.English},
				{Index: 2, Codec: "opus", SampleRate: 16000, Channels: 1, LangTag: language.Und},
			},
		},
		{
			name:     "und tag stays undetermined",
			output:   `{"streams": [{"index": 0, "codec_type": "audio", "tags": {"language": "und"}}]}`,
			expected: AudioStreams{{Index: 0, Language: "und", LangTag: language.Und}},
		},
		{
			name:     "no streams",
			output:   `{"streams": []}`,
			expected: nil,
		},
		{
			name:        "invalid json",
			output:      `{"streams": [invalid`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbe([]byte(tt.output))
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tt.expected))
			for i := range tt.expected {
				assert.Equal(t, tt.expected[i].LangTag.String(), got[i].LangTag.String())
				got[i].LangTag, tt.expected[i].LangTag = language.Und, language.Und
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAudioStreams_Spoken(t *testing.T) {
	streams := AudioStreams{
		{Index: 0, LangTag: language.Und},
		{Index: 1, LangTag: language.Hindi},
	}
	st, ok := streams.Spoken()
	require.True(t, ok)
	assert.Equal(t, 1, st.Index)

	_, ok = AudioStreams{{LangTag: language.Und}}.Spoken()
	assert.False(t, ok)
}

func TestFFmpeg_decodeArgs(t *testing.T) {
	ff := NewFFmpeg("lecture.m4a", WithSampleRate(22050))
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", "lecture.m4a",
		"-vn", "-ac", "1", "-ar", "22050",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"pipe:1",
	}, ff.decodeArgs())

	mic := NewFFmpeg("default", WithInputFormat("pulse"))
	args := mic.decodeArgs()
	assert.Equal(t, []string{"-f", "pulse", "-i", "default"}, args[4:8])
	assert.Contains(t, args, "16000")

	stdin := NewFFmpeg("-")
	assert.Contains(t, stdin.decodeArgs(), "pipe:0")
}

func TestFFmpeg_probeArgs(t *testing.T) {
	ff := NewFFmpeg("/path/to/talk.mp4")
	assert.Equal(t, []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a",
		"/path/to/talk.mp4",
	}, ff.probeArgs())
}

func TestFFmpeg_Probe(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		exitCode    int
		expectLen   int
		expectError bool
	}{
		{name: "ok", output: `{"streams": [{"codec_type": "audio", "tags": {"language": "hin"}}]}`, expectLen: 1},
		{name: "streams despite failure", output: `{"streams": [{"codec_type": "audio"}]}`, exitCode: 1, expectLen: 1},
		{name: "failure without streams", output: `{}`, exitCode: 1, expectError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakeBinary(t, "ffprobe", "echo '"+tt.output+"'\nexit "+strconv.Itoa(tt.exitCode))
			streams, err := NewFFmpeg("talk.mp4").Probe()
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, streams, tt.expectLen)
		})
	}
}

func TestFFmpeg_ProbeSkipsDevices(t *testing.T) {
	t.Setenv("PATH", "")
	streams, err := NewFFmpeg("default", WithInputFormat("alsa")).Probe()
	assert.NoError(t, err)
	assert.Nil(t, streams)
}

func TestFFmpeg_OpenStreamsStdout(t *testing.T) {
	fakeBinary(t, "ffmpeg", "printf 'abcd'")

	rc, err := NewFFmpeg("talk.mp4").Open()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))
	assert.NoError(t, rc.Close())
}

func TestFFmpeg_OpenReportsStderr(t *testing.T) {
	fakeBinary(t, "ffmpeg", "echo 'talk.mp4: No such file' >&2\nexit 1")

	rc, err := NewFFmpeg("talk.mp4").Open()
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such file")
	assert.Error(t, rc.Close())
}

func TestFFmpeg_MissingBinary(t *testing.T) {
	t.Setenv("PATH", "")
	_, err := NewFFmpeg("talk.mp4").Open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg")
}

func TestRealFFmpeg(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping test that requires actual ffmpeg")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available, skipping real test")
	}
	rc, err := NewFFmpeg(filepath.Join(t.TempDir(), "missing.wav")).Open()
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	assert.Error(t, err)
	_ = rc.Close()
}
