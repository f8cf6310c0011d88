package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MimeLyc/livesub/internal/audio"
)

// WhisperServer talks to a whisper.cpp server (`whisper-server`) over its
// POST /inference endpoint.
type WhisperServer struct {
	serverURL  string
	language   string
	httpClient *http.Client
}

var _ Transcriber = (*WhisperServer)(nil)

func NewWhisperServer(serverURL, lang string, timeout time.Duration) (*WhisperServer, error) {
	if strings.TrimSpace(serverURL) == "" {
		return nil, fmt.Errorf("speech: whisper server url must not be empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WhisperServer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   lang,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (w *WhisperServer) Transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	if len(seg.PCM) == 0 {
		return "", NoSpeechDetected()
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(seg.PCM, seg.Format)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if w.language != "" {
		if err := mw.WriteField("language", w.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", Unavailable("whisper server unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Unavailable("whisper server closed the response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Unavailable(fmt.Sprintf("whisper server returned HTTP %d", resp.StatusCode), nil).
			WithContext("body", truncate(string(data), 200))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", Unavailable("whisper server sent an unreadable response", err)
	}
	return clean(result.Text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
