package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MimeLyc/livesub/internal/audio"
)

// OpenAITranscriber sends each segment to an OpenAI-compatible
// /audio/transcriptions endpoint.
type OpenAITranscriber struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

type openAIConfig struct {
	model      string
	baseURL    string
	prompt     string
	timeout    time.Duration
	httpClient *http.Client
}

type OpenAIOption func(*openAIConfig)

func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithPrompt biases recognition toward the given vocabulary.
func WithPrompt(prompt string) OpenAIOption {
	return func(c *openAIConfig) { c.prompt = prompt }
}

func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) { c.timeout = d }
}

func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.httpClient = hc }
}

var _ Transcriber = (*OpenAITranscriber)(nil)

// NewOpenAI builds a transcriber for the ISO 639-1 language code lang.
func NewOpenAI(apiKey, lang string, opts ...OpenAIOption) (*OpenAITranscriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("speech: openai api key must not be empty")
	}
	cfg := &openAIConfig{model: string(oai.AudioModelWhisper1)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &OpenAITranscriber{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: lang,
		prompt:   cfg.prompt,
	}, nil
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	if len(seg.PCM) == 0 {
		return "", NoSpeechDetected()
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.EncodeWAV(seg.PCM, seg.Format)), "segment.wav", "audio/wav"),
		Model: oai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}
	if t.prompt != "" {
		params.Prompt = oai.String(t.prompt)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return "", Unavailable(fmt.Sprintf("transcription service returned HTTP %d", apiErr.StatusCode), err).
				WithContext("model", t.model)
		}
		return "", Unavailable("transcription service unreachable", err)
	}
	return clean(resp.Text)
}
