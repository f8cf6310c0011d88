package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/livesub/pkg/log"
)

// Config holds all application configuration.
// Values come from environment variables (optionally seeded from a .env file)
// with defaults suitable for a single live session.
//
// Environment Variables:
// Session:
// - SESSION_ID: resume or name a session (default: generated)
// - RESUME_LATEST: without SESSION_ID, continue the newest session that was never ended (default: false)
// - SOURCE_LANGUAGE / TARGET_LANGUAGE: binding name or BCP 47 code (default: english / hindi)
// - STOP_PHRASE: utterance that ends the session (default: exit)
// - PHRASE_TIMEOUT: max wait for speech to start (default: 15s)
// - MAX_SEGMENT_DURATION: max length of one utterance (default: 15s)
// - CALIBRATION_DURATION: ambient noise sampling at loop entry (default: 1s)
//
// Audio / STT:
// - AUDIO_SOURCE: pcm | ffmpeg | line (default: pcm)
// - AUDIO_INPUT: file or FIFO with raw S16LE mono PCM, "-" for stdin (default: -).
//   With AUDIO_SOURCE=ffmpeg any file ffmpeg can decode, or a capture device name.
// - AUDIO_INPUT_FORMAT: ffmpeg demuxer for AUDIO_INPUT, e.g. pulse or alsa (default: empty)
// - AUDIO_SAMPLE_RATE (default: 16000), VAD_ENERGY_THRESHOLD (default: 300), VAD_SILENCE (default: 800ms)
// - STT_BACKEND: openai | whisper | line (default: openai)
// - STT_API_KEY, STT_API_URL, STT_MODEL (default: whisper-1), WHISPER_URL, STT_TIMEOUT (default: 30s)
//
// LLM (translation backend):
// - LLM_API_KEY (required when TRANSLATE_BACKEND=llm), LLM_API_URL, LLM_MODEL,
//   LLM_MAX_TOKENS, LLM_TEMPERATURE, LLM_TIMEOUT, LLM_RETRIES (default: 1), LLM_SITE_URL, LLM_APP_NAME
// - TRANSLATE_BACKEND: llm | passthrough (default: llm)
// - BREAKER_MAX_FAILURES (default: 5), BREAKER_RESET (default: 30s)
//
// Glossary:
// - GLOSSARY_FILE: yaml or json file, searched upwards from the working directory when unset
// - GLOSSARY_TERMS: comma separated extra terms
// - GLOSSARY_CORRECTION: snap near-miss recognitions onto glossary terms (default: false)
//
// Output:
// - LANGUAGES_FILE, LOG_FILE (default: subtitles_log.txt), EXPORT_PATH (default: translated_subtitles.docx),
//   EXPORT_FORMAT: docx | markdown, EXPORT_CRON, DB_PATH, CONSOLE_SUBTITLES (default: true)
//
// Mail:
// - SMTP_HOST (default: smtp.gmail.com), SMTP_PORT (default: 587), SMTP_USERNAME, SMTP_PASSWORD,
//   MAIL_FROM, RECIPIENTS: comma separated
//
// System:
// - HTTP_ADDR (default: :8080, empty disables), HTTP_UI_DIR, LOG_LEVEL (default: info)
// - HTTP_ORIGINS: comma separated hosts allowed to open the subtitle websocket cross-origin
// - LOG_PATH: diagnostic log file written next to stdout (default: empty)
type Config struct {
	Session   SessionConfig   `json:"session"`
	Audio     AudioConfig     `json:"audio"`
	STT       STTConfig       `json:"stt"`
	LLM       LLMConfig       `json:"llm"`
	Translate TranslateConfig `json:"translate"`
	Glossary  GlossaryConfig  `json:"glossary"`
	Output    OutputConfig    `json:"output"`
	Mail      MailConfig      `json:"mail"`
	HTTP      HTTPConfig      `json:"http"`
	System    SystemConfig    `json:"system"`
}

type SessionConfig struct {
	ID                  string        `json:"id"`
	ResumeLatest        bool          `json:"resume_latest"`
	SourceLanguage      string        `json:"source_language"`
	TargetLanguage      string        `json:"target_language"`
	StopPhrase          string        `json:"stop_phrase"`
	PhraseTimeout       time.Duration `json:"phrase_timeout"`
	MaxSegmentDuration  time.Duration `json:"max_segment_duration"`
	CalibrationDuration time.Duration `json:"calibration_duration"`
}

type AudioConfig struct {
	Source          string        `json:"source"`
	Input           string        `json:"input"`
	InputFormat     string        `json:"input_format"`
	SampleRate      int           `json:"sample_rate"`
	EnergyThreshold float64       `json:"energy_threshold"`
	SilenceDuration time.Duration `json:"silence_duration"`
}

type STTConfig struct {
	Backend    string        `json:"backend"`
	APIKey     string        `json:"-"`
	APIURL     string        `json:"api_url"`
	Model      string        `json:"model"`
	WhisperURL string        `json:"whisper_url"`
	Timeout    time.Duration `json:"timeout"`
}

// LLMConfig holds the configuration for the OpenAI-compatible chat API
// used by the llm translation backend.
type LLMConfig struct {
	APIKey      string        `json:"-"`
	APIURL      string        `json:"api_url"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
	Retries     int           `json:"retries"`
	SiteURL     string        `json:"site_url"`
	AppName     string        `json:"app_name"`
}

type TranslateConfig struct {
	Backend            string        `json:"backend"`
	BreakerMaxFailures int           `json:"breaker_max_failures"`
	BreakerReset       time.Duration `json:"breaker_reset"`
}

type GlossaryConfig struct {
	File       string   `json:"file"`
	Terms      []string `json:"terms"`
	Correction bool     `json:"correction"`
}

type OutputConfig struct {
	LanguagesFile string `json:"languages_file"`
	LogFile       string `json:"log_file"`
	ExportPath    string `json:"export_path"`
	ExportFormat  string `json:"export_format"`
	ExportCron    string `json:"export_cron"`
	DBPath        string `json:"db_path"`
	Console       bool   `json:"console"`
}

type MailConfig struct {
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	Username   string   `json:"username"`
	Password   string   `json:"-"`
	From       string   `json:"from"`
	Recipients []string `json:"recipients"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
	// Origins are extra websocket origin patterns besides same-origin.
	Origins []string `json:"origins"`
	// UIDir serves a subtitle display page from a static directory.
	UIDir string `json:"ui_dir"`
}

type SystemConfig struct {
	LogLevel string `json:"log_level"`
	LogPath  string `json:"log_path"`
}

const (
	AudioSourcePCM    = "pcm"
	AudioSourceFFmpeg = "ffmpeg"
	AudioSourceLine   = "line"

	STTBackendOpenAI  = "openai"
	STTBackendWhisper = "whisper"
	STTBackendLine    = "line"

	TranslateBackendLLM         = "llm"
	TranslateBackendPassthrough = "passthrough"

	ExportFormatDOCX     = "docx"
	ExportFormatMarkdown = "markdown"
)

// Option is a function type for configuring Config
type Option func(*Config)

// New loads .env (or ENV_FILE) when present and then reads the environment.
func New(opts ...Option) (*Config, error) {
	envFile := getEnvString("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return NewFromEnv(opts...)
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Session: SessionConfig{
			ID:                  getEnvString("SESSION_ID", ""),
			ResumeLatest:        getEnvBool("RESUME_LATEST", false),
			SourceLanguage:      getEnvString("SOURCE_LANGUAGE", "english"),
			TargetLanguage:      getEnvString("TARGET_LANGUAGE", "hindi"),
			StopPhrase:          getEnvString("STOP_PHRASE", "exit"),
			PhraseTimeout:       getEnvDuration("PHRASE_TIMEOUT", 15*time.Second),
			MaxSegmentDuration:  getEnvDuration("MAX_SEGMENT_DURATION", 15*time.Second),
			CalibrationDuration: getEnvDuration("CALIBRATION_DURATION", time.Second),
		},
		Audio: AudioConfig{
			Source:          getEnvString("AUDIO_SOURCE", AudioSourcePCM),
			Input:           getEnvString("AUDIO_INPUT", "-"),
			InputFormat:     getEnvString("AUDIO_INPUT_FORMAT", ""),
			SampleRate:      getEnvInt("AUDIO_SAMPLE_RATE", 16000),
			EnergyThreshold: getEnvFloat("VAD_ENERGY_THRESHOLD", 300),
			SilenceDuration: getEnvDuration("VAD_SILENCE", 800*time.Millisecond),
		},
		STT: STTConfig{
			Backend:    getEnvString("STT_BACKEND", STTBackendOpenAI),
			APIKey:     getEnvString("STT_API_KEY", os.Getenv("OPENAI_API_KEY")),
			APIURL:     getEnvString("STT_API_URL", ""),
			Model:      getEnvString("STT_MODEL", "whisper-1"),
			WhisperURL: getEnvString("WHISPER_URL", "http://localhost:8178"),
			Timeout:    getEnvDuration("STT_TIMEOUT", 30*time.Second),
		},
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 256),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			Retries:     getEnvInt("LLM_RETRIES", 1),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", "livesub"),
		},
		Translate: TranslateConfig{
			Backend:            getEnvString("TRANSLATE_BACKEND", TranslateBackendLLM),
			BreakerMaxFailures: getEnvInt("BREAKER_MAX_FAILURES", 5),
			BreakerReset:       getEnvDuration("BREAKER_RESET", 30*time.Second),
		},
		Glossary: GlossaryConfig{
			File:       getEnvString("GLOSSARY_FILE", ""),
			Terms:      getEnvList("GLOSSARY_TERMS", nil),
			Correction: getEnvBool("GLOSSARY_CORRECTION", false),
		},
		Output: OutputConfig{
			LanguagesFile: getEnvString("LANGUAGES_FILE", ""),
			LogFile:       getEnvString("LOG_FILE", "subtitles_log.txt"),
			ExportPath:    getEnvString("EXPORT_PATH", "translated_subtitles.docx"),
			ExportFormat:  getEnvString("EXPORT_FORMAT", ExportFormatDOCX),
			ExportCron:    getEnvString("EXPORT_CRON", ""),
			DBPath:        getEnvString("DB_PATH", ""),
			Console:       getEnvBool("CONSOLE_SUBTITLES", true),
		},
		Mail: MailConfig{
			Host:       getEnvString("SMTP_HOST", "smtp.gmail.com"),
			Port:       getEnvInt("SMTP_PORT", 587),
			Username:   getEnvString("SMTP_USERNAME", ""),
			Password:   getEnvString("SMTP_PASSWORD", ""),
			From:       getEnvString("MAIL_FROM", ""),
			Recipients: getEnvList("RECIPIENTS", nil),
		},
		HTTP: HTTPConfig{
			Addr:    getEnvString("HTTP_ADDR", ":8080"),
			UIDir:   getEnvString("HTTP_UI_DIR", ""),
			Origins: getEnvList("HTTP_ORIGINS", nil),
		},
		System: SystemConfig{
			LogLevel: getEnvString("LOG_LEVEL", "info"),
			LogPath:  getEnvString("LOG_PATH", ""),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.Session.StopPhrase) == "" {
		return fmt.Errorf("STOP_PHRASE must not be empty")
	}
	if c.Session.PhraseTimeout <= 0 {
		return fmt.Errorf("PHRASE_TIMEOUT must be positive")
	}
	if c.Session.MaxSegmentDuration <= 0 {
		return fmt.Errorf("MAX_SEGMENT_DURATION must be positive")
	}
	switch c.Audio.Source {
	case AudioSourcePCM, AudioSourceFFmpeg, AudioSourceLine:
	default:
		return fmt.Errorf("unknown AUDIO_SOURCE %q", c.Audio.Source)
	}
	if c.Audio.Source != AudioSourceLine && c.Audio.SampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	switch c.STT.Backend {
	case STTBackendOpenAI:
		if c.STT.APIKey == "" {
			return fmt.Errorf("STT_API_KEY is required for the openai backend")
		}
	case STTBackendWhisper:
		if c.STT.WhisperURL == "" {
			return fmt.Errorf("WHISPER_URL is required for the whisper backend")
		}
	case STTBackendLine:
	default:
		return fmt.Errorf("unknown STT_BACKEND %q", c.STT.Backend)
	}
	if c.STT.Backend == STTBackendLine && c.Audio.Source != AudioSourceLine {
		return fmt.Errorf("STT_BACKEND=line requires AUDIO_SOURCE=line")
	}
	switch c.Translate.Backend {
	case TranslateBackendLLM:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required")
		}
	case TranslateBackendPassthrough:
	default:
		return fmt.Errorf("unknown TRANSLATE_BACKEND %q", c.Translate.Backend)
	}
	switch c.Output.ExportFormat {
	case ExportFormatDOCX, ExportFormatMarkdown:
	default:
		return fmt.Errorf("unknown EXPORT_FORMAT %q", c.Output.ExportFormat)
	}
	if c.Output.ExportCron != "" {
		if _, err := cron.ParseStandard(c.Output.ExportCron); err != nil {
			return fmt.Errorf("invalid EXPORT_CRON: %w", err)
		}
	}
	if len(c.Mail.Recipients) > 0 {
		if c.Mail.Host == "" {
			return fmt.Errorf("SMTP_HOST is required when RECIPIENTS is set")
		}
		if c.Mail.From == "" && c.Mail.Username == "" {
			return fmt.Errorf("MAIL_FROM or SMTP_USERNAME is required when RECIPIENTS is set")
		}
	}
	return nil
}

// Sender returns the From address used for outgoing mail.
func (c MailConfig) Sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	ret := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}
