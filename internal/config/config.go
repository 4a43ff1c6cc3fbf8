package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// DevMode accepts any non-empty token and derives the user from it.
	DevMode bool `mapstructure:"dev_mode"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type WakeWordConfig struct {
	// Mode is one of "ml", "energy", "hybrid".
	Mode            string        `mapstructure:"mode"`
	Phrase          string        `mapstructure:"phrase"`
	EnergyThreshold float64       `mapstructure:"energy_threshold"`
	ModelThreshold  float64       `mapstructure:"model_threshold"`
	ModelURL        string        `mapstructure:"model_url"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	MaxUtterance    time.Duration `mapstructure:"max_utterance"`
	SilenceTimeout  time.Duration `mapstructure:"silence_timeout"`
}

type RecognitionConfig struct {
	DefaultEngine string   `mapstructure:"default_engine"`
	WhisperURL    string   `mapstructure:"whisper_url"`
	PhraseHints   []string `mapstructure:"phrase_hints"`
	HintBoost     float32  `mapstructure:"hint_boost"`
}

type InterpreterConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model"`
}

type SpeechConfig struct {
	ElevenLabsAPIKey string `mapstructure:"elevenlabs_api_key"`
	VoiceID          string `mapstructure:"voice_id"`
}

type ContentConfig struct {
	// MongoURI empty selects the in-memory store.
	MongoURI string `mapstructure:"mongo_uri"`
	Database string `mapstructure:"database"`
}

type Settings struct {
	Env         string            `mapstructure:"env"`
	Debug       bool              `mapstructure:"debug"`
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Session     SessionConfig     `mapstructure:"session"`
	WakeWord    WakeWordConfig    `mapstructure:"wake_word"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Interpreter InterpreterConfig `mapstructure:"interpreter"`
	Speech      SpeechConfig      `mapstructure:"speech"`
	Content     ContentConfig     `mapstructure:"content"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("debug", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.dev_mode", false)
	v.SetDefault("session.idle_timeout", 5*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("wake_word.mode", "hybrid")
	v.SetDefault("wake_word.phrase", "소리야")
	v.SetDefault("wake_word.energy_threshold", 0.015)
	v.SetDefault("wake_word.model_threshold", 0.75)
	v.SetDefault("wake_word.cooldown", time.Second)
	v.SetDefault("wake_word.max_utterance", 10*time.Second)
	v.SetDefault("wake_word.silence_timeout", 1500*time.Millisecond)
	v.SetDefault("recognition.default_engine", "google")
	v.SetDefault("recognition.whisper_url", "http://localhost:8090")
	v.SetDefault("recognition.phrase_hints", []string{"소리야", "다음", "이전", "다시"})
	v.SetDefault("recognition.hint_boost", 15.0)
	v.SetDefault("interpreter.model", "gemini-2.0-flash")
	v.SetDefault("speech.voice_id", "21m00Tcm4TlvDq8ikWAM")
	v.SetDefault("content.database", "sori")
}

// Load reads config.yaml from the working directory when present and applies
// SORI_* environment overrides on top of the defaults. A missing config file
// is not an error; a malformed one is.
func Load() (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SORI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := settings.validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Settings) validate() error {
	if !s.Auth.DevMode && s.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required outside dev mode")
	}
	switch s.WakeWord.Mode {
	case "ml", "energy", "hybrid":
	default:
		return fmt.Errorf("unknown wake_word.mode %q", s.WakeWord.Mode)
	}
	return nil
}
