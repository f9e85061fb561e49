// Package config loads the server configuration from an optional YAML file,
// a .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/careerpath/interviewcoach/server/adapters/llm"
	"github.com/careerpath/interviewcoach/server/adapters/mongo"
	"github.com/careerpath/interviewcoach/server/adapters/tts"
	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/internal/behavior"
	"github.com/careerpath/interviewcoach/server/internal/feedback"
	"github.com/careerpath/interviewcoach/server/internal/interview"
	"github.com/careerpath/interviewcoach/server/internal/speech"
	"github.com/careerpath/interviewcoach/server/internal/turn"
)

const (
	EnvPrefix = "INTERVIEW"

	DefaultPort             = "8080"
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultCleanupInterval  = time.Minute
	DefaultSessionRetention = 30 * time.Minute
	DefaultFrameRate        = 60
	DefaultFrameBurst       = 30
)

// Provider names
const (
	ProviderMock       = "mock"
	ProviderGemini     = "gemini"
	ProviderClient     = "client"
	ProviderGoogle     = "google"
	ProviderNone       = "none"
	ProviderElevenLabs = "elevenlabs"
	ProviderMemory     = "memory"
	ProviderMongo      = "mongo"
)

// Config holds the complete server configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Interview   InterviewConfig   `mapstructure:"interview"`
	Dialogue    DialogueConfig    `mapstructure:"dialogue"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Synthesis   SynthesisConfig   `mapstructure:"synthesis"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Websocket   WebsocketConfig   `mapstructure:"websocket"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig selects the zap preset and level
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// AuthConfig holds session token settings
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// InterviewConfig holds the per-session tunables
type InterviewConfig struct {
	Behavior        behavior.Config `mapstructure:"behavior"`
	Speech          speech.Config   `mapstructure:"speech"`
	Turn            turn.Config     `mapstructure:"turn"`
	Feedback        FeedbackConfig  `mapstructure:"feedback"`
	LoopInterval    time.Duration   `mapstructure:"loop_interval"`
	DialogueTimeout time.Duration   `mapstructure:"dialogue_timeout"`
	SpeechWatchdog  time.Duration   `mapstructure:"speech_watchdog"`
	QueueCapacity   int             `mapstructure:"queue_capacity"`
	Audio           AudioConfig     `mapstructure:"audio"`
}

// FeedbackConfig holds display timing and persistence thresholds
type FeedbackConfig struct {
	DisplayDuration     time.Duration `mapstructure:"display_duration"`
	Tick                time.Duration `mapstructure:"tick"`
	EyeContactThreshold time.Duration `mapstructure:"eye_contact_threshold"`
	PostureThreshold    time.Duration `mapstructure:"posture_threshold"`
	HandThreshold       time.Duration `mapstructure:"hand_threshold"`
}

// AudioConfig describes the microphone audio sent for server-side recognition
type AudioConfig struct {
	SampleRate int    `mapstructure:"sample_rate"`
	Encoding   string `mapstructure:"encoding"`
	Language   string `mapstructure:"language"`
}

// DialogueConfig selects the interviewer backend
type DialogueConfig struct {
	Provider string           `mapstructure:"provider"`
	Gemini   llm.GeminiConfig `mapstructure:"gemini"`
}

// RecognitionConfig selects where speech is recognized
type RecognitionConfig struct {
	Provider string `mapstructure:"provider"`
}

// SynthesisConfig selects the speech synthesizer
type SynthesisConfig struct {
	Provider   string               `mapstructure:"provider"`
	ElevenLabs tts.ElevenLabsConfig `mapstructure:"elevenlabs"`
}

// StorageConfig selects the session repository
type StorageConfig struct {
	Provider string       `mapstructure:"provider"`
	Mongo    mongo.Config `mapstructure:"mongo"`
}

// WebsocketConfig holds per-client limits
type WebsocketConfig struct {
	FrameRate  float64 `mapstructure:"frame_rate"`
	FrameBurst int     `mapstructure:"frame_burst"`
}

// CleanupConfig controls eviction of ended sessions
type CleanupConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

// Load reads .env (if present), the config file (if present) and the environment.
// An empty configPath searches ./config.yaml.
func Load(configPath string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional provider credential names
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("auth.secret", EnvPrefix+"_AUTH_SECRET", "JWT_SECRET")
	_ = v.BindEnv("dialogue.gemini.api_key", EnvPrefix+"_DIALOGUE_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("synthesis.elevenlabs.api_key", EnvPrefix+"_SYNTHESIS_ELEVENLABS_API_KEY", "ELEVEN_LABS_API_KEY")
	_ = v.BindEnv("storage.mongo.uri", EnvPrefix+"_STORAGE_MONGO_URI", "MONGODB_URI")
	_ = v.BindEnv("storage.mongo.database", EnvPrefix+"_STORAGE_MONGO_DATABASE", "MONGODB_DATABASE")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth secret is required (set JWT_SECRET)")
	}
	if err := oneOf("dialogue provider", c.Dialogue.Provider, ProviderGemini, ProviderMock); err != nil {
		return err
	}
	if err := oneOf("recognition provider", c.Recognition.Provider, ProviderClient, ProviderGoogle, ProviderMock); err != nil {
		return err
	}
	if err := oneOf("synthesis provider", c.Synthesis.Provider, ProviderNone, ProviderElevenLabs, ProviderMock); err != nil {
		return err
	}
	if err := oneOf("storage provider", c.Storage.Provider, ProviderMemory, ProviderMongo); err != nil {
		return err
	}
	if c.Storage.Provider == ProviderMongo {
		if err := c.Storage.Mongo.Validate(); err != nil {
			return err
		}
	}
	if c.Websocket.FrameRate <= 0 || c.Websocket.FrameBurst <= 0 {
		return errors.New("websocket frame rate and burst must be positive")
	}
	if c.Cleanup.Interval <= 0 || c.Cleanup.Retention <= 0 {
		return errors.New("cleanup interval and retention must be positive")
	}
	if err := c.Runtime().Validate(); err != nil {
		return fmt.Errorf("interview: %w", err)
	}
	return nil
}

// Runtime builds the per-session runtime configuration
func (c *Config) Runtime() interview.Config {
	rc := interview.DefaultConfig()
	ic := c.Interview

	rc.Behavior = ic.Behavior
	rc.Speech = ic.Speech
	rc.Turn = ic.Turn
	rc.LoopInterval = ic.LoopInterval
	rc.DialogueTimeout = ic.DialogueTimeout
	rc.SpeechWatchdog = ic.SpeechWatchdog
	rc.QueueCapacity = ic.QueueCapacity
	rc.FeedbackTick = ic.Feedback.Tick
	rc.Audio.SampleRate = ic.Audio.SampleRate
	rc.Audio.Encoding = ic.Audio.Encoding
	rc.Audio.Language = ic.Audio.Language

	rc.Feedback = feedback.DefaultConfig()
	rc.Feedback.DisplayDuration = ic.Feedback.DisplayDuration
	thresholds := map[entities.Dimension]time.Duration{
		entities.DimensionEyeContact: ic.Feedback.EyeContactThreshold,
		entities.DimensionPosture:    ic.Feedback.PostureThreshold,
		entities.DimensionHand:       ic.Feedback.HandThreshold,
	}
	for d, threshold := range thresholds {
		rule := rc.Feedback.Rules[d]
		rule.Threshold = threshold
		rc.Feedback.Rules[d] = rule
	}
	return rc
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (must be one of %s)", name, value, strings.Join(allowed, ", "))
}

func setDefaults(v *viper.Viper) {
	rc := interview.DefaultConfig()
	gemini := llm.DefaultGeminiConfig()

	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 4*time.Hour)

	v.SetDefault("interview.behavior.dropout_grace", rc.Behavior.DropoutGrace)
	v.SetDefault("interview.speech.cooldown", rc.Speech.CooldownDelay)
	v.SetDefault("interview.speech.silence_threshold", rc.Speech.SilenceThreshold)
	v.SetDefault("interview.speech.min_confidence", rc.Speech.MinConfidence)
	v.SetDefault("interview.speech.max_recognition_restarts", rc.Speech.MaxRestarts)
	v.SetDefault("interview.turn.tick_interval", rc.Turn.TickInterval)
	v.SetDefault("interview.turn.default_budget_minutes", rc.Turn.DefaultBudgetMinutes)
	v.SetDefault("interview.feedback.display_duration", feedback.DefaultDisplayDuration)
	v.SetDefault("interview.feedback.tick", feedback.DefaultTickInterval)
	v.SetDefault("interview.feedback.eye_contact_threshold", feedback.DefaultEyeContactThreshold)
	v.SetDefault("interview.feedback.posture_threshold", feedback.DefaultPostureThreshold)
	v.SetDefault("interview.feedback.hand_threshold", feedback.DefaultHandThreshold)
	v.SetDefault("interview.loop_interval", rc.LoopInterval)
	v.SetDefault("interview.dialogue_timeout", rc.DialogueTimeout)
	v.SetDefault("interview.speech_watchdog", rc.SpeechWatchdog)
	v.SetDefault("interview.queue_capacity", rc.QueueCapacity)
	v.SetDefault("interview.audio.sample_rate", rc.Audio.SampleRate)
	v.SetDefault("interview.audio.encoding", rc.Audio.Encoding)
	v.SetDefault("interview.audio.language", rc.Audio.Language)

	v.SetDefault("dialogue.provider", ProviderMock)
	v.SetDefault("dialogue.gemini.api_key", "")
	v.SetDefault("dialogue.gemini.model", gemini.Model)
	v.SetDefault("dialogue.gemini.temperature", gemini.Temperature)
	v.SetDefault("dialogue.gemini.top_p", gemini.TopP)
	v.SetDefault("dialogue.gemini.top_k", gemini.TopK)
	v.SetDefault("dialogue.gemini.max_output_tokens", gemini.MaxOutputTokens)
	v.SetDefault("dialogue.gemini.attempts", gemini.Attempts)

	v.SetDefault("recognition.provider", ProviderClient)

	v.SetDefault("synthesis.provider", ProviderNone)
	v.SetDefault("synthesis.elevenlabs.api_key", "")
	v.SetDefault("synthesis.elevenlabs.output_format", "pcm_24000")
	v.SetDefault("synthesis.elevenlabs.language_code", "en")

	v.SetDefault("storage.provider", ProviderMemory)
	v.SetDefault("storage.mongo.uri", mongo.DefaultURI)
	v.SetDefault("storage.mongo.database", mongo.DefaultDatabase)
	v.SetDefault("storage.mongo.max_pool_size", mongo.DefaultMaxPoolSize)
	v.SetDefault("storage.mongo.connect_timeout", mongo.DefaultConnectTimeout)
	v.SetDefault("storage.mongo.server_selection_timeout", mongo.DefaultSelectTimeout)

	v.SetDefault("websocket.frame_rate", DefaultFrameRate)
	v.SetDefault("websocket.frame_burst", DefaultFrameBurst)

	v.SetDefault("cleanup.interval", DefaultCleanupInterval)
	v.SetDefault("cleanup.retention", DefaultSessionRetention)
}
