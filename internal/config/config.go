package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "GHOSTQUANT_"

// Config stores runtime configuration for the voice copilot.
type Config struct {
	STT         STTConfig         `mapstructure:"stt"`
	TTS         TTSConfig         `mapstructure:"tts"`
	Audio       AudioConfig       `mapstructure:"audio"`
	Wake        WakeConfig        `mapstructure:"wake"`
	Corrections CorrectionsConfig `mapstructure:"corrections"`
	Interrupt   InterruptConfig   `mapstructure:"interrupt"`
	Expansion   ExpansionConfig   `mapstructure:"expansion"`
	Watchdog    WatchdogConfig    `mapstructure:"watchdog"`
	Responder   ResponderConfig   `mapstructure:"responder"`
	Settings    SettingsConfig    `mapstructure:"settings"`
	Log         LogConfig         `mapstructure:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type STTConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	Language         string        `mapstructure:"language"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	StreamGrace      time.Duration `mapstructure:"stream_grace"`
}

type TTSConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	VoiceID         string        `mapstructure:"voice_id"`
	ModelID         string        `mapstructure:"model_id"`
	Stability       float64       `mapstructure:"stability"`
	SimilarityBoost float64       `mapstructure:"similarity_boost"`
	Style           float64       `mapstructure:"style"`
	SpeakerBoost    bool          `mapstructure:"speaker_boost"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PlaybackBuffer  int           `mapstructure:"playback_buffer_ms"`
}

type AudioConfig struct {
	RecorderCommand string  `mapstructure:"recorder_command"`
	InputFormat     string  `mapstructure:"input_format"`
	InputDevice     string  `mapstructure:"input_device"`
	SampleRate      int     `mapstructure:"sample_rate"`
	Channels        int     `mapstructure:"channels"`
	ChunkSize       int     `mapstructure:"chunk_size"`
	SpeechThreshold float64 `mapstructure:"speech_threshold"`
}

type WakeConfig struct {
	AliasFile string `mapstructure:"alias_file"`
}

type CorrectionsConfig struct {
	Path      string `mapstructure:"path"`
	PassLimit int    `mapstructure:"pass_limit"`
}

type InterruptConfig struct {
	DebounceDelay     time.Duration `mapstructure:"debounce_delay"`
	MinSpeechDuration time.Duration `mapstructure:"min_speech_duration"`
}

type ExpansionConfig struct {
	SynonymRate      float64 `mapstructure:"synonym_rate"`
	OpeningRate      float64 `mapstructure:"opening_rate"`
	OverlapThreshold float64 `mapstructure:"overlap_threshold"`
}

type WatchdogConfig struct {
	Enabled            bool               `mapstructure:"enabled"`
	InputsFile         string             `mapstructure:"inputs_file"`
	ScanInterval       time.Duration      `mapstructure:"scan_interval"`
	AutoSpeakThreshold float64            `mapstructure:"auto_speak_threshold"`
	DedupWindow        time.Duration      `mapstructure:"dedup_window"`
	AlertTTL           time.Duration      `mapstructure:"alert_ttl"`
	Weights            map[string]float64 `mapstructure:"weights"`
}

type ResponderConfig struct {
	Host        string        `mapstructure:"host"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	QueueSize   int           `mapstructure:"queue_size"`
}

type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultPath is the config file read when no explicit path is given.
func DefaultPath(home string) string {
	return filepath.Join(home, ".config", "ghostquant", "voice.yaml")
}

// Load resolves configuration from defaults, an optional YAML file and the
// environment, in increasing priority. An explicit path must exist.
//
// Every key can be set as GHOSTQUANT_<SECTION>_<KEY>, e.g.
// GHOSTQUANT_AUDIO_SAMPLE_RATE. A numeric, boolean or duration variable that
// does not parse keeps the file or default value.
func Load(path string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	v := viper.New()
	defaults := defaultValues(home)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigType("yaml")

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath(home)
	}
	v.SetConfigFile(path)

	file := ""
	if err := v.ReadInConfig(); err != nil {
		if explicit || !isNotFound(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		file = v.ConfigFileUsed()
	}

	bindEnv(v, defaults)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = file

	normalize(&cfg)
	return cfg, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

func defaultValues(home string) map[string]any {
	configDir := filepath.Join(home, ".config", "ghostquant")
	return map[string]any{
		"stt.api_key":           "",
		"stt.base_url":          "wss://api.elevenlabs.io/v1/speech-to-text/realtime",
		"stt.model":             "scribe_v1",
		"stt.language":          "en",
		"stt.dial_timeout":      10 * time.Second,
		"stt.ready_timeout":     15 * time.Second,
		"stt.max_reconnects":    3,
		"stt.reconnect_backoff": time.Second,
		"stt.stream_grace":      4 * time.Second,

		"tts.api_key":            "",
		"tts.base_url":           "https://api.elevenlabs.io/v1",
		"tts.voice_id":           "21m00Tcm4TlvDq8ikWAM",
		"tts.model_id":           "eleven_turbo_v2_5",
		"tts.stability":          0.5,
		"tts.similarity_boost":   0.75,
		"tts.style":              0.0,
		"tts.speaker_boost":      true,
		"tts.timeout":            30 * time.Second,
		"tts.playback_buffer_ms": 100,

		"audio.recorder_command": "ffmpeg",
		"audio.input_format":     "pulse",
		"audio.input_device":     "default",
		"audio.sample_rate":      16000,
		"audio.channels":         1,
		"audio.chunk_size":       4096,
		"audio.speech_threshold": 0.015,

		"wake.alias_file": filepath.Join(configDir, "wake_aliases.yaml"),

		"corrections.path":       filepath.Join(configDir, "corrections.rules"),
		"corrections.pass_limit": 30,

		"interrupt.debounce_delay":      100 * time.Millisecond,
		"interrupt.min_speech_duration": 200 * time.Millisecond,

		"expansion.synonym_rate":      0.35,
		"expansion.opening_rate":      0.6,
		"expansion.overlap_threshold": 0.8,

		"watchdog.enabled":              true,
		"watchdog.inputs_file":          filepath.Join(configDir, "watchdog_inputs.json"),
		"watchdog.scan_interval":        10 * time.Second,
		"watchdog.auto_speak_threshold": 70.0,
		"watchdog.dedup_window":         60 * time.Second,
		"watchdog.alert_ttl":            5 * time.Minute,

		"responder.host":        "http://localhost:11434",
		"responder.model":       "llama3.2",
		"responder.temperature": 0.6,
		"responder.max_tokens":  120,
		"responder.timeout":     20 * time.Second,
		"responder.queue_size":  8,

		"settings.path": filepath.Join(configDir, "settings.db"),

		"log.level":  "info",
		"log.format": "console",
	}
}

// envAliases are provider variables read after the GHOSTQUANT_ name, in order.
var envAliases = map[string][]string{
	"stt.api_key":        {"SCRIBE_API_KEY", "ELEVENLABS_API_KEY"},
	"tts.api_key":        {"ELEVENLABS_API_KEY"},
	"tts.voice_id":       {"ELEVENLABS_VOICE_ID"},
	"audio.input_device": {"PULSE_SOURCE"},
	"responder.host":     {"OLLAMA_HOST"},
}

func envName(key string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// bindEnv routes the environment through viper. Typed values are parsed up
// front and pinned, so a bad variable cannot fail the decode.
func bindEnv(v *viper.Viper, defaults map[string]any) {
	for key, def := range defaults {
		name := envName(key)
		if _, ok := os.LookupEnv(name); !ok {
			continue
		}
		switch def.(type) {
		case int:
			v.Set(key, envOrDefaultInt(name, v.GetInt(key)))
		case float64:
			v.Set(key, envOrDefaultFloat(name, v.GetFloat64(key)))
		case bool:
			v.Set(key, envOrDefaultBool(name, v.GetBool(key)))
		case time.Duration:
			v.Set(key, envOrDefaultDuration(name, v.GetDuration(key)))
		}
	}

	v.SetEnvPrefix(strings.TrimSuffix(envPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, aliases := range envAliases {
		_ = v.BindEnv(append([]string{key, envName(key)}, aliases...)...)
	}
	v.AutomaticEnv()
}

func normalize(cfg *Config) {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Corrections.PassLimit <= 0 {
		cfg.Corrections.PassLimit = 30
	}
	if cfg.STT.MaxReconnects < 0 {
		cfg.STT.MaxReconnects = 0
	}
	if cfg.TTS.PlaybackBuffer <= 0 {
		cfg.TTS.PlaybackBuffer = 100
	}
	if cfg.Responder.QueueSize <= 0 {
		cfg.Responder.QueueSize = 8
	}
	cfg.STT.APIKey = strings.TrimSpace(cfg.STT.APIKey)
	cfg.TTS.APIKey = strings.TrimSpace(cfg.TTS.APIKey)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts Go durations ("750ms") or bare milliseconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		if ms < 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
