package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // json, text
	LogFile        string `yaml:"log_file"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	RecordStore RecordStoreConfig `yaml:"record_store"`
	STT         STTConfig         `yaml:"stt"`
	Offline     OfflineConfig     `yaml:"offline"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type RecordStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// STTConfig selects and configures the transcription backend. Credentials
// left empty mean no real backend is configured.
type STTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, doubao, exec
	URI        string `yaml:"uri"`
	AppID      string `yaml:"app_id"`
	Token      string `yaml:"token"`
	Cluster    string `yaml:"cluster"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	Format     string `yaml:"format"`
	SampleRate int    `yaml:"sample_rate"`
	Bits       int    `yaml:"bits"`
	Channels   int    `yaml:"channels"`
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
}

// Configured reports whether a real backend has what it needs to be tried.
func (c STTConfig) Configured() bool {
	switch c.Mode {
	case "doubao":
		return c.URI != "" && c.AppID != "" && c.Token != ""
	case "exec":
		return c.Command != ""
	default:
		return false
	}
}

type OfflineConfig struct {
	DelayMS int `yaml:"delay_ms"`
}

// PipelineConfig tunes recognition. MaxAudioBytes and SessionIdleMS bound
// recordings assembled from bus frames.
type PipelineConfig struct {
	MinAudioBytes int  `yaml:"min_audio_bytes"`
	Persist       bool `yaml:"persist"`
	Publish       bool `yaml:"publish"`
	MaxConcurrent int  `yaml:"max_concurrent"`
	MaxAudioBytes int  `yaml:"max_audio_bytes"`
	SessionIdleMS int  `yaml:"session_idle_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "vitals-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		RecordStore: RecordStoreConfig{
			Path:          "./data/vitals.db",
			RetentionDays: 0,
		},
		STT: STTConfig{
			Enabled:    false,
			Mode:       "mock",
			URI:        "wss://openspeech.bytedance.com/api/v2/asr",
			Cluster:    "volc_asr_common",
			TimeoutMS:  10000,
			Format:     "wav",
			SampleRate: 16000,
			Bits:       16,
			Channels:   1,
			Language:   "zh-CN",
		},
		Offline: OfflineConfig{
			DelayMS: 800,
		},
		Pipeline: PipelineConfig{
			MinAudioBytes: 100,
			Persist:       false,
			Publish:       true,
			MaxConcurrent: 4,
			MaxAudioBytes: 8 << 20,
			SessionIdleMS: 30000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VITALS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VITALS_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VITALS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VITALS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VITALS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "VITALS_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.LogFile, "VITALS_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VITALS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VITALS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VITALS_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VITALS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VITALS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VITALS_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VITALS_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VITALS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VITALS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VITALS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VITALS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VITALS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VITALS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.RecordStore.Path, "VITALS_RECORD_STORE_PATH")
	overrideInt(&cfg.RecordStore.RetentionDays, "VITALS_RECORD_STORE_RETENTION_DAYS")
	overrideBool(&cfg.STT.Enabled, "VITALS_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "VITALS_STT_MODE")
	overrideString(&cfg.STT.URI, "VITALS_STT_URI")
	overrideString(&cfg.STT.AppID, "VITALS_STT_APP_ID")
	overrideString(&cfg.STT.Token, "VITALS_STT_TOKEN")
	overrideString(&cfg.STT.Cluster, "VITALS_STT_CLUSTER")
	overrideInt(&cfg.STT.TimeoutMS, "VITALS_STT_TIMEOUT_MS")
	overrideString(&cfg.STT.Format, "VITALS_STT_FORMAT")
	overrideInt(&cfg.STT.SampleRate, "VITALS_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Bits, "VITALS_STT_BITS")
	overrideInt(&cfg.STT.Channels, "VITALS_STT_CHANNELS")
	overrideString(&cfg.STT.Command, "VITALS_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "VITALS_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "VITALS_STT_LANGUAGE")
	overrideInt(&cfg.Offline.DelayMS, "VITALS_OFFLINE_DELAY_MS")
	overrideInt(&cfg.Pipeline.MinAudioBytes, "VITALS_PIPELINE_MIN_AUDIO_BYTES")
	overrideBool(&cfg.Pipeline.Persist, "VITALS_PIPELINE_PERSIST")
	overrideBool(&cfg.Pipeline.Publish, "VITALS_PIPELINE_PUBLISH")
	overrideInt(&cfg.Pipeline.MaxConcurrent, "VITALS_PIPELINE_MAX_CONCURRENT")
	overrideInt(&cfg.Pipeline.MaxAudioBytes, "VITALS_PIPELINE_MAX_AUDIO_BYTES")
	overrideInt(&cfg.Pipeline.SessionIdleMS, "VITALS_PIPELINE_SESSION_IDLE_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.RecordStore.Path == "" {
		return errors.New("record_store.path must not be empty")
	}
	if cfg.RecordStore.RetentionDays < 0 {
		return errors.New("record_store.retention_days must be >= 0")
	}
	if err := ValidateSTT(cfg.STT); err != nil {
		return err
	}
	if cfg.Offline.DelayMS < 0 {
		return errors.New("offline.delay_ms must be >= 0")
	}
	if cfg.Pipeline.MinAudioBytes < 0 {
		return errors.New("pipeline.min_audio_bytes must be >= 0")
	}
	if cfg.Pipeline.MaxConcurrent <= 0 {
		return errors.New("pipeline.max_concurrent must be > 0")
	}
	if cfg.Pipeline.MaxAudioBytes < cfg.Pipeline.MinAudioBytes {
		return errors.New("pipeline.max_audio_bytes must be >= pipeline.min_audio_bytes")
	}
	if cfg.Pipeline.SessionIdleMS <= 0 {
		return errors.New("pipeline.session_idle_ms must be > 0")
	}
	return nil
}

// ValidateSTT checks a transcription config on its own so runtime updates can
// be rejected before they reach the gateway.
func ValidateSTT(c STTConfig) error {
	switch c.Mode {
	case "mock", "doubao", "exec":
	default:
		return errors.New("stt.mode must be one of mock|doubao|exec")
	}
	if c.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	if c.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if c.Channels <= 0 {
		return errors.New("stt.channels must be positive")
	}
	if c.Bits != 8 && c.Bits != 16 && c.Bits != 24 && c.Bits != 32 {
		return errors.New("stt.bits must be one of 8|16|24|32")
	}
	if c.Enabled && c.Mode == "exec" && c.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	return nil
}
