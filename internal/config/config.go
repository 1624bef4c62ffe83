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
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	AppName     string          `yaml:"app_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Client      ClientConfig    `yaml:"client"`
	Pricing     PricingConfig   `yaml:"pricing"`
	Assembler   AssemblerConfig `yaml:"assembler"`
	Player      PlayerConfig    `yaml:"player"`
	History     HistoryConfig   `yaml:"history"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type SynthesisConfig struct {
	Model        string  `yaml:"model"`
	Voice        string  `yaml:"voice"`
	Format       string  `yaml:"format"`
	Speed        float64 `yaml:"speed"`
	ChunkLimit   int     `yaml:"chunk_limit"`
	RetainChunks bool    `yaml:"retain_chunks"`
}

type ClientConfig struct {
	BaseURL      string `yaml:"base_url"`
	TimeoutMS    int    `yaml:"timeout_ms"`
	MaxAttempts  int    `yaml:"max_attempts"`
	RetryDelayMS int    `yaml:"retry_delay_ms"`
	// Requests per minute allowed by the endpoint per model tier; the
	// client spaces requests to stay under these.
	StandardRPM int `yaml:"standard_rpm"`
	HDRPM       int `yaml:"hd_rpm"`
}

type PricingConfig struct {
	// Billing charges whole blocks of this many characters; a partial
	// block counts as a full one.
	BlockChars    int     `yaml:"block_chars"`
	USDPerBlock   float64 `yaml:"usd_per_block"`
	USDPerBlockHD float64 `yaml:"usd_per_block_hd"`
}

type AssemblerConfig struct {
	Command string `yaml:"command"`
}

type PlayerConfig struct {
	Command string `yaml:"command"`
	UnitMS  int    `yaml:"unit_ms"`
}

type HistoryConfig struct {
	Path    string `yaml:"path"`
	MaxJobs int    `yaml:"max_jobs"`
}

func Default() Config {
	return Config{
		AppName:     "chanter",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Synthesis: SynthesisConfig{
			Model:      "tts-1",
			Voice:      "alloy",
			Format:     "mp3",
			Speed:      1.0,
			ChunkLimit: 4096,
		},
		Client: ClientConfig{
			BaseURL:      "https://api.openai.com/v1",
			TimeoutMS:    120000,
			MaxAttempts:  3,
			RetryDelayMS: 5000,
			StandardRPM:  50,
			HDRPM:        3,
		},
		Pricing: PricingConfig{
			BlockChars:    1000,
			USDPerBlock:   0.015,
			USDPerBlockHD: 0.030,
		},
		Assembler: AssemblerConfig{
			Command: "ffmpeg -y -loglevel error",
		},
		Player: PlayerConfig{
			Command: "ffplay -autoexit -nodisp -loglevel error -",
			UnitMS:  200,
		},
		History: HistoryConfig{
			Path:    "./data/chanter-jobs.db",
			MaxJobs: 1000,
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
	overrideString(&cfg.AppName, "CHANTER_APP_NAME")
	overrideString(&cfg.Environment, "CHANTER_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "CHANTER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "CHANTER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "CHANTER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CHANTER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CHANTER_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "CHANTER_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "CHANTER_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "CHANTER_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "CHANTER_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "CHANTER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "CHANTER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "CHANTER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "CHANTER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "CHANTER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "CHANTER_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Synthesis.Model, "CHANTER_SYNTHESIS_MODEL")
	overrideString(&cfg.Synthesis.Voice, "CHANTER_SYNTHESIS_VOICE")
	overrideString(&cfg.Synthesis.Format, "CHANTER_SYNTHESIS_FORMAT")
	overrideFloat(&cfg.Synthesis.Speed, "CHANTER_SYNTHESIS_SPEED")
	overrideInt(&cfg.Synthesis.ChunkLimit, "CHANTER_SYNTHESIS_CHUNK_LIMIT")
	overrideBool(&cfg.Synthesis.RetainChunks, "CHANTER_SYNTHESIS_RETAIN_CHUNKS")
	overrideString(&cfg.Client.BaseURL, "CHANTER_CLIENT_BASE_URL")
	overrideInt(&cfg.Client.TimeoutMS, "CHANTER_CLIENT_TIMEOUT_MS")
	overrideInt(&cfg.Client.MaxAttempts, "CHANTER_CLIENT_MAX_ATTEMPTS")
	overrideInt(&cfg.Client.RetryDelayMS, "CHANTER_CLIENT_RETRY_DELAY_MS")
	overrideInt(&cfg.Client.StandardRPM, "CHANTER_CLIENT_STANDARD_RPM")
	overrideInt(&cfg.Client.HDRPM, "CHANTER_CLIENT_HD_RPM")
	overrideInt(&cfg.Pricing.BlockChars, "CHANTER_PRICING_BLOCK_CHARS")
	overrideFloat(&cfg.Pricing.USDPerBlock, "CHANTER_PRICING_USD_PER_BLOCK")
	overrideFloat(&cfg.Pricing.USDPerBlockHD, "CHANTER_PRICING_USD_PER_BLOCK_HD")
	overrideString(&cfg.Assembler.Command, "CHANTER_ASSEMBLER_COMMAND")
	overrideString(&cfg.Player.Command, "CHANTER_PLAYER_COMMAND")
	overrideInt(&cfg.Player.UnitMS, "CHANTER_PLAYER_UNIT_MS")
	overrideString(&cfg.History.Path, "CHANTER_HISTORY_PATH")
	overrideInt(&cfg.History.MaxJobs, "CHANTER_HISTORY_MAX_JOBS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.AppName == "" {
		return errors.New("app_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
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
	switch cfg.Synthesis.Model {
	case "tts-1", "tts-1-hd":
	default:
		return errors.New("synthesis.model must be one of tts-1|tts-1-hd")
	}
	switch cfg.Synthesis.Voice {
	case "alloy", "echo", "fable", "onyx", "nova", "shimmer":
	default:
		return errors.New("synthesis.voice must be one of alloy|echo|fable|onyx|nova|shimmer")
	}
	switch cfg.Synthesis.Format {
	case "mp3", "opus", "aac", "flac", "wav":
	default:
		return errors.New("synthesis.format must be one of mp3|opus|aac|flac|wav")
	}
	if cfg.Synthesis.Speed != 0 && (cfg.Synthesis.Speed < 0.25 || cfg.Synthesis.Speed > 4.0) {
		return errors.New("synthesis.speed must be between 0.25 and 4.0")
	}
	if cfg.Synthesis.ChunkLimit <= 0 || cfg.Synthesis.ChunkLimit > 4096 {
		return errors.New("synthesis.chunk_limit must be between 1 and 4096")
	}
	if cfg.Client.BaseURL == "" {
		return errors.New("client.base_url must not be empty")
	}
	if cfg.Client.TimeoutMS <= 0 {
		return errors.New("client.timeout_ms must be positive")
	}
	if cfg.Client.MaxAttempts < 1 {
		return errors.New("client.max_attempts must be >= 1")
	}
	if cfg.Client.RetryDelayMS < 0 {
		return errors.New("client.retry_delay_ms must be >= 0")
	}
	if cfg.Client.StandardRPM < 1 || cfg.Client.HDRPM < 1 {
		return errors.New("client rate limits must be >= 1 request per minute")
	}
	if cfg.Pricing.BlockChars < 1 {
		return errors.New("pricing.block_chars must be >= 1")
	}
	if cfg.Pricing.USDPerBlock < 0 || cfg.Pricing.USDPerBlockHD < 0 {
		return errors.New("pricing rates must be >= 0")
	}
	if cfg.Assembler.Command == "" {
		return errors.New("assembler.command must not be empty")
	}
	if cfg.Player.Command == "" {
		return errors.New("player.command must not be empty")
	}
	if cfg.Player.UnitMS <= 0 {
		return errors.New("player.unit_ms must be positive")
	}
	if cfg.History.MaxJobs < 0 {
		return errors.New("history.max_jobs must be >= 0")
	}
	return nil
}
