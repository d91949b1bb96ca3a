package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"order-intake/internal/domain"
)

type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Twilio        TwilioConfig        `yaml:"twilio" toml:"twilio"`
	Transcription TranscriptionConfig `yaml:"transcription" toml:"transcription"`
	Transcoder    TranscoderConfig    `yaml:"transcoder" toml:"transcoder"`
	Store         StoreConfig         `yaml:"store" toml:"store"`
	Broadcast     BroadcastConfig     `yaml:"broadcast" toml:"broadcast"`
	Intake        IntakeConfig        `yaml:"intake" toml:"intake"`
	Menu          []MenuItemConfig    `yaml:"menu" toml:"menu"`
	Proxy         ProxyConfig         `yaml:"proxy" toml:"proxy"`
	Log           LogConfig           `yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr" toml:"addr"`
	FrontendOrigin string `yaml:"frontend_origin" toml:"frontend_origin"`
	WebhookToken   string `yaml:"webhook_token" toml:"webhook_token"`
	RateLimit      int    `yaml:"rate_limit" toml:"rate_limit"`
	RateWindow     string `yaml:"rate_window" toml:"rate_window"`
	TrustProxy     bool   `yaml:"trust_proxy" toml:"trust_proxy"`
}

type TwilioConfig struct {
	AccountSID     string `yaml:"account_sid" toml:"account_sid"`
	AuthToken      string `yaml:"auth_token" toml:"auth_token"`
	WhatsAppNumber string `yaml:"whatsapp_number" toml:"whatsapp_number"`
	BaseURL        string `yaml:"base_url" toml:"base_url"`
}

type TranscriptionConfig struct {
	Provider        string           `yaml:"provider" toml:"provider"`
	Language        string           `yaml:"language" toml:"language"`
	Timeout         string           `yaml:"timeout" toml:"timeout"`
	PollInterval    string           `yaml:"poll_interval" toml:"poll_interval"`
	PollMaxInterval string           `yaml:"poll_max_interval" toml:"poll_max_interval"`
	AssemblyAI      AssemblyAIConfig `yaml:"assemblyai" toml:"assemblyai"`
	OpenAI          OpenAIConfig     `yaml:"openai" toml:"openai"`
}

type AssemblyAIConfig struct {
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

type TranscoderConfig struct {
	Backend    string `yaml:"backend" toml:"backend"`
	FFmpegPath string `yaml:"ffmpeg_path" toml:"ffmpeg_path"`
	Target     string `yaml:"target" toml:"target"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type BroadcastConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
	AMQP      AMQPConfig      `yaml:"amqp" toml:"amqp"`
}

type WebSocketConfig struct {
	Disabled  bool `yaml:"disabled" toml:"disabled"`
	QueueSize int  `yaml:"queue_size" toml:"queue_size"`
}

// AMQPConfig enables the fanout publisher when URL is set.
type AMQPConfig struct {
	URL       string `yaml:"url" toml:"url"`
	Exchange  string `yaml:"exchange" toml:"exchange"`
	QueueSize int    `yaml:"queue_size" toml:"queue_size"`
}

type IntakeConfig struct {
	Async        *bool  `yaml:"async" toml:"async"`
	MaxInFlight  int    `yaml:"max_in_flight" toml:"max_in_flight"`
	EventTimeout string `yaml:"event_timeout" toml:"event_timeout"`
}

type MenuItemConfig struct {
	Name  string `yaml:"name" toml:"name"`
	Price int    `yaml:"price" toml:"price"`
}

type ProxyConfig struct {
	SOCKS5  string `yaml:"socks5" toml:"socks5"`
	Timeout string `yaml:"timeout" toml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a YAML or TOML file (chosen by extension), expanding ${VAR}
// references first. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if _, err := toml.Decode(expanded, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		default:
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}

	if c.Server.Addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			c.Server.Addr = ":" + port
		}
	}
	fill(&c.Server.FrontendOrigin, "FRONTEND_ORIGIN")
	fill(&c.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	fill(&c.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	fill(&c.Twilio.WhatsAppNumber, "TWILIO_WHATSAPP_NUMBER")
	fill(&c.Transcription.AssemblyAI.APIKey, "ASSEMBLYAI_API_KEY")
	fill(&c.Transcription.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&c.Store.DSN, "DATABASE_URL")
	fill(&c.Broadcast.AMQP.URL, "AMQP_URL")
}

func (c *Config) setDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if c.Server.FrontendOrigin == "" {
		c.Server.FrontendOrigin = "http://localhost:3000"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 120
	}
	if c.Server.RateWindow == "" {
		c.Server.RateWindow = "1m"
	}
	if c.Transcription.Provider == "" {
		c.Transcription.Provider = "assemblyai"
	}
	if c.Transcription.Language == "" {
		c.Transcription.Language = "en"
	}
	if c.Transcription.Timeout == "" {
		c.Transcription.Timeout = "2m"
	}
	if c.Transcription.PollInterval == "" {
		c.Transcription.PollInterval = "1s"
	}
	if c.Transcription.PollMaxInterval == "" {
		c.Transcription.PollMaxInterval = "5s"
	}
	if c.Transcoder.Backend == "" {
		c.Transcoder.Backend = "ffmpeg"
	}
	if c.Transcoder.FFmpegPath == "" {
		c.Transcoder.FFmpegPath = "ffmpeg"
	}
	if c.Transcoder.Target == "" {
		c.Transcoder.Target = "mp3"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Broadcast.WebSocket.QueueSize == 0 {
		c.Broadcast.WebSocket.QueueSize = 16
	}
	if c.Broadcast.AMQP.Exchange == "" {
		c.Broadcast.AMQP.Exchange = "orders.live"
	}
	if c.Broadcast.AMQP.QueueSize == 0 {
		c.Broadcast.AMQP.QueueSize = 256
	}
	if c.Intake.Async == nil {
		async := true
		c.Intake.Async = &async
	}
	if c.Intake.MaxInFlight == 0 {
		c.Intake.MaxInFlight = 8
	}
	if c.Intake.EventTimeout == "" {
		c.Intake.EventTimeout = "3m"
	}
	if c.Proxy.Timeout == "" {
		c.Proxy.Timeout = "60s"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	if !oneOf(c.Transcription.Provider, "assemblyai", "openai", "none") {
		return fmt.Errorf("transcription.provider: unknown provider %q", c.Transcription.Provider)
	}
	if !oneOf(c.Transcoder.Backend, "ffmpeg", "native", "none") {
		return fmt.Errorf("transcoder.backend: unknown backend %q", c.Transcoder.Backend)
	}
	if !oneOf(c.Transcoder.Target, "mp3", "wav") {
		return fmt.Errorf("transcoder.target: unknown format %q", c.Transcoder.Target)
	}
	if !oneOf(c.Store.Driver, "memory", "postgres") {
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn: required for postgres")
	}
	if !oneOf(c.Log.Level, "debug", "info", "warn", "error") {
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	if !oneOf(c.Log.Format, "text", "json", "tint") {
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Intake.MaxInFlight < 0 {
		return fmt.Errorf("intake.max_in_flight: must be positive")
	}

	durations := map[string]string{
		"server.rate_window":              c.Server.RateWindow,
		"transcription.timeout":           c.Transcription.Timeout,
		"transcription.poll_interval":     c.Transcription.PollInterval,
		"transcription.poll_max_interval": c.Transcription.PollMaxInterval,
		"intake.event_timeout":            c.Intake.EventTimeout,
		"proxy.timeout":                   c.Proxy.Timeout,
	}
	for field, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: must be positive", field)
		}
	}

	if Duration(c.Intake.EventTimeout) <= Duration(c.Transcription.Timeout) {
		return fmt.Errorf("intake.event_timeout: %s must exceed transcription.timeout %s",
			c.Intake.EventTimeout, c.Transcription.Timeout)
	}

	if _, err := domain.NewCatalog(c.MenuEntries()); err != nil {
		return fmt.Errorf("menu: %w", err)
	}
	return nil
}

// MenuEntries returns the configured menu, or the default one when the
// menu section is absent.
func (c *Config) MenuEntries() []domain.MenuEntry {
	if len(c.Menu) == 0 {
		return domain.DefaultMenu()
	}
	entries := make([]domain.MenuEntry, len(c.Menu))
	for i, m := range c.Menu {
		entries[i] = domain.MenuEntry{Name: m.Name, Price: m.Price}
	}
	return entries
}

func (c *Config) IsAsync() bool {
	return c.Intake.Async == nil || *c.Intake.Async
}

// Duration parses a value already checked by Validate.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
