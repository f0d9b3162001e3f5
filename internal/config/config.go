package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr     = ":8099"
	defaultDBPath       = "/data/switchbot_cloud.db"
	defaultConfigPath   = "/data/options.yaml"
	defaultBaseURL      = "https://api.switch-bot.com"
	defaultEntryID      = "default"
	defaultEntryTitle   = "SwitchBot Cloud"
	defaultPollInterval = 600 * time.Second
	defaultMQTTClientID = "switchbot-cloud"
	defaultMQTTPrefix   = "switchbot"
	defaultHABaseURL    = "http://supervisor/core"
)

var ErrMissingCredentials = errors.New("switchbot token and secret are required")

// Config stores runtime settings. Values come from defaults, then the
// optional options file, then environment variables.
type Config struct {
	HTTPAddr     string
	DBPath       string
	ConfigPath   string
	LogLevel     slog.Level
	SwitchBot    SwitchBotConfig
	ExternalURL  string
	EntryID      string
	EntryTitle   string
	PollInterval time.Duration
	MQTT         MQTTConfig

	// HABaseURL and SupervisorToken reach Home Assistant core, used to
	// discover the external URL when none is configured.
	HABaseURL       string
	SupervisorToken string
}

type SwitchBotConfig struct {
	Token   string
	Secret  string
	BaseURL string
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Enabled reports whether a broker was configured.
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

type fileOptions struct {
	HTTPAddr     string `yaml:"http_addr"`
	DBPath       string `yaml:"db_path"`
	LogLevel     string `yaml:"log_level"`
	ExternalURL  string `yaml:"external_url"`
	EntryID      string `yaml:"entry_id"`
	EntryTitle   string `yaml:"entry_title"`
	PollInterval string `yaml:"poll_interval"`
	SwitchBot    struct {
		Token   string `yaml:"token"`
		Secret  string `yaml:"secret"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"switchbot"`
	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
}

// Load builds Config. A missing options file is not an error.
func Load() (Config, error) {
	cfg := defaults()
	cfg.ConfigPath = getenv("CONFIG_PATH", defaultConfigPath)

	opts, err := readOptions(cfg.ConfigPath)
	if err != nil {
		return Config{}, err
	}
	if opts != nil {
		cfg.applyFile(*opts)
	}
	cfg.applyEnv()
	return cfg, nil
}

func defaults() Config {
	return Config{
		HTTPAddr:     defaultHTTPAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		SwitchBot:    SwitchBotConfig{BaseURL: defaultBaseURL},
		EntryID:      defaultEntryID,
		EntryTitle:   defaultEntryTitle,
		PollInterval: defaultPollInterval,
		MQTT:         MQTTConfig{ClientID: defaultMQTTClientID, TopicPrefix: defaultMQTTPrefix},
		HABaseURL:    defaultHABaseURL,
	}
}

func readOptions(path string) (*fileOptions, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var opts fileOptions
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &opts); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &opts, nil
}

func (c *Config) applyFile(o fileOptions) {
	set(&c.HTTPAddr, o.HTTPAddr)
	set(&c.DBPath, o.DBPath)
	if o.LogLevel != "" {
		c.LogLevel = parseLogLevel(o.LogLevel)
	}
	set(&c.ExternalURL, o.ExternalURL)
	set(&c.EntryID, o.EntryID)
	set(&c.EntryTitle, o.EntryTitle)
	c.PollInterval = parseDurationValue(o.PollInterval, c.PollInterval)
	set(&c.SwitchBot.Token, o.SwitchBot.Token)
	set(&c.SwitchBot.Secret, o.SwitchBot.Secret)
	set(&c.SwitchBot.BaseURL, o.SwitchBot.BaseURL)
	set(&c.MQTT.Broker, o.MQTT.Broker)
	set(&c.MQTT.ClientID, o.MQTT.ClientID)
	set(&c.MQTT.Username, o.MQTT.Username)
	set(&c.MQTT.Password, o.MQTT.Password)
	set(&c.MQTT.TopicPrefix, o.MQTT.TopicPrefix)
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.DBPath = getenv("DB_PATH", c.DBPath)
	if raw := getenv("LOG_LEVEL", ""); raw != "" {
		c.LogLevel = parseLogLevel(raw)
	}
	c.SwitchBot.Token = getenv("SWITCHBOT_TOKEN", c.SwitchBot.Token)
	c.SwitchBot.Secret = getenv("SWITCHBOT_SECRET", c.SwitchBot.Secret)
	c.SwitchBot.BaseURL = getenv("SWITCHBOT_BASE_URL", c.SwitchBot.BaseURL)
	c.ExternalURL = getenv("EXTERNAL_URL", c.ExternalURL)
	c.EntryID = getenv("ENTRY_ID", c.EntryID)
	c.EntryTitle = getenv("ENTRY_TITLE", c.EntryTitle)
	c.PollInterval = parseDurationValue(getenv("POLL_INTERVAL", ""), c.PollInterval)
	c.MQTT.Broker = getenv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getenv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getenv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getenv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.TopicPrefix = getenv("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)
	c.HABaseURL = getenv("HA_BASE_URL", c.HABaseURL)
	c.SupervisorToken = getenv("SUPERVISOR_TOKEN", c.SupervisorToken)
}

// Validate checks settings without which the service cannot start.
func (c Config) Validate() error {
	if c.SwitchBot.Token == "" || c.SwitchBot.Secret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func set(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

// parseDurationValue accepts Go durations ("10m") or plain seconds ("600").
func parseDurationValue(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
