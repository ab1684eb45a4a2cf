package app

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config contains the client runtime configuration. Values are layered:
// built-in defaults, then an optional TOML file, then environment
// variables. Later layers win.
type Config struct {
	// BaseURL is the backend REST base including any API prefix,
	// e.g. "http://127.0.0.1:8080/api/v1".
	BaseURL string
	// WSPath is appended to BaseURL when deriving the WebSocket endpoint.
	WSPath string
	// CredentialFile is where the session credential is persisted. Empty
	// means the per-user default location.
	CredentialFile string

	HTTPTimeout    time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	ReconnectDelay time.Duration

	LogLevel  string
	LogFormat string // "json" or "pretty"
}

func defaultConfig() Config {
	return Config{
		BaseURL:        "http://127.0.0.1:8080/api/v1",
		WSPath:         "/ws",
		HTTPTimeout:    15 * time.Second,
		DialTimeout:    10 * time.Second,
		WriteTimeout:   5 * time.Second,
		ReconnectDelay: 3 * time.Second,
		LogLevel:       "info",
		LogFormat:      "pretty",
	}
}

// LoadConfig builds the runtime Config. file is the optional TOML config
// path; environment variables (PULSE_*) override both the file and the
// defaults.
func LoadConfig(file string) (Config, error) {
	cfg := defaultConfig()

	if file != "" {
		if err := applyConfigFile(&cfg, file); err != nil {
			return Config{}, err
		}
	}

	cfg.BaseURL = EnvString("PULSE_BASE_URL", cfg.BaseURL)
	cfg.WSPath = EnvString("PULSE_WS_PATH", cfg.WSPath)
	cfg.CredentialFile = EnvString("PULSE_CREDENTIAL_FILE", cfg.CredentialFile)
	cfg.HTTPTimeout = EnvDuration("PULSE_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.DialTimeout = EnvDuration("PULSE_WS_DIAL_TIMEOUT", cfg.DialTimeout)
	cfg.WriteTimeout = EnvDuration("PULSE_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ReconnectDelay = EnvDuration("PULSE_WS_RECONNECT_DELAY", cfg.ReconnectDelay)
	cfg.LogLevel = EnvString("PULSE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("PULSE_LOG_FORMAT", cfg.LogFormat)

	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("config: base url is required")
	}
	return cfg, nil
}

// fileConfig is the TOML schema. Every field is optional; only keys the
// file actually defines are applied on top of the current Config.
type fileConfig struct {
	BaseURL        string       `toml:"base_url"`
	WSPath         string       `toml:"ws_path"`
	CredentialFile string       `toml:"credential_file"`
	HTTPTimeout    tomlDuration `toml:"http_timeout"`
	DialTimeout    tomlDuration `toml:"ws_dial_timeout"`
	WriteTimeout   tomlDuration `toml:"ws_write_timeout"`
	ReconnectDelay tomlDuration `toml:"ws_reconnect_delay"`
	LogLevel       string       `toml:"log_level"`
	LogFormat      string       `toml:"log_format"`
}

func applyConfigFile(cfg *Config, path string) error {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("base_url") {
		cfg.BaseURL = fc.BaseURL
	}
	if meta.IsDefined("ws_path") {
		cfg.WSPath = fc.WSPath
	}
	if meta.IsDefined("credential_file") {
		cfg.CredentialFile = fc.CredentialFile
	}
	if meta.IsDefined("http_timeout") {
		cfg.HTTPTimeout = time.Duration(fc.HTTPTimeout)
	}
	if meta.IsDefined("ws_dial_timeout") {
		cfg.DialTimeout = time.Duration(fc.DialTimeout)
	}
	if meta.IsDefined("ws_write_timeout") {
		cfg.WriteTimeout = time.Duration(fc.WriteTimeout)
	}
	if meta.IsDefined("ws_reconnect_delay") {
		cfg.ReconnectDelay = time.Duration(fc.ReconnectDelay)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = fc.LogLevel
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = fc.LogFormat
	}
	return nil
}

// tomlDuration lets duration keys be written as "3s" / "250ms" strings.
type tomlDuration time.Duration

func (d *tomlDuration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = tomlDuration(v)
	return nil
}
