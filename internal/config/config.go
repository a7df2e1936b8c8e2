package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Audio       AudioConfig       `yaml:"audio"`
	Models      ModelsConfig      `yaml:"models"`
	Hotkey      HotkeyConfig      `yaml:"hotkey"`
	Inject      InjectConfig      `yaml:"inject"`
	Notify      NotifyConfig      `yaml:"notify"`
	IPC         IPCConfig         `yaml:"ipc"`
	Permissions PermissionsConfig `yaml:"permissions"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	File   string `yaml:"file"`   // empty logs to stderr
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	// Device selects a capture device by name; empty uses the system default.
	Device          string `yaml:"device"`
	SampleRate      uint32 `yaml:"sample_rate"`
	LevelsPerSecond int    `yaml:"levels_per_second"`
}

// ModelsConfig holds speech model settings.
type ModelsConfig struct {
	Dir    string `yaml:"dir"`
	Active string `yaml:"active"`
	// Language is "auto" or an ISO 639-1 code such as "en".
	Language string `yaml:"language"`
	// PinLanguage keeps a specific language across sessions until auto
	// detection is re-enabled.
	PinLanguage bool `yaml:"pin_language"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Keys    []string `yaml:"keys"`
	Mode    string   `yaml:"mode"` // "hold" or "toggle"
}

// InjectConfig holds text injection settings.
type InjectConfig struct {
	Method           string `yaml:"method"` // "type" or "paste"
	RestoreClipboard bool   `yaml:"restore_clipboard"`
}

// NotifyConfig holds desktop notification settings.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// IPCConfig holds control socket settings.
type IPCConfig struct {
	// Socket overrides the control socket path; empty picks the runtime
	// directory default.
	Socket string `yaml:"socket"`
}

// PermissionsConfig declares which capabilities the user has granted.
// The daemon never prompts; it only honors these flags.
type PermissionsConfig struct {
	Microphone bool `yaml:"microphone"`
	Insertion  bool `yaml:"insertion"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wispr")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns the well-known directory for downloaded models.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "wispr", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			LevelsPerSecond: 30,
		},
		Models: ModelsConfig{
			Dir:      DefaultModelsDir(),
			Active:   "base",
			Language: "auto",
		},
		Hotkey: HotkeyConfig{
			Enabled: true,
			Keys:    []string{"ctrl", "shift", "r"},
			Mode:    "hold",
		},
		Inject: InjectConfig{
			Method:           "type",
			RestoreClipboard: true,
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
		Permissions: PermissionsConfig{
			Microphone: true,
			Insertion:  true,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Models.Dir = expandTilde(cfg.Models.Dir)
	cfg.Log.File = expandTilde(cfg.Log.File)

	return cfg, nil
}

// Resolve loads the config at path, or the default path, or falls back to
// Default() when no file exists. Environment overrides are applied last.
func Resolve(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch {
	case path != "":
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	default:
		cfg, err = Load(DefaultConfigPath())
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			cfg = Default()
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// WriteDefault writes a commented default config file at the default path
// unless one already exists. It returns the written path, or "" when a
// config file was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if path == "" {
		return "", fmt.Errorf("cannot determine config path")
	}
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding defaults: %w", err)
	}
	header := "# wispr configuration. Missing values fall back to built-in defaults.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}

// ApplyEnv overlays WISPR_* environment variables onto the config.
func (c *Config) ApplyEnv() {
	overrideString(&c.Log.Level, "WISPR_LOG_LEVEL")
	overrideString(&c.Log.Format, "WISPR_LOG_FORMAT")
	overrideString(&c.Log.File, "WISPR_LOG_FILE")
	overrideString(&c.Audio.Device, "WISPR_AUDIO_DEVICE")
	overrideUint32(&c.Audio.SampleRate, "WISPR_AUDIO_SAMPLE_RATE")
	overrideInt(&c.Audio.LevelsPerSecond, "WISPR_AUDIO_LEVELS_PER_SECOND")
	overrideString(&c.Models.Dir, "WISPR_MODELS_DIR")
	overrideString(&c.Models.Active, "WISPR_MODEL")
	overrideString(&c.Models.Language, "WISPR_LANGUAGE")
	overrideBool(&c.Models.PinLanguage, "WISPR_PIN_LANGUAGE")
	overrideString(&c.Hotkey.Mode, "WISPR_HOTKEY_MODE")
	overrideBool(&c.Hotkey.Enabled, "WISPR_HOTKEY_ENABLED")
	overrideString(&c.Inject.Method, "WISPR_INJECT_METHOD")
	overrideBool(&c.Notify.Enabled, "WISPR_NOTIFY")
	overrideString(&c.IPC.Socket, "WISPR_SOCKET")

	c.Models.Dir = expandTilde(c.Models.Dir)
	c.Log.File = expandTilde(c.Log.File)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.LevelsPerSecond < 1 || c.Audio.LevelsPerSecond > 120 {
		return fmt.Errorf("audio.levels_per_second must be between 1 and 120, got %d", c.Audio.LevelsPerSecond)
	}

	if c.Models.Dir == "" {
		return fmt.Errorf("models.dir must not be empty")
	}

	if err := validateLanguage(c.Models.Language); err != nil {
		return err
	}

	if c.Models.PinLanguage && c.Models.Language == "auto" {
		return fmt.Errorf("models.pin_language requires a specific models.language")
	}

	if c.Hotkey.Enabled && len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}

	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	switch c.Inject.Method {
	case "type", "paste":
	default:
		return fmt.Errorf("inject.method must be \"type\" or \"paste\", got %q", c.Inject.Method)
	}

	return nil
}

func validateLanguage(lang string) error {
	if lang == "auto" {
		return nil
	}
	if len(lang) < 2 || len(lang) > 3 {
		return fmt.Errorf("models.language must be \"auto\" or an ISO 639 code, got %q", lang)
	}
	for _, r := range lang {
		if r < 'a' || r > 'z' {
			return fmt.Errorf("models.language must be \"auto\" or an ISO 639 code, got %q", lang)
		}
	}
	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func overrideString(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}

func overrideInt(target *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*target = n
}

func overrideUint32(target *uint32, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return
	}
	*target = uint32(n)
}

func overrideBool(target *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return
	}
	*target = b
}
