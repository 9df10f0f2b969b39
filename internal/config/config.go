package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS calendar used for meeting detection.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// CalendarConfig configures the calendar availability source.
type CalendarConfig struct {
	ICS []ICSConfig `yaml:"ics" json:"ics"`
	// CacheDir holds per-URL ETag metadata and the last fetched body.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// LocationConfig is the user's position. City is informational.
type LocationConfig struct {
	City      string  `yaml:"city" json:"city"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

// CalculationConfig selects how prayer times are produced.
type CalculationConfig struct {
	// Method names the twilight convention (e.g. "MWL", "ISNA", "UmmAlQura").
	Method string `yaml:"method" json:"method"`
	// Madhab is "shafii" or "hanafi"; it selects the Asr shadow length.
	Madhab string `yaml:"madhab" json:"madhab"`
	// Timetable maps lower-case prayer names to local "HH:MM" times. Listed
	// prayers override the calculated ones.
	Timetable map[string]string `yaml:"timetable,omitempty" json:"timetable,omitempty"`
}

// NotificationsConfig is the persisted form of the user's alert preferences.
type NotificationsConfig struct {
	AzanEnabled                 bool   `yaml:"azan_enabled" json:"azan_enabled"`
	ReminderEnabled             bool   `yaml:"reminder_enabled" json:"reminder_enabled"`
	VibrationOnlyDuringMeetings bool   `yaml:"vibration_only_during_meetings" json:"vibration_only_during_meetings"`
	AzanSound                   string `yaml:"azan_sound" json:"azan_sound"`

	// Prayers maps lower-case prayer names to "off", "vibrate" or "sound".
	Prayers map[string]string `yaml:"prayers" json:"prayers"`

	// PrefetchDelay is the grace period before a calendar prefetch, e.g. "2s".
	PrefetchDelay string `yaml:"prefetch_delay" json:"prefetch_delay"`
}

// StoreConfig selects the pending-alert store backend.
type StoreConfig struct {
	// Backend is one of "memory", "file", "redis".
	Backend   string `yaml:"backend" json:"backend"`
	Path      string `yaml:"path" json:"path"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	RedisKey  string `yaml:"redis_key" json:"redis_key"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone prayer times are expressed in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron re-runs a non-forced schedule; unchanged inputs make it a no-op.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// RebuildCron rebuilds the one-shot alert set for the new day.
	RebuildCron string `yaml:"rebuild" json:"rebuild"`

	Location      LocationConfig      `yaml:"location" json:"location"`
	Calculation   CalculationConfig   `yaml:"calculation" json:"calculation"`
	Notifications NotificationsConfig `yaml:"notifications" json:"notifications"`
	Calendar      CalendarConfig      `yaml:"calendar" json:"calendar"`
	Store         StoreConfig         `yaml:"store" json:"store"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

func defaultPrayerStates() map[string]string {
	return map[string]string{
		"fajr":    "sound",
		"dhuhr":   "sound",
		"asr":     "sound",
		"maghrib": "sound",
		"isha":    "sound",
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		LogLevel:    "info",
		RefreshCron: "*/15 * * * *",
		RebuildCron: "1 0 * * *",
		Location: LocationConfig{
			City:      "Makkah",
			Latitude:  21.4225,
			Longitude: 39.8262,
		},
		Calculation: CalculationConfig{
			Method: "MWL",
			Madhab: "shafii",
		},
		Notifications: NotificationsConfig{
			AzanEnabled:     true,
			ReminderEnabled: false,
			AzanSound:       "azan.caf",
			Prayers:         defaultPrayerStates(),
			PrefetchDelay:   "2s",
		},
		Calendar: CalendarConfig{
			ICS:      []ICSConfig{},
			CacheDir: "/var/lib/prayeralert/ics-cache",
		},
		Store: StoreConfig{
			Backend:  "file",
			Path:     "/var/lib/prayeralert/pending.json",
			RedisKey: "prayeralert:pending",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.RebuildCron == "" {
		c.RebuildCron = def.RebuildCron
	}
	if c.Calculation.Method == "" {
		c.Calculation.Method = def.Calculation.Method
	}
	if c.Calculation.Madhab == "" {
		c.Calculation.Madhab = def.Calculation.Madhab
	}
	c.Calculation.Timetable = mergeLower(c.Calculation.Timetable, nil)
	c.Notifications.Prayers = mergeLower(c.Notifications.Prayers, def.Notifications.Prayers)
	if c.Notifications.AzanSound == "" {
		c.Notifications.AzanSound = def.Notifications.AzanSound
	}
	if c.Notifications.PrefetchDelay == "" {
		c.Notifications.PrefetchDelay = def.Notifications.PrefetchDelay
	}
	if c.Calendar.ICS == nil {
		c.Calendar.ICS = []ICSConfig{}
	}
	if c.Calendar.CacheDir == "" {
		c.Calendar.CacheDir = def.Calendar.CacheDir
	}

	switch c.Store.Backend {
	case "memory", "file", "redis":
		// ok
	default:
		// Unknown or empty backend; fall back to the file store.
		c.Store.Backend = def.Store.Backend
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.RedisKey == "" {
		c.Store.RedisKey = def.Store.RedisKey
	}
}

// mergeLower lower-cases keys of m and fills keys missing from defaults.
func mergeLower(m, defaults map[string]string) map[string]string {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range m {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".prayeralert-config-*.tmp")
}

// WriteFileAtomic writes data next to path under a temp name and renames it
// into place with 0600 permissions.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
