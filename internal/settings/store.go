package settings

import (
	"fmt"
	"sync"

	"prayeralert/internal/config"
	appLog "prayeralert/internal/log"
)

// FileStore persists Settings inside the YAML config file. Nothing is written
// until Save is called.
type FileStore struct {
	mu   sync.Mutex
	path string
	cfg  *config.Config
}

// NewFileStore wraps an already loaded config that lives at path.
func NewFileStore(path string, cfg *config.Config) *FileStore {
	return &FileStore{path: path, cfg: cfg}
}

// Load returns the current settings.
func (f *FileStore) Load() (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FromConfig(f.cfg.Notifications)
}

// Save writes s to the config file.
func (f *FileStore) Save(s Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s.ApplyTo(&f.cfg.Notifications)
	if err := config.Save(f.path, f.cfg); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	appLog.Info("settings saved",
		"path", f.path,
		"azan", s.AzanEnabled,
		"reminder", s.ReminderEnabled,
		"meeting_vibration", s.VibrationOnlyDuringMeetings,
	)
	return nil
}
