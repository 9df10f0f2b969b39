package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"prayeralert/internal/app"
	"prayeralert/internal/config"
	"prayeralert/internal/model"
	"prayeralert/internal/notify"
	"prayeralert/internal/prayer"
	"prayeralert/internal/settings"
)

var testNow = time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

type memSettings struct {
	mu sync.Mutex
	s  settings.Settings
}

func (m *memSettings) Load() (settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.s
	out.PerPrayer = make(map[model.PrayerName]model.PreferenceState, len(m.s.PerPrayer))
	for k, v := range m.s.PerPrayer {
		out.PerPrayer[k] = v
	}
	return out, nil
}

func (m *memSettings) Save(s settings.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *app.App) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Calculation.Timetable = map[string]string{
		"fajr":    "05:10",
		"dhuhr":   "12:25",
		"asr":     "15:45",
		"maghrib": "18:20",
		"isha":    "19:45",
	}
	if mutate != nil {
		mutate(cfg)
	}

	calc, err := prayer.NewCalculator(cfg.Calculation, time.UTC)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	a, err := app.NewWithDeps(context.Background(), cfg, app.Deps{
		Calculator: calc,
		Settings:   &memSettings{s: settings.Default()},
		Store:      notify.NewMemoryStore(notify.NewAuthorizer(true)),
		Now:        func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewWithDeps: %v", err)
	}
	if err := a.Authorize(context.Background()); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	return NewServer(cfg, a), a
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestPrayers(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/prayers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp prayersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Prayers) != 5 {
		t.Errorf("prayers = %d, want 5", len(resp.Prayers))
	}
	if resp.Next == nil || resp.Next.Name != "Asr" {
		t.Fatalf("next = %+v, want Asr", resp.Next)
	}
	if want := int64((2*time.Hour + 45*time.Minute) / time.Second); resp.Next.RemainingSeconds != want {
		t.Errorf("remaining = %d, want %d", resp.Next.RemainingSeconds, want)
	}
}

func TestRescheduleAndCancel(t *testing.T) {
	s, a := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/reschedule", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("reschedule status = %d", rec.Code)
	}
	a.Wait()

	rec = do(t, h, http.MethodGet, "/api/notifications", "")
	var resp notificationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Authorization != string(notify.AuthAuthorized) {
		t.Errorf("authorization = %q", resp.Authorization)
	}
	if len(resp.Pending) != 5 {
		t.Errorf("pending = %d, want 5", len(resp.Pending))
	}

	rec = do(t, h, http.MethodDelete, "/api/notifications", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	pending, _ := a.Store().Pending(context.Background())
	if len(pending) != 0 {
		t.Errorf("pending after delete = %d", len(pending))
	}
}

func TestPutSettings(t *testing.T) {
	s, a := newTestServer(t, nil)
	h := s.Handler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"unknown field", `{"volume": 3}`, http.StatusBadRequest},
		{"unknown prayer", `{"prayers": {"duha": "sound"}}`, http.StatusBadRequest},
		{"bad state", `{"prayers": {"fajr": "loud"}}`, http.StatusBadRequest},
		{"ok", `{"azan_enabled": false, "reminder_enabled": true, "prayers": {"FAJR": "off"}}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, "/api/settings", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	a.Wait()

	rec := do(t, h, http.MethodGet, "/api/settings", "")
	var got settingsDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AzanEnabled || !got.ReminderEnabled {
		t.Errorf("toggles = %+v", got)
	}
	if got.Prayers["fajr"] != "off" || got.Prayers["isha"] != "sound" {
		t.Errorf("prayers = %v", got.Prayers)
	}
}

func TestMeetingsWithoutCalendar(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/meetings", "")
	var resp meetingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Enabled || len(resp.Intervals) != 0 {
		t.Errorf("meetings = %+v", resp)
	}
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health without auth = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/prayers", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("api without auth = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/prayers", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("api with auth = %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "prayeralert_schedule_skipped_total") {
		t.Error("metrics missing prayeralert counters")
	}
}
