package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prayeralert/internal/app"
	"prayeralert/internal/config"
	appLog "prayeralert/internal/log"
	"prayeralert/internal/model"
	"prayeralert/internal/notify"
	"prayeralert/internal/prayer"
	"prayeralert/internal/settings"
)

// Server provides the HTTP API for prayer times, pending alerts and settings.
type Server struct {
	cfg *config.Config
	app *app.App
	mux *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, a *app.App) *Server {
	s := &Server{
		cfg: cfg,
		app: a,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="PrayerAlert", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, a *app.App) error {
	s := NewServer(cfg, a)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP server shutdown failed", err)
		}
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/prayers", s.handlePrayers)
	s.mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	s.mux.HandleFunc("DELETE /api/notifications", s.handleCancelAll)
	s.mux.HandleFunc("POST /api/reschedule", s.handleReschedule)
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	s.mux.HandleFunc("GET /api/meetings", s.handleMeetings)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// prayerDTO is a JSON-friendly view of a prayer time.
type prayerDTO struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Time        time.Time `json:"time"`
}

type nextDTO struct {
	Name             string    `json:"name"`
	Time             time.Time `json:"time"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

type prayersResponse struct {
	Prayers  []prayerDTO `json:"prayers"`
	Next     *nextDTO    `json:"next,omitempty"`
	Timezone string      `json:"timezone"`
	Method   string      `json:"method"`
}

// handlePrayers returns the next occurrence of each prayer and a countdown
// to the nearest one.
func (s *Server) handlePrayers(w http.ResponseWriter, _ *http.Request) {
	prayers, err := s.app.Prayers()
	if err != nil {
		appLog.Error("api prayers: calculate failed", err)
		writeError(w, http.StatusInternalServerError, "failed to calculate prayer times")
		return
	}

	resp := prayersResponse{
		Prayers:  make([]prayerDTO, 0, len(prayers)),
		Timezone: s.app.Location().String(),
		Method:   s.cfg.Calculation.Method,
	}
	for _, p := range prayers {
		resp.Prayers = append(resp.Prayers, prayerDTO{
			Name:        string(p.Name),
			DisplayName: p.DisplayName,
			Time:        p.Time,
		})
	}
	if c, ok := prayer.Next(prayers, s.app.Now()); ok {
		resp.Next = &nextDTO{
			Name:             string(c.Prayer.Name),
			Time:             c.Prayer.Time,
			RemainingSeconds: int64(c.Remaining / time.Second),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type notificationsResponse struct {
	Authorization string             `json:"authorization"`
	Pending       []notify.Blueprint `json:"pending"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := s.app.Store().Pending(ctx)
	if err != nil {
		appLog.Error("api notifications: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list pending alerts")
		return
	}
	if pending == nil {
		pending = []notify.Blueprint{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{
		Authorization: string(s.app.Manager().AuthorizationStatus(ctx)),
		Pending:       pending,
	})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	if err := s.app.CancelAll(r.Context()); err != nil {
		appLog.Error("api notifications: cancel all failed", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel alerts")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rescheduleResponse struct {
	Started bool `json:"started"`
}

// handleReschedule forces a new scheduling run regardless of the signature.
func (s *Server) handleReschedule(w http.ResponseWriter, _ *http.Request) {
	started, err := s.app.Refresh(true)
	if err != nil {
		appLog.Error("api reschedule failed", err)
		writeError(w, http.StatusInternalServerError, "failed to reschedule")
		return
	}
	writeJSON(w, http.StatusAccepted, rescheduleResponse{Started: started})
}

// settingsDTO mirrors settings.Settings with lower-case prayer keys.
type settingsDTO struct {
	AzanEnabled                 bool              `json:"azan_enabled"`
	ReminderEnabled             bool              `json:"reminder_enabled"`
	VibrationOnlyDuringMeetings bool              `json:"vibration_only_during_meetings"`
	Prayers                     map[string]string `json:"prayers"`
}

func toSettingsDTO(st settings.Settings) settingsDTO {
	dto := settingsDTO{
		AzanEnabled:                 st.AzanEnabled,
		ReminderEnabled:             st.ReminderEnabled,
		VibrationOnlyDuringMeetings: st.VibrationOnlyDuringMeetings,
		Prayers:                     make(map[string]string, len(st.PerPrayer)),
	}
	for p, state := range st.PerPrayer {
		dto.Prayers[strings.ToLower(string(p))] = string(state)
	}
	return dto
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	st, err := s.app.Settings()
	if err != nil {
		appLog.Error("api settings: load failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(st))
}

// handlePutSettings replaces the preferences. Prayers missing from the body
// keep their current state.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsDTO
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	st, err := s.app.Settings()
	if err != nil {
		appLog.Error("api settings: load failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	st.AzanEnabled = body.AzanEnabled
	st.ReminderEnabled = body.ReminderEnabled
	st.VibrationOnlyDuringMeetings = body.VibrationOnlyDuringMeetings
	if st.PerPrayer == nil {
		st.PerPrayer = make(map[model.PrayerName]model.PreferenceState)
	}
	for name, tag := range body.Prayers {
		p, ok := model.ParsePrayerName(name)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown prayer: "+name)
			return
		}
		state, ok := model.ParsePreferenceState(tag)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid state for "+name+": "+tag)
			return
		}
		st.PerPrayer[p] = state
	}

	if err := s.app.UpdateSettings(st); err != nil {
		appLog.Error("api settings: update failed", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(st))
}

// meetingDTO is a JSON-friendly view of a cached busy interval.
type meetingDTO struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	AllDay           bool      `json:"all_day"`
	LooksLikeMeeting bool      `json:"looks_like_meeting"`
}

type meetingsResponse struct {
	Enabled     bool         `json:"enabled"`
	Intervals   []meetingDTO `json:"intervals"`
	WindowStart *time.Time   `json:"window_start,omitempty"`
	WindowEnd   *time.Time   `json:"window_end,omitempty"`
	FetchedAt   *time.Time   `json:"fetched_at,omitempty"`
}

// handleMeetings exposes the meeting cache as it is, without fetching.
func (s *Server) handleMeetings(w http.ResponseWriter, _ *http.Request) {
	cache := s.app.Cache()
	if cache == nil {
		writeJSON(w, http.StatusOK, meetingsResponse{Intervals: []meetingDTO{}})
		return
	}

	intervals, start, end, fetchedAt := cache.Snapshot()
	resp := meetingsResponse{
		Enabled:   true,
		Intervals: make([]meetingDTO, 0, len(intervals)),
	}
	for _, iv := range intervals {
		resp.Intervals = append(resp.Intervals, meetingDTO{
			Start:            iv.Start,
			End:              iv.End,
			AllDay:           iv.AllDay,
			LooksLikeMeeting: iv.LooksLikeMeeting,
		})
	}
	if !fetchedAt.IsZero() {
		resp.WindowStart = &start
		resp.WindowEnd = &end
		resp.FetchedAt = &fetchedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
