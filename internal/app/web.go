package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
	"github.com/relabs-tech/hyperbaric_controller/internal/tuning"
)

// TuningView is the read side of the auto-tuner.
type TuningView interface {
	Status() tuning.Status
	Last() (tuning.Session, bool)
	History(ctx context.Context, limit int) ([]tuning.Session, error)
}

// SessionHistory lists stored session records.
type SessionHistory interface {
	Sessions(ctx context.Context, limit int) ([]session.Record, error)
}

// AlarmHistory lists recently cached alarms.
type AlarmHistory interface {
	Alarms(ctx context.Context, n int) ([]alarm.Record, error)
}

// WebConfig wires the HTTP API. Only Engine is required.
type WebConfig struct {
	Engine   Commander
	Hub      *Hub
	Tuning   TuningView
	Sessions SessionHistory
	Alarms   AlarmHistory
	Gatherer prometheus.Gatherer
	// RegisterDebug mounts the raw PLC endpoints when set.
	RegisterDebug *RegisterDebug
	// StaticDir is served at / when set.
	StaticDir string
}

type api struct {
	logger logr.Logger
	cfg    WebConfig
}

// NewRouter builds the operator HTTP API.
func NewRouter(logger logr.Logger, cfg WebConfig) *mux.Router {
	a := &api{logger: logger, cfg: cfg}
	r := mux.NewRouter()

	s := r.PathPrefix("/api").Subrouter()
	s.HandleFunc("/status", a.status).Methods(http.MethodGet)
	s.HandleFunc("/profile", a.profile).Methods(http.MethodGet)
	s.HandleFunc("/commands", a.command).Methods(http.MethodPost)
	s.HandleFunc("/tuning/status", a.tuningStatus).Methods(http.MethodGet)
	s.HandleFunc("/tuning/history", a.tuningHistory).Methods(http.MethodGet)
	s.HandleFunc("/tuning/start", a.run(session.TuningStart{})).Methods(http.MethodPost)
	s.HandleFunc("/tuning/stop", a.run(session.TuningStop{})).Methods(http.MethodPost)
	s.HandleFunc("/tuning/apply", a.run(session.TuningApply{})).Methods(http.MethodPost)
	s.HandleFunc("/sessions", a.sessions).Methods(http.MethodGet)
	s.HandleFunc("/alarms", a.alarms).Methods(http.MethodGet)
	s.HandleFunc("/panel.png", a.panel).Methods(http.MethodGet)
	if cfg.RegisterDebug != nil {
		s.HandleFunc("/plc/registers", a.registerMap).Methods(http.MethodGet)
		s.HandleFunc("/plc/write", a.registerWrite).Methods(http.MethodPost)
	}

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Hub != nil {
		r.HandleFunc("/ws", cfg.Hub.ServeWS)
	}
	if cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))
	}
	return r
}

// ServeHTTP runs handler on addr until ctx is done.
func ServeHTTP(ctx context.Context, logger logr.Logger, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("web server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	snap := a.cfg.Engine.Snapshot()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, "no data yet")
		return
	}
	a.respondJSON(w, http.StatusOK, snap)
}

func (a *api) profile(w http.ResponseWriter, r *http.Request) {
	snap := a.cfg.Engine.Snapshot()
	if snap == nil || snap.Profile == nil {
		respondError(w, http.StatusNotFound, "no profile loaded")
		return
	}
	a.respondJSON(w, http.StatusOK, struct {
		Plan    any `json:"plan,omitempty"`
		Profile any `json:"profile"`
		Elapsed int `json:"elapsed"`
	}{snap.Plan, snap.Profile, snap.Elapsed})
}

func (a *api) command(w http.ResponseWriter, r *http.Request) {
	var env session.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid command body: "+err.Error())
		return
	}
	c, err := session.Decode(env)
	if err != nil {
		a.respondJSON(w, http.StatusBadRequest, session.Rejected(env.Type, err))
		return
	}
	a.do(w, r, c)
}

func (a *api) run(c session.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { a.do(w, r, c) }
}

func (a *api) do(w http.ResponseWriter, r *http.Request, c session.Command) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	res, err := a.cfg.Engine.Do(ctx, c)
	switch {
	case err == nil:
		a.respondJSON(w, http.StatusOK, res)
	case errors.Is(err, session.ErrRejected):
		a.logger.Info("command rejected", "command", c.Name(), "reason", err.Error())
		a.respondJSON(w, http.StatusConflict, res)
	case errors.Is(err, session.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.logger.Error(err, "command failed", "command", c.Name())
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *api) tuningStatus(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Tuning == nil {
		respondError(w, http.StatusNotFound, "auto-tuner is not configured")
		return
	}
	out := struct {
		tuning.Status
		Last *tuning.Session `json:"lastSession,omitempty"`
	}{Status: a.cfg.Tuning.Status()}
	if last, ok := a.cfg.Tuning.Last(); ok {
		out.Last = &last
	}
	a.respondJSON(w, http.StatusOK, out)
}

func (a *api) tuningHistory(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Tuning == nil {
		respondError(w, http.StatusNotFound, "auto-tuner is not configured")
		return
	}
	list, err := a.cfg.Tuning.History(r.Context(), limitParam(r, 10))
	if err != nil {
		a.logger.Error(err, "tuning history failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []tuning.Session{}
	}
	a.respondJSON(w, http.StatusOK, list)
}

func (a *api) sessions(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Sessions == nil {
		respondError(w, http.StatusNotFound, "session records are not configured")
		return
	}
	list, err := a.cfg.Sessions.Sessions(r.Context(), limitParam(r, 20))
	if err != nil {
		a.logger.Error(err, "session history failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []session.Record{}
	}
	a.respondJSON(w, http.StatusOK, list)
}

// alarms prefers the cache; without one it returns the live board.
func (a *api) alarms(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Alarms != nil {
		list, err := a.cfg.Alarms.Alarms(r.Context(), limitParam(r, 50))
		if err == nil {
			if list == nil {
				list = []alarm.Record{}
			}
			a.respondJSON(w, http.StatusOK, list)
			return
		}
		a.logger.V(1).Info("alarm cache unavailable", "error", err.Error())
	}
	list := []alarm.Record{}
	if snap := a.cfg.Engine.Snapshot(); snap != nil && snap.Alarms != nil {
		list = snap.Alarms
	}
	a.respondJSON(w, http.StatusOK, list)
}

func (a *api) panel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := WritePanelPNG(w, a.cfg.Engine.Snapshot()); err != nil {
		a.logger.Error(err, "panel render failed")
	}
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (a *api) respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error(err, "json encode failed")
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
