// Package api exposes captured traffic and the recorder's switches over a JSON
// HTTP API. Every entry it returns is redacted with the current privacy
// settings.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dstotijn/netlog/pkg/export"
	"github.com/dstotijn/netlog/pkg/log"
	"github.com/dstotijn/netlog/pkg/netlog"
	"github.com/dstotijn/netlog/pkg/privacy"
	"github.com/dstotijn/netlog/pkg/reqlog"
)

type Config struct {
	Service *netlog.Service
	Logger  log.Logger
	// Gatherer serves /metrics. When nil, the route isn't registered.
	Gatherer prometheus.Gatherer
}

type handler struct {
	svc    *netlog.Service
	logger log.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type logsResponse struct {
	Entries []export.Entry `json:"entries"`
	Count   int            `json:"count"`
}

type persistenceResponse struct {
	Enabled    bool `json:"enabled"`
	Degraded   bool `json:"degraded"`
	Count      int  `json:"count"`
	MaxEntries int  `json:"maxEntries"`
}

type persistenceRequest struct {
	Enabled *bool `json:"enabled"`
}

type interceptionBody struct {
	Active *bool `json:"active"`
}

// NewRouter returns a router serving the API under /api.
func NewRouter(cfg Config) *mux.Router {
	h := &handler{
		svc:    cfg.Service,
		logger: cfg.Logger,
	}

	if h.logger == nil {
		h.logger = log.NewNopLogger()
	}

	router := mux.NewRouter().SkipClean(true)

	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r := router.PathPrefix("/api").Subrouter()

	r.HandleFunc("/logs", h.listLogs).Methods(http.MethodGet)
	r.HandleFunc("/logs", h.clearLogs).Methods(http.MethodDelete)
	r.HandleFunc("/logs/{id}", h.getLog).Methods(http.MethodGet)
	r.HandleFunc("/logs/{id}/export", h.exportLog).Methods(http.MethodGet)
	r.HandleFunc("/export", h.exportLogs).Methods(http.MethodGet)
	r.HandleFunc("/privacy", h.getPrivacy).Methods(http.MethodGet)
	r.HandleFunc("/privacy", h.putPrivacy).Methods(http.MethodPut)
	r.HandleFunc("/persistence", h.getPersistence).Methods(http.MethodGet)
	r.HandleFunc("/persistence", h.putPersistence).Methods(http.MethodPut)
	r.HandleFunc("/interception", h.getInterception).Methods(http.MethodGet)
	r.HandleFunc("/interception", h.putInterception).Methods(http.MethodPut)

	return router
}

func (h *handler) listLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	settings := h.svc.PrivacySettings()
	entries := h.svc.Entries(filter)

	res := logsResponse{
		Entries: make([]export.Entry, len(entries)),
		Count:   len(entries),
	}

	for i, entry := range entries {
		res.Entries[i] = export.NewEntry(entry, settings)
	}

	h.writeJSON(w, http.StatusOK, res)
}

func (h *handler) getLog(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.findEntry(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, export.NewEntry(entry, h.svc.PrivacySettings()))
}

func (h *handler) exportLog(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.findEntry(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if err := export.WriteEntry(w, entry, h.svc.PrivacySettings()); err != nil {
		h.logger.Errorw("Failed to write log entry export.",
			"id", entry.ID,
			"error", err)
	}
}

func (h *handler) findEntry(w http.ResponseWriter, r *http.Request) (*reqlog.LogEntry, bool) {
	id := mux.Vars(r)["id"]

	entry, err := h.svc.Store().ByID(id)
	if errors.Is(err, reqlog.ErrLogEntryNotFound) {
		h.writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}

	return entry, true
}

func (h *handler) exportLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	format := export.Format(r.URL.Query().Get("format"))

	switch format {
	case export.FormatText, "":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	case export.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	default:
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", export.ErrUnknownFormat, format))
		return
	}

	if err := h.svc.Export(w, format, filter); err != nil {
		h.logger.Errorw("Failed to write export.",
			"format", format,
			"error", err)
	}
}

func (h *handler) clearLogs(w http.ResponseWriter, r *http.Request) {
	// Memory is cleared even when this fails, but the repository may still hold
	// the entries.
	if err := h.svc.ClearLogs(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getPrivacy(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.PrivacySettings().Document())
}

// putPrivacy updates the settings with the fields present in the body. A
// present sensitiveHeaders list replaces the redacted set.
func (h *handler) putPrivacy(w http.ResponseWriter, r *http.Request) {
	var doc privacy.Document

	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("api: failed to decode privacy settings: %w", err))
		return
	}

	h.svc.UpdatePrivacySettings(func(s *privacy.Settings) {
		if doc.SensitiveHeaders != nil {
			s.SetSensitiveHeaders(nil)
		}

		doc.Apply(s)
	})

	h.logger.Infow("Updated privacy settings.")

	h.writeJSON(w, http.StatusOK, h.svc.PrivacySettings().Document())
}

func (h *handler) getPersistence(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.persistence())
}

func (h *handler) putPersistence(w http.ResponseWriter, r *http.Request) {
	var body persistenceRequest

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("api: failed to decode persistence settings: %w", err))
		return
	}

	if body.Enabled == nil {
		h.writeError(w, http.StatusBadRequest, errors.New("api: field `enabled` is required"))
		return
	}

	h.svc.SetPersistenceEnabled(*body.Enabled)
	h.logger.Infow("Updated persistence.",
		"enabled", *body.Enabled)

	h.writeJSON(w, http.StatusOK, h.persistence())
}

func (h *handler) persistence() persistenceResponse {
	store := h.svc.Store()

	return persistenceResponse{
		Enabled:    h.svc.PersistenceEnabled(),
		Degraded:   store.Degraded(),
		Count:      store.Count(),
		MaxEntries: store.MaxEntries(),
	}
}

func (h *handler) getInterception(w http.ResponseWriter, _ *http.Request) {
	active := h.svc.Intercepting()
	h.writeJSON(w, http.StatusOK, interceptionBody{Active: &active})
}

func (h *handler) putInterception(w http.ResponseWriter, r *http.Request) {
	var body interceptionBody

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("api: failed to decode interception settings: %w", err))
		return
	}

	if body.Active == nil {
		h.writeError(w, http.StatusBadRequest, errors.New("api: field `active` is required"))
		return
	}

	if *body.Active {
		h.svc.Register()
	} else {
		h.svc.Unregister()
	}

	active := h.svc.Intercepting()
	h.writeJSON(w, http.StatusOK, interceptionBody{Active: &active})
}

func parseFilter(r *http.Request) (reqlog.Filter, error) {
	q := r.URL.Query()

	filter := reqlog.Filter{
		Search:    q.Get("search"),
		Method:    strings.ToUpper(q.Get("method")),
		Host:      q.Get("host"),
		MediaType: strings.ToLower(q.Get("media")),
	}

	if v := q.Get("status"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			return reqlog.Filter{}, fmt.Errorf("api: invalid status code %q", v)
		}
		filter.StatusCode = code
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return reqlog.Filter{}, fmt.Errorf("api: invalid limit %q", v)
		}
		filter.Limit = limit
	}

	switch filter.MediaType {
	case "", reqlog.MediaTypeImage, reqlog.MediaTypeVideo, reqlog.MediaTypeAudio:
	default:
		return reqlog.Filter{}, fmt.Errorf("api: invalid media type %q", filter.MediaType)
	}

	return filter, nil
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorw("Failed to encode response.",
			"error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Debugw("Request failed.",
		"status", status,
		"error", err)

	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}
