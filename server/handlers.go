// Package server exposes the HTTP API handlers.
package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meetkit/meetbot/db"
	"github.com/meetkit/meetbot/minutes"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db       *sql.DB
	store    *db.Store
	exporter *minutes.Exporter
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(database *sql.DB, exporter *minutes.Exporter) *Handlers {
	return &Handlers{db: database, store: db.NewStore(database), exporter: exporter}
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

type meetingJSON struct {
	ID        int64      `json:"id"`
	Channel   string     `json:"channel"`
	Chair     string     `json:"chair"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Open      bool       `json:"open"`
}

func toMeetingJSON(m db.Meeting) meetingJSON {
	return meetingJSON{
		ID:        m.ID,
		Channel:   m.Channel,
		Chair:     m.ChairID,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
		Open:      m.EndedAt == nil,
	}
}

// HandleMeetingsList returns a paginated list of meetings, newest first.
func (h *Handlers) HandleMeetingsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Basic pagination: ?limit=50&offset=0
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := parseIntQuery(r, "offset", 0)
	meetings, err := h.store.ListMeetings(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	list := make([]meetingJSON, 0, len(meetings))
	for _, m := range meetings {
		list = append(list, toMeetingJSON(m))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// HandleMeetingsDispatcher routes requests under /meetings/{id}/* to sub-handlers.
func (h *Handlers) HandleMeetingsDispatcher(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/meetings/")
	parts := strings.Split(path, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	switch tail {
	case "":
		h.handleMeetingDetail(w, r, id)
	case "minutes":
		h.handleMeetingMinutes(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleMeetingDetail(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	detail, err := h.store.GetMeetingDetail(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type messageJSON struct {
		User      string    `json:"user"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}
	type actionJSON struct {
		AssignedTo string `json:"assigned_to"`
		Task       string `json:"task"`
		Completed  bool   `json:"completed"`
	}
	type statJSON struct {
		User     string `json:"user"`
		Messages int    `json:"messages"`
		Words    int    `json:"words"`
	}
	resp := struct {
		meetingJSON
		CoChairs    []string      `json:"co_chairs"`
		Messages    []messageJSON `json:"messages"`
		ActionItems []actionJSON  `json:"action_items"`
		Stats       []statJSON    `json:"stats"`
	}{meetingJSON: toMeetingJSON(detail.Meeting)}
	for _, m := range detail.Messages {
		resp.Messages = append(resp.Messages, messageJSON{User: m.UserID, Content: m.Content, Timestamp: m.CreatedAt})
	}
	for _, a := range detail.ActionItems {
		resp.ActionItems = append(resp.ActionItems, actionJSON{AssignedTo: a.AssignedTo, Task: a.Task, Completed: a.Completed})
	}
	for _, st := range detail.Stats {
		resp.Stats = append(resp.Stats, statJSON{User: st.UserID, Messages: st.MessageCount, Words: st.WordCount})
	}
	resp.CoChairs = detail.CoChairs
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleMeetingMinutes renders the meeting's minutes HTML on the fly.
func (h *Handlers) handleMeetingMinutes(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	detail, err := h.store.GetMeetingDetail(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	html, err := h.exporter.Render(detail)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}
