package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/meetkit/meetbot/db"
	"github.com/meetkit/meetbot/telemetry"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"schema", func() error {
			// An empty table is fine; a missing table is not.
			var one int
			err := h.db.QueryRowContext(r.Context(), "SELECT 1 FROM meetings LIMIT 1").Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns a lightweight status summary: open meetings, totals,
// and karma ledger size.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	resp := map[string]any{}
	var open, total, messages, actionItems, karmaUsers int
	var countErr error
	count := func(query string, dst *int) {
		if err := h.db.QueryRowContext(ctx, query).Scan(dst); err != nil && countErr == nil {
			countErr = err
		}
	}
	count(`SELECT COUNT(*) FROM meetings WHERE ended_at IS NULL`, &open)
	count(`SELECT COUNT(*) FROM meetings`, &total)
	count(`SELECT COUNT(*) FROM messages`, &messages)
	count(`SELECT COUNT(*) FROM action_items`, &actionItems)
	count(`SELECT COUNT(*) FROM user_karma WHERE points > 0`, &karmaUsers)
	if countErr != nil {
		slog.Warn("status counts incomplete", slog.Any("err", countErr))
		resp["degraded"] = true
	}
	resp["open_meetings"] = open
	resp["total_meetings"] = total
	resp["messages"] = messages
	resp["action_items"] = actionItems
	resp["karma_users"] = karmaUsers
	telemetry.SetOpenMeetings(open)

	// Per-channel open meeting breakdown
	type channelMeeting struct {
		Channel    string `json:"channel"`
		Chair      string `json:"chair"`
		LastExport string `json:"last_export,omitempty"`
	}
	var openList []channelMeeting
	rows, err := h.db.QueryContext(ctx, `SELECT channel, chair_id FROM meetings WHERE ended_at IS NULL ORDER BY channel`)
	if err == nil {
		defer func() {
			if err := rows.Close(); err != nil {
				slog.Warn("failed to close rows", slog.Any("err", err))
			}
		}()
		for rows.Next() {
			var cm channelMeeting
			if err := rows.Scan(&cm.Channel, &cm.Chair); err == nil {
				cm.LastExport, _ = db.GetKV(ctx, h.db, "export_last:"+cm.Channel)
				openList = append(openList, cm)
			}
		}
	}
	if len(openList) > 0 {
		resp["open_by_channel"] = openList
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
