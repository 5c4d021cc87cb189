package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Meeting is one meeting session on a channel. EndedAt is nil while the
// meeting is open; a closed meeting and its children are immutable.
type Meeting struct {
	ID        int64
	Channel   string
	ChairID   string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Message is one transcript line recorded while a meeting was open.
type Message struct {
	ID        int64
	MeetingID int64
	UserID    string
	Content   string
	CreatedAt time.Time
}

// ActionItem is a task assigned to a user during a meeting.
type ActionItem struct {
	ID         int64
	MeetingID  int64
	AssignedTo string
	Task       string
	Completed  bool
	CreatedAt  time.Time
}

// SpeakerStat is a per-user participation aggregate derived from messages.
// It is always recomputed from the transcript, never hand-mutated.
type SpeakerStat struct {
	UserID       string
	MessageCount int
	WordCount    int
}

// KarmaEntry is one row of the global karma standings.
type KarmaEntry struct {
	UserID string
	Points int
}

// MeetingDetail bundles a meeting with everything recorded under it.
type MeetingDetail struct {
	Meeting     Meeting
	CoChairs    []string
	Messages    []Message
	ActionItems []ActionItem
	Stats       []SpeakerStat
}

// Store is the ledger: durable, queryable storage for meetings, transcripts,
// action items, co-chairs, and karma. All writes are atomic per call.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// CreateMeeting opens a meeting on the channel with the issuer as chair.
// Returns ErrAlreadyOpen if the channel already has an open meeting; the
// partial unique index catches the race even across processes.
func (s *Store) CreateMeeting(ctx context.Context, channel, chairID string) (Meeting, error) {
	var m Meeting
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO meetings (channel, chair_id, started_at) VALUES ($1, $2, NOW())
		 RETURNING id, channel, chair_id, started_at`, channel, chairID).
		Scan(&m.ID, &m.Channel, &m.ChairID, &m.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Meeting{}, ErrAlreadyOpen
		}
		return Meeting{}, fmt.Errorf("create meeting: %w", err)
	}
	return m, nil
}

// CloseMeeting sets ended_at on an open meeting. Returns ErrAlreadyClosed if
// ended_at is already set, ErrNotFound if the id is unknown.
func (s *Store) CloseMeeting(ctx context.Context, meetingID int64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE meetings SET ended_at=NOW() WHERE id=$1 AND ended_at IS NULL`, meetingID)
	if err != nil {
		return fmt.Errorf("close meeting %d: %w", meetingID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.classifyMiss(ctx, meetingID)
}

// classifyMiss distinguishes an unknown meeting from a closed one after a
// conditional write matched zero rows.
func (s *Store) classifyMiss(ctx context.Context, meetingID int64) error {
	var ended sql.NullTime
	err := s.DB.QueryRowContext(ctx, `SELECT ended_at FROM meetings WHERE id=$1`, meetingID).Scan(&ended)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup meeting %d: %w", meetingID, err)
	}
	return ErrAlreadyClosed
}

// OpenMeeting returns the open meeting for a channel, or sql.ErrNoRows
// wrapped as (Meeting{}, false, nil) when the channel is idle.
func (s *Store) OpenMeeting(ctx context.Context, channel string) (Meeting, bool, error) {
	var m Meeting
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, channel, chair_id, started_at FROM meetings WHERE channel=$1 AND ended_at IS NULL`, channel).
		Scan(&m.ID, &m.Channel, &m.ChairID, &m.StartedAt)
	if err == sql.ErrNoRows {
		return Meeting{}, false, nil
	}
	if err != nil {
		return Meeting{}, false, fmt.Errorf("open meeting for %s: %w", channel, err)
	}
	return m, true, nil
}

// LastMeeting returns the most recent meeting on a channel (open or closed),
// preferring the open one. Used by export, which falls back to the last
// closed meeting when the channel is idle.
func (s *Store) LastMeeting(ctx context.Context, channel string) (Meeting, bool, error) {
	var m Meeting
	var ended sql.NullTime
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, channel, chair_id, started_at, ended_at FROM meetings
		 WHERE channel=$1
		 ORDER BY (ended_at IS NULL) DESC, started_at DESC
		 LIMIT 1`, channel).
		Scan(&m.ID, &m.Channel, &m.ChairID, &m.StartedAt, &ended)
	if err == sql.ErrNoRows {
		return Meeting{}, false, nil
	}
	if err != nil {
		return Meeting{}, false, fmt.Errorf("last meeting for %s: %w", channel, err)
	}
	if ended.Valid {
		t := ended.Time
		m.EndedAt = &t
	}
	return m, true, nil
}

// guardedInsert runs an insert that only matches while the meeting is open,
// then classifies a zero-row result into ErrNotFound / ErrAlreadyClosed.
func (s *Store) guardedInsert(ctx context.Context, meetingID int64, query string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n >= 1 {
		return nil
	}
	return s.classifyMiss(ctx, meetingID)
}

// AppendMessage records a transcript line. The insert is conditional on the
// meeting still being open so the append and the open-check are one atomic
// statement.
func (s *Store) AppendMessage(ctx context.Context, meetingID int64, userID, content string) error {
	err := s.guardedInsert(ctx, meetingID,
		`INSERT INTO messages (meeting_id, user_id, content, created_at)
		 SELECT $1, $2, $3, NOW()
		 WHERE EXISTS (SELECT 1 FROM meetings WHERE id=$1 AND ended_at IS NULL)`,
		meetingID, userID, content)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyClosed) {
		return fmt.Errorf("append message: %w", err)
	}
	return err
}

// AppendActionItem records a task for an assignee during an open meeting.
func (s *Store) AppendActionItem(ctx context.Context, meetingID int64, assignedTo, task string) error {
	err := s.guardedInsert(ctx, meetingID,
		`INSERT INTO action_items (meeting_id, assigned_to, task, created_at)
		 SELECT $1, $2, $3, NOW()
		 WHERE EXISTS (SELECT 1 FROM meetings WHERE id=$1 AND ended_at IS NULL)`,
		meetingID, assignedTo, task)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyClosed) {
		return fmt.Errorf("append action item: %w", err)
	}
	return err
}

// AddCoChair adds a co-chair to an open meeting. Re-adding is a no-op, not an
// error.
func (s *Store) AddCoChair(ctx context.Context, meetingID int64, userID string) error {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO co_chairs (meeting_id, user_id)
		 SELECT $1, $2
		 WHERE EXISTS (SELECT 1 FROM meetings WHERE id=$1 AND ended_at IS NULL)
		 ON CONFLICT (meeting_id, user_id) DO NOTHING`,
		meetingID, userID)
	if err != nil {
		return fmt.Errorf("add co-chair: %w", err)
	}
	if n, _ := res.RowsAffected(); n >= 1 {
		return nil
	}
	// Zero rows is either the idempotent re-add or a closed/unknown meeting.
	exists, err := s.isCoChair(ctx, meetingID, userID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.classifyMiss(ctx, meetingID)
}

func (s *Store) isCoChair(ctx context.Context, meetingID int64, userID string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM co_chairs WHERE meeting_id=$1 AND user_id=$2`, meetingID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("co-chair lookup: %w", err)
	}
	return true, nil
}

// SetChair replaces the chair of an open meeting.
func (s *Store) SetChair(ctx context.Context, meetingID int64, userID string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE meetings SET chair_id=$2 WHERE id=$1 AND ended_at IS NULL`, meetingID, userID)
	if err != nil {
		return fmt.Errorf("set chair: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.classifyMiss(ctx, meetingID)
}

// ListCoChairs returns the co-chair user ids of a meeting, sorted.
func (s *Store) ListCoChairs(ctx context.Context, meetingID int64) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id FROM co_chairs WHERE meeting_id=$1 ORDER BY user_id`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list co-chairs: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListActionItems returns a meeting's action items in creation order.
// pendingOnly restricts to uncompleted items (the `!action list` view).
func (s *Store) ListActionItems(ctx context.Context, meetingID int64, pendingOnly bool) ([]ActionItem, error) {
	q := `SELECT id, meeting_id, assigned_to, task, completed, created_at FROM action_items WHERE meeting_id=$1`
	if pendingOnly {
		q += ` AND completed=FALSE`
	}
	q += ` ORDER BY created_at, id`
	rows, err := s.DB.QueryContext(ctx, q, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	defer rows.Close()
	var out []ActionItem
	for rows.Next() {
		var a ActionItem
		if err := rows.Scan(&a.ID, &a.MeetingID, &a.AssignedTo, &a.Task, &a.Completed, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListMessages returns a meeting's transcript in timestamp order.
func (s *Store) ListMessages(ctx context.Context, meetingID int64) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, meeting_id, user_id, content, created_at FROM messages
		 WHERE meeting_id=$1 ORDER BY created_at, id`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SpeakerStats recomputes the per-user aggregates from the transcript.
// Word counts use whitespace splitting, matching the exporter.
func (s *Store) SpeakerStats(ctx context.Context, meetingID int64) ([]SpeakerStat, error) {
	msgs, err := s.ListMessages(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return ComputeSpeakerStats(msgs), nil
}

// ComputeSpeakerStats folds messages into per-user aggregates, ordered by
// user id for determinism.
func ComputeSpeakerStats(msgs []Message) []SpeakerStat {
	byUser := map[string]*SpeakerStat{}
	var order []string
	for _, m := range msgs {
		st := byUser[m.UserID]
		if st == nil {
			st = &SpeakerStat{UserID: m.UserID}
			byUser[m.UserID] = st
			order = append(order, m.UserID)
		}
		st.MessageCount++
		st.WordCount += len(strings.Fields(m.Content))
	}
	sort.Strings(order) // stable output independent of arrival order
	out := make([]SpeakerStat, 0, len(order))
	for _, u := range order {
		out = append(out, *byUser[u])
	}
	return out
}

// GetMeetingDetail loads a meeting with transcript, action items, co-chairs,
// and recomputed speaker stats. Returns ErrNotFound for unknown ids.
func (s *Store) GetMeetingDetail(ctx context.Context, meetingID int64) (MeetingDetail, error) {
	var d MeetingDetail
	var ended sql.NullTime
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, channel, chair_id, started_at, ended_at FROM meetings WHERE id=$1`, meetingID).
		Scan(&d.Meeting.ID, &d.Meeting.Channel, &d.Meeting.ChairID, &d.Meeting.StartedAt, &ended)
	if err == sql.ErrNoRows {
		return MeetingDetail{}, ErrNotFound
	}
	if err != nil {
		return MeetingDetail{}, fmt.Errorf("meeting detail %d: %w", meetingID, err)
	}
	if ended.Valid {
		t := ended.Time
		d.Meeting.EndedAt = &t
	}
	if d.CoChairs, err = s.ListCoChairs(ctx, meetingID); err != nil {
		return MeetingDetail{}, err
	}
	if d.Messages, err = s.ListMessages(ctx, meetingID); err != nil {
		return MeetingDetail{}, err
	}
	if d.ActionItems, err = s.ListActionItems(ctx, meetingID, false); err != nil {
		return MeetingDetail{}, err
	}
	d.Stats = ComputeSpeakerStats(d.Messages)
	return d, nil
}

// ListMeetings returns recent meetings across channels, newest first.
func (s *Store) ListMeetings(ctx context.Context, limit, offset int) ([]Meeting, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, channel, chair_id, started_at, ended_at FROM meetings
		 ORDER BY started_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()
	var out []Meeting
	for rows.Next() {
		var m Meeting
		var ended sql.NullTime
		if err := rows.Scan(&m.ID, &m.Channel, &m.ChairID, &m.StartedAt, &ended); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			m.EndedAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// IncrementKarma atomically adds one point for a user and returns the new
// total. Every call is a new point; there is no idempotency key.
func (s *Store) IncrementKarma(ctx context.Context, userID string) (int, error) {
	var points int
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO user_karma (user_id, points, updated_at) VALUES ($1, 1, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET points=user_karma.points+1, updated_at=NOW()
		 RETURNING points`, userID).Scan(&points)
	if err != nil {
		return 0, fmt.Errorf("increment karma for %s: %w", userID, err)
	}
	return points, nil
}

// ListKarma returns standings for users with points, ordered by points
// descending then user id ascending (the documented tie-break).
func (s *Store) ListKarma(ctx context.Context) ([]KarmaEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id, points FROM user_karma WHERE points > 0 ORDER BY points DESC, user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list karma: %w", err)
	}
	defer rows.Close()
	var out []KarmaEntry
	for rows.Next() {
		var k KarmaEntry
		if err := rows.Scan(&k.UserID, &k.Points); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
