package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meetkit/meetbot/db"
	"github.com/meetkit/meetbot/minutes"
	"github.com/meetkit/meetbot/telemetry"
)

// Exporter renders a meeting's minutes to a file and returns its path.
type Exporter interface {
	Export(ctx context.Context, detail db.MeetingDetail) (string, error)
}

// Handler maps Intents to ledger mutations and reply text. It is stateless:
// session state is read from the store on every command.
type Handler struct {
	Store    *db.Store
	Exporter Exporter
}

// NewHandler wires a handler over the ledger store and minutes exporter.
func NewHandler(store *db.Store, exporter Exporter) *Handler {
	return &Handler{Store: store, Exporter: exporter}
}

const helpText = "MeetBot commands: " +
	"!meeting start/end/status · " +
	"!chair @user (chair only) · " +
	"!cochair @user (chair/co-chair) · " +
	"!action @user task · !action list · " +
	"!stats · !export · " +
	"!karma @user++ or @user++ · !karma list · !help. " +
	"All messages are recorded while a meeting is open."

// Dispatch is the command boundary: it handles one intent and converts every
// failure into a user-visible reply, so no command can crash the process.
// Transient storage faults are retried once before surfacing; user-input
// errors are not, since retrying cannot change the outcome. An empty reply
// means nothing should be posted (ordinary transcript messages).
func (h *Handler) Dispatch(ctx context.Context, in Intent) string {
	telemetry.IncCommand()
	reply, err := h.handle(ctx, in)
	if err != nil && !isUserError(err) {
		slog.Warn("command failed, retrying once",
			slog.String("channel", in.Channel), slog.String("user", in.UserID), slog.Any("err", err))
		reply, err = h.handle(ctx, in)
	}
	if err == nil {
		return reply
	}
	telemetry.IncCommandError()
	if isUserError(err) {
		return userErrorReply(err)
	}
	slog.Error("command failed",
		slog.String("channel", in.Channel), slog.String("user", in.UserID), slog.Any("err", err))
	return "Something went wrong while processing your command. Please try again."
}

// isUserError reports whether an error is a user mistake rather than an
// infrastructure fault.
func isUserError(err error) bool {
	return errors.Is(err, ErrNoActiveMeeting) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrSelfKarma) ||
		errors.Is(err, db.ErrAlreadyOpen) ||
		errors.Is(err, db.ErrNotFound) ||
		errors.Is(err, db.ErrAlreadyClosed)
}

func userErrorReply(err error) string {
	switch {
	case errors.Is(err, db.ErrAlreadyOpen):
		return "There's already an active meeting in this channel!"
	case errors.Is(err, ErrNoActiveMeeting):
		return "No active meeting in this channel!"
	case errors.Is(err, ErrForbidden):
		return "Only the chair or a co-chair can do that."
	case errors.Is(err, ErrSelfKarma):
		return "Nice try! You can't give yourself karma."
	case errors.Is(err, db.ErrAlreadyClosed):
		return "That meeting has already ended."
	case errors.Is(err, db.ErrNotFound):
		return "No meeting found in this channel!"
	}
	return "Something went wrong while processing your command. Please try again."
}

func (h *Handler) handle(ctx context.Context, in Intent) (string, error) {
	switch in.Kind {
	case KindRecord:
		return "", h.recordMessage(ctx, in)
	case KindMeetingStart:
		return h.startMeeting(ctx, in)
	case KindMeetingEnd:
		return h.endMeeting(ctx, in)
	case KindMeetingStatus:
		return h.meetingStatus(ctx, in)
	case KindSetChair:
		return h.setChair(ctx, in)
	case KindAddCoChair:
		return h.addCoChair(ctx, in)
	case KindActionItem:
		return h.addActionItem(ctx, in)
	case KindActionList:
		return h.listActionItems(ctx, in)
	case KindStats:
		return h.stats(ctx, in)
	case KindExport:
		return h.export(ctx, in)
	case KindKarmaGive:
		return h.giveKarma(ctx, in)
	case KindKarmaList:
		return h.karmaStandings(ctx)
	case KindHelp:
		return helpText, nil
	case KindInvalid:
		return in.Hint, nil
	}
	return "", fmt.Errorf("unhandled intent kind %d", in.Kind)
}

// recordMessage appends an ordinary message to the open meeting's transcript.
// Outside a meeting it is a silent no-op, not an error.
func (h *Handler) recordMessage(ctx context.Context, in Intent) error {
	m, open, err := h.Store.OpenMeeting(ctx, in.Channel)
	if err != nil {
		return err
	}
	if !open {
		return nil
	}
	if err := h.Store.AppendMessage(ctx, m.ID, in.UserID, in.Text); err != nil {
		// The meeting may have closed between the lookup and the append;
		// dropping the message is the correct outcome then.
		if errors.Is(err, db.ErrAlreadyClosed) || errors.Is(err, db.ErrNotFound) {
			return nil
		}
		return err
	}
	telemetry.IncMessageRecorded()
	return nil
}

func (h *Handler) startMeeting(ctx context.Context, in Intent) (string, error) {
	m, err := h.Store.CreateMeeting(ctx, in.Channel, in.UserID)
	if err != nil {
		return "", err
	}
	telemetry.IncMeetingStarted()
	slog.Info("meeting started",
		slog.Int64("meeting_id", m.ID), slog.String("channel", m.Channel), slog.String("chair", m.ChairID))
	return fmt.Sprintf("Meeting started! Chair: @%s. All messages are now recorded. Use !meeting end to end the meeting.", m.ChairID), nil
}

// endMeeting closes the channel's meeting and triggers the minutes export.
// Ending requires the chair or a co-chair role. Export failure does not
// reopen the meeting; the user is told to retry with !export.
func (h *Handler) endMeeting(ctx context.Context, in Intent) (string, error) {
	m, open, err := h.Store.OpenMeeting(ctx, in.Channel)
	if err != nil {
		return "", err
	}
	if !open {
		return "", ErrNoActiveMeeting
	}
	if err := h.authorizeChairOrCoChair(ctx, m, in.UserID); err != nil {
		return "", err
	}
	if err := h.Store.CloseMeeting(ctx, m.ID); err != nil {
		return "", err
	}
	telemetry.IncMeetingEnded()
	slog.Info("meeting ended", slog.Int64("meeting_id", m.ID), slog.String("channel", m.Channel))

	path, err := h.exportMeeting(ctx, m.ID)
	if err != nil {
		slog.Error("minutes export failed after meeting end",
			slog.Int64("meeting_id", m.ID), slog.String("channel", m.Channel), slog.Any("err", err))
		return "Meeting ended! (Minutes export failed; use !export to retry.)", nil
	}
	return fmt.Sprintf("Meeting ended! Minutes written to %s.", path), nil
}

func (h *Handler) meetingStatus(ctx context.Context, in Intent) (string, error) {
	m, open, err := h.Store.OpenMeeting(ctx, in.Channel)
	if err != nil {
		return "", err
	}
	if !open {
		return "No active meeting in this channel. Use !meeting start to start one.", nil
	}
	detail, err := h.Store.GetMeetingDetail(ctx, m.ID)
	if err != nil {
		return "", err
	}
	dur := time.Since(m.StartedAt).Round(time.Minute)
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting status: %s elapsed, chair @%s", formatDuration(dur), m.ChairID)
	if len(detail.CoChairs) > 0 {
		fmt.Fprintf(&b, ", co-chairs %s", mentionList(detail.CoChairs))
	}
	fmt.Fprintf(&b, ". %d messages from %d participants, %d action items.",
		len(detail.Messages), len(detail.Stats), len(detail.ActionItems))
	return b.String(), nil
}

// setChair replaces the meeting chair. Only the current chair may do this.
func (h *Handler) setChair(ctx context.Context, in Intent) (string, error) {
	m, open, err := h.Store.OpenMeeting(ctx, in.Channel)
	if err != nil {
		return "", err
	}
	if !open {
		return "", ErrNoActiveMeeting
	}
	if m.ChairID != in.UserID {
		return "", fmt.Errorf("set chair by %s: %w", in.UserID, ErrForbidden)
	}
	if err := h.Store.SetChair(ctx, m.ID, in.Target); err != nil {
		return "", err
	}
	slog.Info("chair reassigned",
		slog.Int64("meeting_id", m.ID), slog.String("from", in.UserID), slog.String("to", in.Target))
	return fmt.Sprintf("Meeting chair changed to @%s!", in.Target), nil
}

// addCoChair adds a co-chair; re-adding is a no-op. Chair or co-chair only.
func (h *Handler) addCoChair(ctx context.Context, in Intent) (string, error) {
	m, open, err := h.Store.OpenMeeting(ctx, in.Channel)
	if err != nil {
		return "", err
	}
	if !open {
		return "", ErrNoActiveMeeting
	}
	if err := h.authorizeChairOrCoChair(ctx, m, in.UserID); err != nil {
		return "", err
	}
	if err := h.Store.AddCoChair(ctx, m.ID, in.Target); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added @%s as co-chair!", in.Target), nil
}

func (h *Handler) authorizeChairOrCoChair(ctx context.Context, m db.Meeting, userID string) error {
	if m.ChairID == userID {
		return nil
	}
	coChairs, err := h.Store.ListCoChairs(ctx, m.ID)
	if err != nil {
		return err
	}
	for _, c := range coChairs {
		if c == userID {
			return nil
		}
	}
	return fmt.Errorf("user %s on meeting %d: %w", userID, m.ID, ErrForbidden)
}

// addActionItem records a task for an assignee. Any participant may invoke.
func (h *Handler) addActionItem(ctx context.Context, in Intent) (string, error) {
	m, open, err := h.Store.OpenMeeting(ctx, in.Channel)
	if err != nil {
		return "", err
	}
	if !open {
		return "", ErrNoActiveMeeting
	}
	if err := h.Store.AppendActionItem(ctx, m.ID, in.Target, in.Text); err != nil {
		return "", err
	}
	telemetry.IncActionItem()
	return fmt.Sprintf("Action item assigned to @%s: %s", in.Target, in.Text), nil
}

func (h *Handler) listActionItems(ctx context.Context, in Intent) (string, error) {
	m, open, err := h.Store.OpenMeeting(ctx, in.Channel)
	if err != nil {
		return "", err
	}
	if !open {
		return "", ErrNoActiveMeeting
	}
	items, err := h.Store.ListActionItems(ctx, m.ID, true)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "No pending action items for this meeting!", nil
	}
	var b strings.Builder
	b.WriteString("Action items: ")
	for i, it := range items {
		if i > 0 {
			b.WriteString(" · ")
		}
		fmt.Fprintf(&b, "%d. @%s: %s", i+1, it.AssignedTo, it.Task)
	}
	return b.String(), nil
}

// stats reports participation for the open meeting only; when the channel is
// idle it reports that rather than historical data.
func (h *Handler) stats(ctx context.Context, in Intent) (string, error) {
	m, open, err := h.Store.OpenMeeting(ctx, in.Channel)
	if err != nil {
		return "", err
	}
	if !open {
		return "No active meeting in this channel!", nil
	}
	stats, err := h.Store.SpeakerStats(ctx, m.ID)
	if err != nil {
		return "", err
	}
	if len(stats) == 0 {
		return "No participation statistics for this meeting yet.", nil
	}
	var b strings.Builder
	b.WriteString("Participation: ")
	for i, st := range stats {
		if i > 0 {
			b.WriteString(" · ")
		}
		fmt.Fprintf(&b, "@%s: %d messages, %d words, ~%s speaking",
			st.UserID, st.MessageCount, st.WordCount, formatDuration(minutes.SpeakingTime(st.WordCount)))
	}
	return b.String(), nil
}

// export re-renders minutes for the current meeting, or the most recently
// ended one when the channel is idle.
func (h *Handler) export(ctx context.Context, in Intent) (string, error) {
	m, found, err := h.Store.LastMeeting(ctx, in.Channel)
	if err != nil {
		return "", err
	}
	if !found {
		return "", db.ErrNotFound
	}
	path, err := h.exportMeeting(ctx, m.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Minutes written to %s.", path), nil
}

func (h *Handler) exportMeeting(ctx context.Context, meetingID int64) (string, error) {
	detail, err := h.Store.GetMeetingDetail(ctx, meetingID)
	if err != nil {
		return "", err
	}
	path, err := h.Exporter.Export(ctx, detail)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	// Operational marker for the status endpoint; best effort.
	_ = db.SetKV(ctx, h.Store.DB, "export_last:"+detail.Meeting.Channel, path)
	return path, nil
}

// giveKarma adds one point to the target. Self-karma is rejected before any
// persistence; karma is global and independent of meeting state.
func (h *Handler) giveKarma(ctx context.Context, in Intent) (string, error) {
	if in.Target == in.UserID {
		return "", fmt.Errorf("user %s: %w", in.UserID, ErrSelfKarma)
	}
	points, err := h.Store.IncrementKarma(ctx, in.Target)
	if err != nil {
		return "", err
	}
	telemetry.IncKarmaGiven()
	return fmt.Sprintf("@%s's karma increased to %d point%s!", in.Target, points, plural(points)), nil
}

func (h *Handler) karmaStandings(ctx context.Context) (string, error) {
	standings, err := h.Store.ListKarma(ctx)
	if err != nil {
		return "", err
	}
	if len(standings) == 0 {
		return "No karma points recorded yet!", nil
	}
	if len(standings) > 10 {
		standings = standings[:10]
	}
	var b strings.Builder
	b.WriteString("Karma leaderboard: ")
	for i, k := range standings {
		if i > 0 {
			b.WriteString(" · ")
		}
		fmt.Fprintf(&b, "%d. %s: %d", i+1, k.UserID, k.Points)
	}
	return b.String(), nil
}

func mentionList(users []string) string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = "@" + u
	}
	return strings.Join(out, ", ")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// formatDuration renders durations as 1h02m / 5m / 30s for chat replies.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
