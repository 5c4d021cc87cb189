package meeting_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/meetkit/meetbot/db"
	"github.com/meetkit/meetbot/meeting"
	"github.com/meetkit/meetbot/minutes"
	"github.com/meetkit/meetbot/testutil"
)

// fakeExporter records export calls without touching the filesystem.
type fakeExporter struct {
	calls int
	fail  bool
}

func (f *fakeExporter) Export(ctx context.Context, detail db.MeetingDetail) (string, error) {
	f.calls++
	if f.fail {
		return "", context.DeadlineExceeded
	}
	return "/tmp/minutes.html", nil
}

func newTestHandler(t *testing.T) (*meeting.Handler, *db.Store, *fakeExporter) {
	t.Helper()
	database := testutil.SetupTestDB(t)
	store := db.NewStore(database)
	exp := &fakeExporter{}
	return meeting.NewHandler(store, exp), store, exp
}

func intent(channel, user, text string) meeting.Intent {
	return meeting.ParseMessage(channel, user, text, time.Now())
}

func TestMeetingLifecycle(t *testing.T) {
	h, store, exp := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "life")

	reply := h.Dispatch(ctx, intent(channel, "alice", "!meeting start"))
	if !strings.Contains(reply, "Meeting started") || !strings.Contains(reply, "@alice") {
		t.Fatalf("start reply = %q", reply)
	}

	// Second start on the same channel is rejected.
	reply = h.Dispatch(ctx, intent(channel, "bob", "!meeting start"))
	if !strings.Contains(reply, "already an active meeting") {
		t.Errorf("duplicate start reply = %q", reply)
	}

	// Ordinary chatter is recorded silently.
	if reply = h.Dispatch(ctx, intent(channel, "alice", "hello world")); reply != "" {
		t.Errorf("record reply = %q, want silent", reply)
	}
	if reply = h.Dispatch(ctx, intent(channel, "bob", "one two three")); reply != "" {
		t.Errorf("record reply = %q, want silent", reply)
	}

	reply = h.Dispatch(ctx, intent(channel, "alice", "!action @bob write tests"))
	if !strings.Contains(reply, "@bob") || !strings.Contains(reply, "write tests") {
		t.Errorf("action reply = %q", reply)
	}

	reply = h.Dispatch(ctx, intent(channel, "alice", "!meeting end"))
	if !strings.Contains(reply, "Meeting ended") {
		t.Fatalf("end reply = %q", reply)
	}
	if exp.calls != 1 {
		t.Errorf("export calls = %d, want 1 on meeting end", exp.calls)
	}

	// Ledger is frozen: chatter after end is dropped silently.
	if reply = h.Dispatch(ctx, intent(channel, "alice", "too late")); reply != "" {
		t.Errorf("post-end record reply = %q, want silent", reply)
	}
	m, found, err := store.LastMeeting(ctx, channel)
	if err != nil || !found {
		t.Fatalf("LastMeeting() = found=%v err=%v", found, err)
	}
	msgs, err := store.ListMessages(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("transcript has %d messages, want 2 (post-end chatter dropped)", len(msgs))
	}
}

func TestEndRequiresChairOrCoChair(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "auth")

	h.Dispatch(ctx, intent(channel, "alice", "!meeting start"))

	reply := h.Dispatch(ctx, intent(channel, "mallory", "!meeting end"))
	if !strings.Contains(reply, "chair or a co-chair") {
		t.Fatalf("unauthorized end reply = %q", reply)
	}

	// A co-chair added by the chair may end the meeting.
	reply = h.Dispatch(ctx, intent(channel, "alice", "!cochair @bob"))
	if !strings.Contains(reply, "@bob") {
		t.Fatalf("cochair reply = %q", reply)
	}
	reply = h.Dispatch(ctx, intent(channel, "bob", "!meeting end"))
	if !strings.Contains(reply, "Meeting ended") {
		t.Errorf("co-chair end reply = %q", reply)
	}
}

func TestChairChangeAuthorization(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "chairauth")

	h.Dispatch(ctx, intent(channel, "alice", "!meeting start"))

	reply := h.Dispatch(ctx, intent(channel, "bob", "!chair @bob"))
	if !strings.Contains(reply, "chair or a co-chair") {
		t.Fatalf("non-chair !chair reply = %q", reply)
	}

	reply = h.Dispatch(ctx, intent(channel, "alice", "!chair @bob"))
	if !strings.Contains(reply, "changed to @bob") {
		t.Fatalf("chair handoff reply = %q", reply)
	}

	// alice gave the chair away and may no longer reassign it.
	reply = h.Dispatch(ctx, intent(channel, "alice", "!chair @carol"))
	if !strings.Contains(reply, "chair or a co-chair") {
		t.Errorf("ex-chair !chair reply = %q", reply)
	}
}

func TestChairHandoffWithMixedCaseMention(t *testing.T) {
	h, store, _ := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "chaircase")

	h.Dispatch(ctx, intent(channel, "alice", "!meeting start"))

	// The stored chair must match the lowercase login the transport will
	// deliver for bob, not the case alice typed.
	reply := h.Dispatch(ctx, intent(channel, "alice", "!chair @Bob"))
	if !strings.Contains(reply, "changed to @bob") {
		t.Fatalf("mixed-case handoff reply = %q", reply)
	}
	m, _, err := store.OpenMeeting(ctx, channel)
	if err != nil {
		t.Fatalf("OpenMeeting() error: %v", err)
	}
	if m.ChairID != "bob" {
		t.Errorf("stored chair = %q, want bob", m.ChairID)
	}

	// bob, identified lowercase by the transport, holds chair powers.
	reply = h.Dispatch(ctx, intent(channel, "bob", "!meeting end"))
	if !strings.Contains(reply, "Meeting ended") {
		t.Errorf("new chair end reply = %q", reply)
	}
}

func TestCommandsOutsideMeeting(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "idle")

	for _, text := range []string{"!meeting end", "!chair @bob", "!cochair @bob", "!action @bob task", "!action list"} {
		reply := h.Dispatch(ctx, intent(channel, "alice", text))
		if !strings.Contains(reply, "No active meeting") {
			t.Errorf("Dispatch(%q) idle reply = %q, want no-active-meeting", text, reply)
		}
	}

	// Status and stats answer informationally instead of erroring.
	if reply := h.Dispatch(ctx, intent(channel, "alice", "!meeting status")); !strings.Contains(reply, "No active meeting") {
		t.Errorf("status idle reply = %q", reply)
	}
	if reply := h.Dispatch(ctx, intent(channel, "alice", "!stats")); !strings.Contains(reply, "No active meeting") {
		t.Errorf("stats idle reply = %q", reply)
	}

	// Export on a channel with no history at all.
	if reply := h.Dispatch(ctx, intent(channel, "alice", "!export")); !strings.Contains(reply, "No meeting found") {
		t.Errorf("export idle reply = %q", reply)
	}
}

func TestStatsReply(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "stats")

	h.Dispatch(ctx, intent(channel, "alice", "!meeting start"))
	h.Dispatch(ctx, intent(channel, "alice", "hello world"))
	h.Dispatch(ctx, intent(channel, "bob", "one two three four"))

	reply := h.Dispatch(ctx, intent(channel, "alice", "!stats"))
	if !strings.Contains(reply, "@alice: 1 messages, 2 words") {
		t.Errorf("stats reply = %q, missing alice aggregate", reply)
	}
	if !strings.Contains(reply, "@bob: 1 messages, 4 words") {
		t.Errorf("stats reply = %q, missing bob aggregate", reply)
	}
}

func TestMeetingStatusReply(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "status")

	h.Dispatch(ctx, intent(channel, "alice", "!meeting start"))
	h.Dispatch(ctx, intent(channel, "alice", "kickoff"))
	h.Dispatch(ctx, intent(channel, "alice", "!cochair @bob"))
	h.Dispatch(ctx, intent(channel, "alice", "!action @bob ship it"))

	reply := h.Dispatch(ctx, intent(channel, "alice", "!meeting status"))
	if !strings.Contains(reply, "chair @alice") || !strings.Contains(reply, "co-chairs @bob") {
		t.Errorf("status reply = %q, missing roles", reply)
	}
	if !strings.Contains(reply, "1 action items") {
		t.Errorf("status reply = %q, missing action item count", reply)
	}
}

func TestActionList(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "actions")

	h.Dispatch(ctx, intent(channel, "alice", "!meeting start"))

	reply := h.Dispatch(ctx, intent(channel, "alice", "!action list"))
	if !strings.Contains(reply, "No pending action items") {
		t.Errorf("empty action list reply = %q", reply)
	}

	h.Dispatch(ctx, intent(channel, "alice", "!action @bob write tests"))
	h.Dispatch(ctx, intent(channel, "alice", "!action @carol update docs"))

	reply = h.Dispatch(ctx, intent(channel, "alice", "!action list"))
	if !strings.Contains(reply, "1. @bob: write tests") || !strings.Contains(reply, "2. @carol: update docs") {
		t.Errorf("action list reply = %q", reply)
	}
}

func TestKarma(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "karma")
	// Target must stay word-only so the ++ shorthand parses it.
	target := fmt.Sprintf("karmauser_%d", time.Now().UnixNano())

	// Karma works without any meeting open.
	reply := h.Dispatch(ctx, intent(channel, "alice", "@"+target+"++"))
	if !strings.Contains(reply, "karma increased to 1 point!") {
		t.Fatalf("karma reply = %q", reply)
	}
	reply = h.Dispatch(ctx, intent(channel, "alice", "!karma @"+target+"++"))
	if !strings.Contains(reply, "karma increased to 2 points!") {
		t.Errorf("second karma reply = %q", reply)
	}

	// Self-karma is rejected before any persistence, regardless of the case
	// the sender typed their own name in.
	for _, text := range []string{"@alice++", "@Alice++", "!karma @ALICE++"} {
		reply = h.Dispatch(ctx, intent(channel, "alice", text))
		if !strings.Contains(reply, "can't give yourself karma") {
			t.Errorf("self-karma reply for %q = %q", text, reply)
		}
	}

	reply = h.Dispatch(ctx, intent(channel, "alice", "!karma list"))
	if !strings.Contains(reply, "Karma leaderboard") {
		t.Errorf("karma list reply = %q", reply)
	}
}

func TestExportFailureDoesNotReopenMeeting(t *testing.T) {
	h, store, exp := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "expfail")
	exp.fail = true

	h.Dispatch(ctx, intent(channel, "alice", "!meeting start"))
	reply := h.Dispatch(ctx, intent(channel, "alice", "!meeting end"))
	if !strings.Contains(reply, "Meeting ended") || !strings.Contains(reply, "!export") {
		t.Fatalf("end-with-failed-export reply = %q", reply)
	}

	// The meeting stays closed even though export failed.
	if _, open, err := store.OpenMeeting(ctx, channel); err != nil || open {
		t.Errorf("OpenMeeting() after failed export = open=%v err=%v, want closed", open, err)
	}

	// Retry via !export once the exporter recovers.
	exp.fail = false
	reply = h.Dispatch(ctx, intent(channel, "alice", "!export"))
	if !strings.Contains(reply, "Minutes written") {
		t.Errorf("export retry reply = %q", reply)
	}
}

func TestHelpAndInvalidUsage(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()
	channel := testutil.UniqueChannel(t, "help")

	reply := h.Dispatch(ctx, intent(channel, "alice", "!help"))
	if !strings.Contains(reply, "!meeting start") {
		t.Errorf("help reply = %q", reply)
	}
	reply = h.Dispatch(ctx, intent(channel, "alice", "!meeting pause"))
	if !strings.Contains(reply, "'start', 'end', or 'status'") {
		t.Errorf("invalid usage reply = %q", reply)
	}
}

var _ meeting.Exporter = (*minutes.Exporter)(nil)
