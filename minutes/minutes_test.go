package minutes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meetkit/meetbot/db"
)

func fixedClock() time.Time {
	return time.Date(2025, 3, 1, 18, 30, 0, 0, time.UTC)
}

func sampleDetail() db.MeetingDetail {
	start := time.Date(2025, 3, 1, 17, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	msgs := []db.Message{
		{ID: 1, MeetingID: 7, UserID: "alice", Content: "hello world", CreatedAt: start.Add(time.Minute)},
		{ID: 2, MeetingID: 7, UserID: "bob", Content: "let's review the release checklist", CreatedAt: start.Add(2 * time.Minute)},
		{ID: 3, MeetingID: 7, UserID: "alice", Content: "sounds good", CreatedAt: start.Add(3 * time.Minute)},
	}
	return db.MeetingDetail{
		Meeting:  db.Meeting{ID: 7, Channel: "general", ChairID: "alice", StartedAt: start, EndedAt: &end},
		CoChairs: []string{"bob"},
		Messages: msgs,
		ActionItems: []db.ActionItem{
			{ID: 1, MeetingID: 7, AssignedTo: "bob", Task: "write tests", CreatedAt: start.Add(4 * time.Minute)},
		},
		Stats: db.ComputeSpeakerStats(msgs),
	}
}

func TestSpeakingTime(t *testing.T) {
	if got := SpeakingTime(150); got != time.Minute {
		t.Errorf("SpeakingTime(150) = %v, want 1m", got)
	}
	if got := SpeakingTime(75); got != 30*time.Second {
		t.Errorf("SpeakingTime(75) = %v, want 30s", got)
	}
	if got := SpeakingTime(0); got != 0 {
		t.Errorf("SpeakingTime(0) = %v, want 0", got)
	}
}

func TestFilename(t *testing.T) {
	e := NewExporter("/tmp/out")
	start := time.Date(2025, 3, 1, 17, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)

	m := db.Meeting{Channel: "general", StartedAt: start, EndedAt: &end}
	want := filepath.Join("/tmp/out", "meeting_export_general_20250301_174500.html")
	if got := e.Filename(m); got != want {
		t.Errorf("Filename closed meeting = %q, want %q", got, want)
	}

	// Open meetings fall back to the start timestamp.
	m.EndedAt = nil
	want = filepath.Join("/tmp/out", "meeting_export_general_20250301_170000.html")
	if got := e.Filename(m); got != want {
		t.Errorf("Filename open meeting = %q, want %q", got, want)
	}
}

func TestRenderDeterministic(t *testing.T) {
	e := NewExporter(t.TempDir())
	e.Now = fixedClock
	detail := sampleDetail()

	first, err := e.Render(detail)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	second, err := e.Render(detail)
	if err != nil {
		t.Fatalf("Render() second error: %v", err)
	}
	if string(first) != string(second) {
		t.Error("Render() produced different bytes for identical input")
	}
}

func TestRenderContent(t *testing.T) {
	e := NewExporter(t.TempDir())
	e.Now = fixedClock
	out, err := e.Render(sampleDetail())
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	html := string(out)

	for _, want := range []string{
		"<title>Meeting Minutes - #general</title>",
		"#general",
		"alice",
		"hello world",
		"write tests",
		"Co-chairs:",
		"Duration:",
		"0h 45m 0s",
		"Generated March 1, 2025 at 6:30 PM UTC",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered minutes missing %q", want)
		}
	}

	// alice: "hello world" + "sounds good" = 2 messages, 4 words.
	if !strings.Contains(html, "<td>alice</td><td>2</td><td>4</td>") {
		t.Error("participation table missing alice row with 2 messages / 4 words")
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	e := NewExporter(t.TempDir())
	e.Now = fixedClock
	detail := sampleDetail()
	detail.Messages[0].Content = `<script>alert("x")</script>`

	out, err := e.Render(detail)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if strings.Contains(string(out), "<script>alert") {
		t.Error("message content was not escaped")
	}
}

func TestExportWritesFile(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(filepath.Join(dir, "nested")) // exercise MkdirAll
	e.Now = fixedClock
	detail := sampleDetail()

	path, err := e.Export(context.Background(), detail)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if path != e.Filename(detail.Meeting) {
		t.Errorf("Export() path = %q, want %q", path, e.Filename(detail.Meeting))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	want, _ := e.Render(detail)
	if string(data) != string(want) {
		t.Error("exported file differs from rendered output")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after export")
	}
}

func TestExportCanceledContext(t *testing.T) {
	e := NewExporter(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Export(ctx, sampleDetail()); err == nil {
		t.Error("Export() with canceled context succeeded, want error")
	}
}
