// Package minutes renders a meeting's ledger data to a static HTML document.
// Rendering is deterministic given identical input: the only clock involved
// is injectable, so golden-file tests can pin the output byte for byte.
package minutes

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/meetkit/meetbot/db"
	"github.com/meetkit/meetbot/telemetry"
)

// WordsPerMinute is the assumed conversational speaking rate used to
// estimate speaking time from word counts.
const WordsPerMinute = 150

// SpeakingTime estimates how long it takes to say a number of words.
func SpeakingTime(words int) time.Duration {
	return time.Duration(float64(words) / WordsPerMinute * float64(time.Minute)).Round(time.Second)
}

// Exporter writes HTML minutes into OutputDir. Now supplies the generation
// timestamp; it defaults to time.Now and is overridden in tests.
type Exporter struct {
	OutputDir string
	Now       func() time.Time
}

// NewExporter returns an exporter writing into dir.
func NewExporter(dir string) *Exporter {
	return &Exporter{OutputDir: dir, Now: time.Now}
}

// Filename returns the deterministic export path for a meeting: channel plus
// close timestamp, so repeated exports of the same meeting overwrite rather
// than collide.
func (e *Exporter) Filename(m db.Meeting) string {
	ts := m.StartedAt
	if m.EndedAt != nil {
		ts = *m.EndedAt
	}
	name := fmt.Sprintf("meeting_export_%s_%s.html", m.Channel, ts.UTC().Format("20060102_150405"))
	return filepath.Join(e.OutputDir, name)
}

// Export renders the meeting to HTML and writes it to OutputDir, returning
// the file path. The write goes through a temp file and rename so a crash
// never leaves a half-written export behind.
func (e *Exporter) Export(ctx context.Context, detail db.MeetingDetail) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var html []byte
	var err error
	telemetry.TimeFunc(telemetry.ExportDuration, func() {
		html, err = e.Render(detail)
	})
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := e.Filename(detail.Meeting)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, html, 0o644); err != nil {
		return "", fmt.Errorf("write minutes: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize minutes: %w", err)
	}
	return path, nil
}

// Render produces the HTML document without touching the filesystem.
func (e *Exporter) Render(detail db.MeetingDetail) ([]byte, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	data := buildPage(detail, now().UTC())
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render minutes: %w", err)
	}
	return buf.Bytes(), nil
}

type page struct {
	Channel     string
	Chair       string
	CoChairs    []string
	StartTime   string
	EndTime     string
	Duration    string
	Messages    []pageMessage
	ActionItems []pageAction
	Stats       []pageStat
	GeneratedAt string
}

type pageMessage struct {
	User      string
	Content   string
	Timestamp string
}

type pageAction struct {
	AssignedTo string
	Task       string
	Completed  bool
}

type pageStat struct {
	User         string
	Messages     int
	Words        int
	SpeakingTime string
}

func buildPage(detail db.MeetingDetail, generatedAt time.Time) page {
	m := detail.Meeting
	p := page{
		Channel:     m.Channel,
		Chair:       m.ChairID,
		CoChairs:    detail.CoChairs,
		StartTime:   m.StartedAt.UTC().Format("January 2, 2006 at 3:04 PM"),
		GeneratedAt: generatedAt.Format("January 2, 2006 at 3:04 PM MST"),
	}
	if m.EndedAt != nil {
		p.EndTime = m.EndedAt.UTC().Format("January 2, 2006 at 3:04 PM")
		p.Duration = formatDuration(m.EndedAt.Sub(m.StartedAt))
	}
	for _, msg := range detail.Messages {
		p.Messages = append(p.Messages, pageMessage{
			User:      msg.UserID,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt.UTC().Format("3:04 PM"),
		})
	}
	for _, a := range detail.ActionItems {
		p.ActionItems = append(p.ActionItems, pageAction{AssignedTo: a.AssignedTo, Task: a.Task, Completed: a.Completed})
	}
	for _, st := range detail.Stats {
		p.Stats = append(p.Stats, pageStat{
			User:         st.UserID,
			Messages:     st.MessageCount,
			Words:        st.WordCount,
			SpeakingTime: formatDuration(SpeakingTime(st.WordCount)),
		})
	}
	return p
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

var pageTemplate = template.Must(template.New("minutes").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Meeting Minutes - #{{.Channel}}</title>
    <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css" rel="stylesheet">
    <style>
        body { padding: 20px; background-color: #f8f9fa; }
        .section { background-color: #fff; border-radius: 10px; padding: 20px; margin-bottom: 20px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .section-title { color: #2c3e50; margin-bottom: 15px; border-bottom: 2px solid #e9ecef; padding-bottom: 10px; }
        .message-item { padding: 10px; border-bottom: 1px solid #e9ecef; }
        .message-item:last-child { border-bottom: none; }
        .message-user { font-weight: bold; color: #2c3e50; }
        .message-content { color: #495057; }
        .action-completed { color: #28a745; font-style: italic; }
        .timestamp { color: #6c757d; font-size: 0.9em; }
        .footer { color: #6c757d; font-size: 0.85em; }
    </style>
</head>
<body>
    <div class="container">
        <div class="section">
            <h1 class="section-title">Meeting Minutes</h1>
            <p><strong>Channel:</strong> <span class="badge bg-primary">#{{.Channel}}</span></p>
            <p><strong>Chair:</strong> {{.Chair}}</p>
{{- if .CoChairs}}
            <p><strong>Co-chairs:</strong> {{range $i, $u := .CoChairs}}{{if $i}}, {{end}}{{$u}}{{end}}</p>
{{- end}}
            <p><strong>Start Time:</strong> {{.StartTime}}</p>
{{- if .EndTime}}
            <p><strong>End Time:</strong> {{.EndTime}}</p>
            <p><strong>Duration:</strong> {{.Duration}}</p>
{{- end}}
        </div>
        <div class="section">
            <h2 class="section-title">Transcript</h2>
            <ul class="list-unstyled">
{{- range .Messages}}
                <li class="message-item">
                    <div class="d-flex justify-content-between align-items-start">
                        <div>
                            <span class="message-user">{{.User}}</span>
                            <span class="message-content">{{.Content}}</span>
                        </div>
                        <span class="timestamp">{{.Timestamp}}</span>
                    </div>
                </li>
{{- end}}
            </ul>
        </div>
{{- if .ActionItems}}
        <div class="section">
            <h2 class="section-title">Action Items</h2>
            <ul class="list-unstyled">
{{- range .ActionItems}}
                <li class="message-item">
                    <span class="message-user">{{.AssignedTo}}</span>
                    <span class="message-content{{if .Completed}} action-completed{{end}}">{{.Task}}{{if .Completed}} (Completed){{end}}</span>
                </li>
{{- end}}
            </ul>
        </div>
{{- end}}
{{- if .Stats}}
        <div class="section">
            <h2 class="section-title">Participation</h2>
            <table class="table table-striped">
                <thead>
                    <tr><th>User</th><th>Messages</th><th>Words</th><th>Est. Speaking Time</th></tr>
                </thead>
                <tbody>
{{- range .Stats}}
                    <tr><td>{{.User}}</td><td>{{.Messages}}</td><td>{{.Words}}</td><td>{{.SpeakingTime}}</td></tr>
{{- end}}
                </tbody>
            </table>
        </div>
{{- end}}
        <p class="footer">Generated {{.GeneratedAt}}</p>
    </div>
</body>
</html>
`))
