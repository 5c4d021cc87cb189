package meeting

import (
	"regexp"
	"strings"
	"time"
)

// Kind identifies what a normalized chat event asks the bot to do.
type Kind int

const (
	// KindRecord is any ordinary channel message: recorded into the
	// transcript while a meeting is open, silently ignored otherwise.
	KindRecord Kind = iota
	KindMeetingStart
	KindMeetingEnd
	KindMeetingStatus
	KindSetChair
	KindAddCoChair
	KindActionItem
	KindActionList
	KindStats
	KindExport
	KindKarmaGive
	KindKarmaList
	KindHelp
	// KindInvalid is a recognized command prefix with arguments the parser
	// could not make sense of; Hint carries the usage reply.
	KindInvalid
)

// Intent is the canonical, transport-independent form of one chat event.
// Both free-text prefixed commands and structured slash payloads reduce to
// this shape, so the handlers never see transport-specific records.
type Intent struct {
	Kind    Kind
	Channel string
	UserID  string
	// Target is the mentioned user for chair/cochair/action/karma commands.
	Target string
	// Text is the message content for KindRecord and the task description
	// for KindActionItem.
	Text string
	// Hint is the usage reply for KindInvalid.
	Hint string
	At   time.Time
}

var (
	karmaBareRe = regexp.MustCompile(`^@?(\w+)\s*\+\+$`)
	karmaCmdRe  = regexp.MustCompile(`(?i)^!karma\s+@?(\w+)\s*\+\+$`)
	mentionRe   = regexp.MustCompile(`^@?(\w+)$`)
)

// normalizeUser canonicalizes a mentioned login. Twitch logins are
// case-insensitive and delivered lowercase by the transport, so mentions must
// be folded the same way or @Alice and alice would be treated as two users.
func normalizeUser(name string) string {
	return strings.ToLower(name)
}

// ParseMessage normalizes one free-text channel message into an Intent.
// Messages that are not bot commands come back as KindRecord.
func ParseMessage(channel, userID, text string, at time.Time) Intent {
	in := Intent{Kind: KindRecord, Channel: channel, UserID: userID, Text: text, At: at}
	trimmed := strings.TrimSpace(text)

	if m := karmaBareRe.FindStringSubmatch(trimmed); m != nil {
		in.Kind = KindKarmaGive
		in.Target = normalizeUser(m[1])
		return in
	}
	if !strings.HasPrefix(trimmed, "!") {
		return in
	}

	fields := strings.Fields(trimmed)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "!meeting":
		if len(args) == 0 {
			return invalid(in, "Usage: !meeting start | end | status")
		}
		switch strings.ToLower(args[0]) {
		case "start":
			in.Kind = KindMeetingStart
		case "end":
			in.Kind = KindMeetingEnd
		case "status":
			in.Kind = KindMeetingStatus
		default:
			return invalid(in, "Invalid command. Use 'start', 'end', or 'status'.")
		}
	case "!chair":
		return mentionCommand(in, args, KindSetChair, "Usage: !chair @user")
	case "!cochair":
		return mentionCommand(in, args, KindAddCoChair, "Usage: !cochair @user")
	case "!action":
		if len(args) == 0 {
			return invalid(in, "Usage: !action @user task, or !action list")
		}
		if len(args) == 1 && strings.EqualFold(args[0], "list") {
			in.Kind = KindActionList
			return in
		}
		m := mentionRe.FindStringSubmatch(args[0])
		if m == nil || len(args) < 2 {
			return invalid(in, "Usage: !action @user task")
		}
		in.Kind = KindActionItem
		in.Target = normalizeUser(m[1])
		in.Text = strings.TrimSpace(strings.Join(args[1:], " "))
	case "!stats":
		in.Kind = KindStats
	case "!export":
		in.Kind = KindExport
	case "!karma":
		if len(args) == 0 || (len(args) == 1 && strings.EqualFold(args[0], "list")) {
			in.Kind = KindKarmaList
			return in
		}
		if m := karmaCmdRe.FindStringSubmatch(trimmed); m != nil {
			in.Kind = KindKarmaGive
			in.Target = normalizeUser(m[1])
			return in
		}
		return invalid(in, "Usage: !karma @user++, or !karma list")
	case "!help":
		in.Kind = KindHelp
	default:
		// Unknown bang-prefixed text is still meeting chatter.
		in.Kind = KindRecord
	}
	return in
}

func mentionCommand(in Intent, args []string, kind Kind, usage string) Intent {
	if len(args) != 1 {
		return invalid(in, usage)
	}
	m := mentionRe.FindStringSubmatch(args[0])
	if m == nil {
		return invalid(in, usage)
	}
	in.Kind = kind
	in.Target = normalizeUser(m[1])
	return in
}

func invalid(in Intent, hint string) Intent {
	in.Kind = KindInvalid
	in.Hint = hint
	return in
}
