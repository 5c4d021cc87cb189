package chat

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/meetkit/meetbot/config"
	"github.com/meetkit/meetbot/db"
	"github.com/meetkit/meetbot/meeting"
)

// StartBot connects to Twitch IRC, normalizes channel messages into intents,
// and dispatches them. It blocks until the context is canceled or the
// connection fails permanently.
func StartBot(ctx context.Context, database *sql.DB, cfg *config.Config, handler *meeting.Handler) {
	token := cfg.OAuthToken
	if token == "" {
		// Fall back to a stored token (kept fresh by the oauth refresher).
		access, _, _, _, err := db.GetOAuthToken(ctx, database, "twitch")
		if err != nil || access == "" {
			slog.Info("chat bot disabled: no oauth token configured or stored")
			return
		}
		token = access
		if !strings.HasPrefix(token, "oauth:") {
			token = "oauth:" + token
		}
	}
	if cfg.BotUsername == "" || len(cfg.Channels) == 0 {
		slog.Info("chat bot disabled: missing bot username or channels")
		return
	}

	client := twitch.NewClient(cfg.BotUsername, token)
	dispatcher := meeting.NewDispatcher(handler, func(channel, text string) {
		client.Say(channel, text)
	})

	botName := strings.ToLower(cfg.BotUsername)
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		// Don't record or react to the bot's own replies.
		if strings.EqualFold(msg.User.Name, botName) {
			return
		}
		at := msg.Time
		if at.IsZero() {
			at = time.Now().UTC()
		}
		in := meeting.ParseMessage(msg.Channel, msg.User.Name, msg.Message, at)
		dispatcher.Submit(ctx, in)
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			slog.Debug("twitch disconnect", slog.Any("err", err))
		}
		close(done)
	}()

	for _, ch := range cfg.Channels {
		client.Join(ch)
	}
	slog.Info("chat bot connecting", slog.Any("channels", cfg.Channels), slog.String("bot", cfg.BotUsername))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
	dispatcher.Wait()
}
