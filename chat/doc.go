// Package chat is the bot's front end on Twitch IRC.
//
// StartBot connects an IRC client for the configured channels, reduces every
// PRIVMSG to a meeting.Intent, and hands it to the per-channel dispatcher.
// Replies come back through the same client. The package knows nothing about
// meeting semantics beyond the Intent type; all command handling lives in the
// meeting package.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes. If TWITCH_OAUTH_TOKEN is not provided, the
// package will try to reuse a stored token from the oauth_tokens table for
// provider "twitch".
package chat
