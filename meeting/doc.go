// Package meeting contains the session core of the bot: the Intent type that
// all transports normalize into, the command handlers that map an Intent plus
// current session state to a ledger mutation and a reply, and the per-channel
// dispatcher that serializes command handling.
//
// Session state per channel is either "no meeting" or one open meeting row
// (chair plus co-chairs). The state itself lives in the ledger store; the
// handlers read it fresh on every command, so a restart loses nothing. The
// dispatcher guarantees that commands for one channel are handled one at a
// time, making explicit the serial-delivery assumption the chat transport
// would otherwise provide implicitly.
package meeting
