// Package mail watches an IMAP mailbox for dispatch mails and turns accepted
// messages into alarms.
//
// A Listener runs up to two producer loops, each on its own IMAP session:
//   - the push loop waits in IDLE (bounded, re-armed after every event or
//     timeout) and fetches the newest message when the server announces one,
//   - the poll loop searches UNSEEN messages on a fixed interval and fetches
//     the ones it has not handled yet.
//
// Both feed one unbounded raw-message queue drained by a single consumer,
// which parses MIME, drops repeats through a three-entry fingerprint window,
// applies the subject/sender/age filter and hands the bodies to the body
// parser of the configured schema.
package mail
