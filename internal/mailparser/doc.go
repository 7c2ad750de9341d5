// Package mailparser turns the bodies of accepted dispatch mails into alarm
// fields.
//
// Parsers are selected by the schema identifier of the mail source. A parser
// fills the alarm it receives and returns a short summary for the log; it
// must report malformed input as an error and never panic.
package mailparser
