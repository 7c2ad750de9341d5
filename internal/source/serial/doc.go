// Package serial reads pager (DME) frames from a serial receiver and turns
// them into alarms.
//
// Bytes are accumulated until the buffer ends with the configured delimiter,
// decoded from the receiver's single-byte charset and split into lines: the
// first three are the date, the radio identifier (RIC) and the message.
package serial
