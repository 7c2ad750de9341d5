// Package logger wraps zap to offer:
//   - a global sugared logger with a console or JSON encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Listeners, the processor and the notifiers receive a context and extract the
// logger from it, so every line carries the source or target it belongs to.
package logger
