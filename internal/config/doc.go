// Package config defines the relay configuration and provides helpers to
// load and validate it from a single YAML file.
//
// The file has four sections: general (incident timeout, source priority,
// log and listen settings), notifiers (the outbound targets), sources (mail
// and serial inputs) and templates (named receiver bundles with a mandatory
// "default").
package config
