// Package template resolves the receivers of an alarm from named templates.
//
// The "default" template is applied first, then every template name tagged
// on the alarm in order. Receiver fields are replaced per field by the last
// template defining them; webhook URLs accumulate.
package template
