// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"fmt"
	"strings"
)

// Escapes recognized inside "cmd" and "errorcmd" templates.
// The "errorcmd" accept three more escapes for the capture file, the kind
// of exit, and the exit code or signal number.
const (
	cmdEscapes      = `ejor%`
	errorCmdEscapes = cmdEscapes + `sx?`
)

// substVars contains the values to be substituted into a command template.
// All values, except the file paths which are generated internally, have
// been validated against the name whitelist before they reach this point.
type substVars struct {
	event       string // %e
	payloadFile string // %j
	owner       string // %o
	repo        string // %r
	captureFile string // %s
	exitKind    string // %x: "status", "signal", or "unknown".
	exitCode    string // %?: exit code, signal number, or "unknown".
}

// validateEscapes check that every '%' in the template is followed by one
// of the allowed escape characters.
// A '%' at the end of template, or followed by an unknown character, is a
// configuration error.
func validateEscapes(tmpl, allowed string) (err error) {
	var (
		x int
		c byte
	)
	for x = 0; x < len(tmpl); x++ {
		c = tmpl[x]
		if c != '%' {
			continue
		}
		x++
		if x == len(tmpl) {
			return fmt.Errorf(`dangling '%%' at end of command`)
		}
		if strings.IndexByte(allowed, tmpl[x]) < 0 {
			return fmt.Errorf(`unknown escape '%%%c'`, tmpl[x])
		}
	}
	return nil
}

// expandCmd replace the escapes in template with their values.
// The template has been validated at configuration load, so an unknown
// escape here only happens on programming error and is kept verbatim.
func expandCmd(tmpl string, vars *substVars) string {
	var (
		sb strings.Builder

		x int
		c byte
	)
	for x = 0; x < len(tmpl); x++ {
		c = tmpl[x]
		if c != '%' || x == len(tmpl)-1 {
			sb.WriteByte(c)
			continue
		}
		x++
		switch tmpl[x] {
		case 'e':
			sb.WriteString(vars.event)
		case 'j':
			sb.WriteString(vars.payloadFile)
		case 'o':
			sb.WriteString(vars.owner)
		case 'r':
			sb.WriteString(vars.repo)
		case 's':
			sb.WriteString(vars.captureFile)
		case 'x':
			sb.WriteString(vars.exitKind)
		case '?':
			sb.WriteString(vars.exitCode)
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(tmpl[x])
		}
	}
	return sb.String()
}
