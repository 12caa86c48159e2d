// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"testing"

	"git.sr.ht/~shulhan/pakakeh.go/lib/test"
)

func TestValidateEscapes(t *testing.T) {
	type testCase struct {
		desc     string
		tmpl     string
		allowed  string
		expError string
	}

	var cases = []testCase{{
		desc:    `all cmd escapes`,
		tmpl:    `run %e %j %o %r 100%%`,
		allowed: cmdEscapes,
	}, {
		desc:    `all errorcmd escapes`,
		tmpl:    `mail %s %x %? %e`,
		allowed: errorCmdEscapes,
	}, {
		desc:     `errorcmd escape in cmd`,
		tmpl:     `run %x`,
		allowed:  cmdEscapes,
		expError: `unknown escape '%x'`,
	}, {
		desc:     `dangling percent`,
		tmpl:     `run 100%`,
		allowed:  cmdEscapes,
		expError: `dangling '%' at end of command`,
	}, {
		desc:    `no escapes`,
		tmpl:    `make deploy`,
		allowed: cmdEscapes,
	}}

	var c testCase

	for _, c = range cases {
		var err = validateEscapes(c.tmpl, c.allowed)

		var gotError string
		if err != nil {
			gotError = err.Error()
		}

		test.Assert(t, c.desc, c.expError, gotError)
	}
}

func TestExpandCmd(t *testing.T) {
	var vars = substVars{
		event:       `push`,
		payloadFile: `/tmp/snare-payload-1`,
		owner:       `org`,
		repo:        `website`,
		captureFile: `/tmp/snare-out-1`,
		exitKind:    ExitKindSignal,
		exitCode:    `15`,
	}

	type testCase struct {
		desc string
		tmpl string
		exp  string
	}

	var cases = []testCase{{
		desc: `cmd escapes`,
		tmpl: `deploy %o/%r %e < %j`,
		exp:  `deploy org/website push < /tmp/snare-payload-1`,
	}, {
		desc: `errorcmd escapes`,
		tmpl: `notify %x:%? %s`,
		exp:  `notify signal:15 /tmp/snare-out-1`,
	}, {
		desc: `literal percent`,
		tmpl: `nice -n 10%% %r`,
		exp:  `nice -n 10% website`,
	}, {
		desc: `no escapes`,
		tmpl: `make`,
		exp:  `make`,
	}}

	var c testCase

	for _, c = range cases {
		test.Assert(t, c.desc, c.exp, expandCmd(c.tmpl, &vars))
	}
}
