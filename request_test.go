// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"net/http/httptest"
	"strings"
	"testing"

	libhttp "git.sr.ht/~shulhan/pakakeh.go/lib/http"
	"git.sr.ht/~shulhan/pakakeh.go/lib/test"
)

func TestValidName(t *testing.T) {
	type testCase struct {
		name string
		exp  bool
	}

	var cases = []testCase{
		{`push`, true},
		{`a.b-_`, true},
		{`A9`, true},
		{`.`, false},
		{`..`, false},
		{`...`, true},
		{``, false},
		{`a b`, false},
		{`a/b`, false},
		{`a;rm -rf`, false},
		{"a\n", false},
		{`$HOME`, false},
	}

	var c testCase

	for _, c = range cases {
		test.Assert(t, c.name, c.exp, validName(c.name))
	}
}

func newTestRequest(event, sign, body string) (epr *libhttp.EndpointRequest) {
	var httpReq = httptest.NewRequest(`POST`, `/`, strings.NewReader(body))
	if len(event) != 0 {
		httpReq.Header.Set(githubHeaderEvent, event)
	}
	if len(sign) != 0 {
		httpReq.Header.Set(githubHeaderSign256, sign)
	}
	return &libhttp.EndpointRequest{
		HttpRequest: httpReq,
		RequestBody: []byte(body),
	}
}

func TestParseWebhookRequest(t *testing.T) {
	var validSign = signPrefix + Sign([]byte(`x`), []byte(`k`))

	type testCase struct {
		desc     string
		event    string
		sign     string
		body     string
		expError string
		expOwner string
		expRepo  string
	}

	var cases = []testCase{{
		desc:     `valid`,
		event:    `push`,
		body:     `{"repository":{"full_name":"org/website"}}`,
		expOwner: `org`,
		expRepo:  `website`,
	}, {
		desc:     `valid with signature`,
		event:    `push`,
		sign:     validSign,
		body:     `{"repository":{"full_name":"org/website"}}`,
		expOwner: `org`,
		expRepo:  `website`,
	}, {
		desc:     `whitelist boundary`,
		event:    `a.b-_`,
		body:     `{"repository":{"full_name":"a.b-_/x.y-_"}}`,
		expOwner: `a.b-_`,
		expRepo:  `x.y-_`,
	}, {
		desc:     `missing event header`,
		body:     `{"repository":{"full_name":"org/website"}}`,
		expError: errPayloadMalformed.Error(),
	}, {
		desc:     `event with shell metacharacters`,
		event:    `push;reboot`,
		body:     `{"repository":{"full_name":"org/website"}}`,
		expError: errPayloadMalformed.Error(),
	}, {
		desc:     `body not JSON`,
		event:    `push`,
		body:     `full_name=org/website`,
		expError: errPayloadMalformed.Error(),
	}, {
		desc:     `missing repository`,
		event:    `push`,
		body:     `{}`,
		expError: errPayloadMalformed.Error(),
	}, {
		desc:     `full name without slash`,
		event:    `push`,
		body:     `{"repository":{"full_name":"website"}}`,
		expError: errPayloadMalformed.Error(),
	}, {
		desc:     `full name with two slashes`,
		event:    `push`,
		body:     `{"repository":{"full_name":"org/web/site"}}`,
		expError: errPayloadMalformed.Error(),
	}, {
		desc:     `dot-dot owner`,
		event:    `push`,
		body:     `{"repository":{"full_name":"../website"}}`,
		expError: errPayloadMalformed.Error(),
	}, {
		desc:     `dot repo`,
		event:    `push`,
		body:     `{"repository":{"full_name":"org/."}}`,
		expError: errPayloadMalformed.Error(),
	}, {
		desc:     `malformed signature header`,
		event:    `push`,
		sign:     `sha256=nothex`,
		body:     `{"repository":{"full_name":"org/website"}}`,
		expError: errPayloadMalformed.Error(),
	}}

	var c testCase

	for _, c = range cases {
		var req, err = parseWebhookRequest(newTestRequest(c.event, c.sign, c.body))

		var gotError string
		if err != nil {
			gotError = err.Error()
		}

		test.Assert(t, c.desc+` error`, c.expError, gotError)

		if err != nil {
			continue
		}

		test.Assert(t, c.desc+` owner`, c.expOwner, req.owner)
		test.Assert(t, c.desc+` repo`, c.expRepo, req.repo)
		test.Assert(t, c.desc+` key`, c.expOwner+`/`+c.expRepo, req.key())
	}
}
