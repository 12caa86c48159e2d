// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"strings"
	"testing"

	"git.sr.ht/~shulhan/pakakeh.go/lib/test"
)

func TestAuthorize(t *testing.T) {
	var (
		payload = []byte(`{"repository":{"full_name":"org/website"}}`)
		secret  = `s3cret`
		sign    = Sign(payload, []byte(secret))
	)

	// Flip one bit in the last hex digit.
	var (
		hexDigits = `0123456789abcdef`
		flipped   = []byte(sign)
		last      = strings.IndexByte(hexDigits, flipped[len(flipped)-1])
	)
	flipped[len(flipped)-1] = hexDigits[last^1]

	type testCase struct {
		desc     string
		secret   string
		header   string
		expError string
	}

	var cases = []testCase{{
		desc:   `valid signature`,
		secret: secret,
		header: signPrefix + sign,
	}, {
		desc:     `one bit flipped`,
		secret:   secret,
		header:   signPrefix + string(flipped),
		expError: errSignatureRejected.Error(),
	}, {
		desc:     `signature missing with secret configured`,
		secret:   secret,
		expError: errSignatureRejected.Error(),
	}, {
		desc:     `signature present without secret configured`,
		header:   signPrefix + sign,
		expError: errSignatureRejected.Error(),
	}, {
		desc: `no secret, no signature`,
	}, {
		desc:     `missing prefix`,
		secret:   secret,
		header:   sign,
		expError: errSignatureRejected.Error(),
	}, {
		desc:     `truncated signature`,
		secret:   secret,
		header:   signPrefix + sign[:40],
		expError: errSignatureRejected.Error(),
	}, {
		desc:     `non-hex signature`,
		secret:   secret,
		header:   signPrefix + `zz` + sign[2:],
		expError: errSignatureRejected.Error(),
	}, {
		desc:     `signed with different secret`,
		secret:   `other`,
		header:   signPrefix + sign,
		expError: errSignatureRejected.Error(),
	}}

	var c testCase

	for _, c = range cases {
		var err = authorize(`org/website`, c.secret, c.header, payload)

		var gotError string
		if err != nil {
			gotError = err.Error()
		}

		test.Assert(t, c.desc, c.expError, gotError)
	}
}

func TestSign(t *testing.T) {
	// Known HMAC-SHA-256 test value: key "key", message
	// "The quick brown fox jumps over the lazy dog".
	var sign = Sign([]byte(`The quick brown fox jumps over the lazy dog`), []byte(`key`))

	test.Assert(t, `Sign`,
		`f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8`,
		sign)
}
