// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// githubHeaderSign256 the HTTP header where GitHub put the signature of
// request body.
const githubHeaderSign256 = `X-Hub-Signature-256`

const signPrefix = `sha256=`

// Sign generate hex string of HMAC-SHA-256 of payload using the secret.
func Sign(payload, secret []byte) (sign string) {
	var signer = hmac.New(sha256.New, secret)
	_, _ = signer.Write(payload)
	var bsign = signer.Sum(nil)
	sign = hex.EncodeToString(bsign)
	return sign
}

// parseSignature extract the raw MAC from the value of
// "X-Hub-Signature-256" header.
// The value must be in the format "sha256=" followed by exactly 64
// hexadecimal characters.
func parseSignature(header string) (mac []byte, err error) {
	var logp = `parseSignature`

	if !strings.HasPrefix(header, signPrefix) {
		return nil, fmt.Errorf(`%s: missing %q prefix`, logp, signPrefix)
	}

	var hexmac = strings.TrimPrefix(header, signPrefix)
	if len(hexmac) != sha256.Size*2 {
		return nil, fmt.Errorf(`%s: invalid signature length %d`, logp, len(hexmac))
	}

	mac, err = hex.DecodeString(hexmac)
	if err != nil {
		return nil, fmt.Errorf(`%s: %w`, logp, err)
	}
	return mac, nil
}

// authorize check the request signature against the repository secret.
//
// The rules are,
//
//   - secret set, signature missing: rejected.
//   - secret not set, signature present: rejected, to remind the operator
//     that one of the ends is not configured.
//   - both missing: accepted, with a warning logged once per request.
//   - both present: the payload is signed with the secret using
//     HMAC-SHA-256 and compared in constant time.
func authorize(key string, secret, sigHeader string, payload []byte) (err error) {
	if len(secret) == 0 {
		if len(sigHeader) != 0 {
			return &errSignatureRejected
		}
		logWarnf(`%s: no secret configured, request accepted without authentication`, key)
		return nil
	}

	if len(sigHeader) == 0 {
		return &errSignatureRejected
	}

	var gotMac []byte

	gotMac, err = parseSignature(sigHeader)
	if err != nil {
		return &errSignatureRejected
	}

	var signer = hmac.New(sha256.New, []byte(secret))
	_, _ = signer.Write(payload)
	var expMac = signer.Sum(nil)

	if !hmac.Equal(expMac, gotMac) {
		return &errSignatureRejected
	}
	return nil
}
