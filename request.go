// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"encoding/json"
	"regexp"
	"strings"

	libhttp "git.sr.ht/~shulhan/pakakeh.go/lib/http"
)

// githubHeaderEvent the HTTP header that contains the event name.
const githubHeaderEvent = `X-GitHub-Event`

// maxPayloadSize limit the size of request body that will be accepted.
const maxPayloadSize = 1 << 20

// nameRegex is the whitelist for every externally-derived string that may
// end up inside a shell command: the event name, the owner, and the
// repository name.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validName is true when s matches the whitelist and is neither "." nor
// "..".
func validName(s string) bool {
	if s == `.` || s == `..` {
		return false
	}
	return nameRegex.MatchString(s)
}

// webhookRequest is a validated, not yet authenticated, webhook delivery.
type webhookRequest struct {
	owner     string
	repo      string
	event     string
	signature string
	payload   []byte
}

func (req *webhookRequest) key() string {
	return req.owner + `/` + req.repo
}

// parseWebhookRequest validate the delivery and extract the fields the
// daemon needs: the event name from the header and "repository.full_name"
// from the JSON body.
// A body larger than maxPayloadSize returns errPayloadTooLarge; any other
// violation returns errPayloadMalformed; nothing from a rejected request is
// ever passed to a shell.
func parseWebhookRequest(epr *libhttp.EndpointRequest) (req *webhookRequest, err error) {
	if len(epr.RequestBody) > maxPayloadSize {
		return nil, &errPayloadTooLarge
	}

	req = &webhookRequest{
		event:     epr.HttpRequest.Header.Get(githubHeaderEvent),
		signature: epr.HttpRequest.Header.Get(githubHeaderSign256),
		payload:   epr.RequestBody,
	}

	if !validName(req.event) {
		return nil, &errPayloadMalformed
	}

	if len(req.signature) != 0 {
		_, err = parseSignature(req.signature)
		if err != nil {
			return nil, &errPayloadMalformed
		}
	}

	var body struct {
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}

	err = json.Unmarshal(epr.RequestBody, &body)
	if err != nil {
		return nil, &errPayloadMalformed
	}

	var owner, repo, found = strings.Cut(body.Repository.FullName, `/`)
	if !found || strings.Contains(repo, `/`) {
		return nil, &errPayloadMalformed
	}
	if !validName(owner) || !validName(repo) {
		return nil, &errPayloadMalformed
	}

	req.owner = owner
	req.repo = repo

	return req, nil
}
