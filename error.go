// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"net/http"

	liberrors "git.sr.ht/~shulhan/pakakeh.go/lib/errors"
)

// List of errors returned by the webhook endpoint.
var (
	errPayloadMalformed = liberrors.E{
		Code:    http.StatusBadRequest,
		Name:    `ERR_PAYLOAD_MALFORMED`,
		Message: `malformed request`,
	}

	errPayloadTooLarge = liberrors.E{
		Code:    http.StatusRequestEntityTooLarge,
		Name:    `ERR_PAYLOAD_TOO_LARGE`,
		Message: `payload too large`,
	}

	errSignatureRejected = liberrors.E{
		Code:    http.StatusUnauthorized,
		Name:    `ERR_SIGNATURE_REJECTED`,
		Message: `signature rejected`,
	}

	errNoCommand = liberrors.E{
		Code:    http.StatusBadRequest,
		Name:    `ERR_NO_COMMAND`,
		Message: `no command configured for repository`,
	}

	errQueueFull = liberrors.E{
		Code:    http.StatusServiceUnavailable,
		Name:    `ERR_QUEUE_FULL`,
		Message: `queue full, try again later`,
	}

	errInternal = liberrors.E{
		Code:    http.StatusInternalServerError,
		Name:    `ERR_INTERNAL`,
		Message: `internal server error`,
	}
)
