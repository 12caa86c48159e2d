// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"git.sr.ht/~shulhan/pakakeh.go/lib/mlog"
)

// Verbosity levels.
// Errors are always logged; warnings require at least LogWarning; info
// requires LogInfo.
const (
	LogError = iota
	LogWarning
	LogInfo
)

var logVerbosity = LogError

// SetVerbosity set the global log verbosity, usually from the number of
// "-v" options on the command line.
func SetVerbosity(v int) {
	if v > LogInfo {
		v = LogInfo
	}
	logVerbosity = v
}

func logErrf(format string, args ...any) {
	mlog.Errf(format, args...)
}

func logWarnf(format string, args ...any) {
	if logVerbosity >= LogWarning {
		mlog.Outf(format, args...)
	}
}

func logInfof(format string, args ...any) {
	if logVerbosity >= LogInfo {
		mlog.Outf(format, args...)
	}
}
