// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"os"
	"testing"
	"time"

	"git.sr.ht/~shulhan/pakakeh.go/lib/test"
)

func TestSpawnChild(t *testing.T) {
	var job = &Job{
		ID:    `t1`,
		Owner: `org`,
		Repo:  `website`,
		Event: `push`,
		Key:   `org/website`,
	}

	var exitq = make(chan childExit, 1)

	var child, err = spawnChild(job, `echo "$SNARE_OWNER/$SNARE_REPO" "$SNARE_EVENT"`, false, exitq)
	if err != nil {
		t.Fatal(err)
	}

	var ex childExit
	select {
	case ex = <-exitq:
	case <-time.After(10 * time.Second):
		t.Fatal(`child did not exit`)
	}

	test.Assert(t, `pid`, child.pid, ex.pid)

	var kind, code = classifyExit(ex.state)
	test.Assert(t, `kind`, ExitKindStatus, kind)
	test.Assert(t, `code`, `0`, code)

	// The environment of the job is visible inside the command and its
	// combined output went to the capture file.
	var content []byte
	content, err = os.ReadFile(child.captureFile)
	if err != nil {
		t.Fatal(err)
	}
	test.Assert(t, `capture`, "org/website push\n", string(content))

	child.cleanup()

	_, err = os.Stat(child.workDir)
	test.Assert(t, `workdir removed`, true, os.IsNotExist(err))
	_, err = os.Stat(child.captureFile)
	test.Assert(t, `capture removed`, true, os.IsNotExist(err))
}

func TestClassifyExit(t *testing.T) {
	type testCase struct {
		desc    string
		cmdline string
		expKind string
		expCode string
	}

	var cases = []testCase{{
		desc:    `success`,
		cmdline: `true`,
		expKind: ExitKindStatus,
		expCode: `0`,
	}, {
		desc:    `non-zero status`,
		cmdline: `exit 7`,
		expKind: ExitKindStatus,
		expCode: `7`,
	}, {
		desc:    `killed by signal`,
		cmdline: `kill -TERM $$; sleep 5`,
		expKind: ExitKindSignal,
		expCode: `15`,
	}}

	var (
		job = &Job{
			ID:  `t2`,
			Key: `org/website`,
		}

		c testCase
	)

	for _, c = range cases {
		var exitq = make(chan childExit, 1)

		var child, err = spawnChild(job, c.cmdline, false, exitq)
		if err != nil {
			t.Fatal(err)
		}

		var ex childExit
		select {
		case ex = <-exitq:
		case <-time.After(10 * time.Second):
			t.Fatalf(`%s: child did not exit`, c.desc)
		}

		var kind, code = classifyExit(ex.state)
		test.Assert(t, c.desc+` kind`, c.expKind, kind)
		test.Assert(t, c.desc+` code`, c.expCode, code)

		child.cleanup()
	}
}

func TestClassifyExit_unknown(t *testing.T) {
	var kind, code = classifyExit(nil)
	test.Assert(t, `kind`, ExitKindUnknown, kind)
	test.Assert(t, `code`, ExitKindUnknown, code)
}
