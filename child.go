// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// List of exit kinds as reported to errorcmd through "%x".
const (
	ExitKindStatus  = `status`
	ExitKindSignal  = `signal`
	ExitKindUnknown = `unknown`
)

const (
	childEnvEvent   = `SNARE_EVENT`
	childEnvOwner   = `SNARE_OWNER`
	childEnvPayload = `SNARE_PAYLOAD`
	childEnvRepo    = `SNARE_REPO`
)

// liveChild is a spawned OS process that has not been reaped yet.
// It owns its working directory and, for a primary child, the capture
// file; both are removed by cleanup.
type liveChild struct {
	job *Job
	cmd *exec.Cmd

	workDir     string
	captureFile string

	// primaryCapture, set only on errorcmd children, is the capture
	// file of the failed child it was spawned for, removed once the
	// errorcmd finished.
	primaryCapture string

	// deadline is when the process group gets SIGTERM.
	// Zero means no timeout (errorcmd children).
	deadline time.Time

	// killAt, when set after SIGTERM was sent, is when the process
	// group gets SIGKILL.
	killAt time.Time

	pid        int
	isErrorCmd bool
	termSent   bool
}

// childExit is the reaping notification sent by the waiter goroutine to
// the scheduler.
type childExit struct {
	state *os.ProcessState
	err   error
	pid   int
}

// shellPath return $SHELL, or "/bin/sh" if unset.
func shellPath() string {
	var shell = os.Getenv(`SHELL`)
	if len(shell) == 0 {
		shell = `/bin/sh`
	}
	return shell
}

// spawnChild run cmdline under the shell in a fresh working directory, in
// its own session (and so its own process group), with stdout and stderr
// combined into a capture file.
// The process exit is delivered on exitq by a waiter goroutine.
func spawnChild(job *Job, cmdline string, isErrorCmd bool, exitq chan<- childExit) (child *liveChild, err error) {
	var logp = `spawnChild`

	child = &liveChild{
		job:        job,
		isErrorCmd: isErrorCmd,
	}

	child.workDir, err = os.MkdirTemp(``, `snare-work-`+job.ID+`-*`)
	if err != nil {
		return nil, fmt.Errorf(`%s: %w`, logp, err)
	}

	var capture *os.File

	capture, err = os.CreateTemp(``, `snare-out-`+job.ID+`-*`)
	if err != nil {
		_ = os.RemoveAll(child.workDir)
		return nil, fmt.Errorf(`%s: %w`, logp, err)
	}
	child.captureFile = capture.Name()

	var shell = shellPath()

	child.cmd = &exec.Cmd{
		Path:   shell,
		Dir:    child.workDir,
		Args:   []string{shell, `-c`, cmdline},
		Env:    childEnvs(job),
		Stdout: capture,
		Stderr: capture,
		SysProcAttr: &syscall.SysProcAttr{
			Setsid: true,
		},
	}

	err = child.cmd.Start()

	// The child has its own descriptors after Start.
	_ = capture.Close()

	if err != nil {
		child.cleanup()
		return nil, fmt.Errorf(`%s: %w`, logp, err)
	}

	child.pid = child.cmd.Process.Pid

	go func() {
		var werr = child.cmd.Wait()
		exitq <- childExit{
			pid:   child.pid,
			state: child.cmd.ProcessState,
			err:   werr,
		}
	}()

	return child, nil
}

func childEnvs(job *Job) (env []string) {
	env = os.Environ()
	env = append(env, childEnvEvent+`=`+job.Event)
	env = append(env, childEnvOwner+`=`+job.Owner)
	env = append(env, childEnvRepo+`=`+job.Repo)
	env = append(env, childEnvPayload+`=`+job.PayloadFile)
	return env
}

// terminate send SIGTERM to the child's process group.
func (child *liveChild) terminate() {
	child.termSent = true
	var err = syscall.Kill(-child.pid, syscall.SIGTERM)
	if err != nil {
		logErrf(`job %s: SIGTERM pid %d: %s`, child.job.ID, child.pid, err)
	}
}

// kill send SIGKILL to the child's process group.
func (child *liveChild) kill() {
	var err = syscall.Kill(-child.pid, syscall.SIGKILL)
	if err != nil {
		logErrf(`job %s: SIGKILL pid %d: %s`, child.job.ID, child.pid, err)
	}
}

// cleanup remove the working directory and the capture file.
func (child *liveChild) cleanup() {
	var err = os.RemoveAll(child.workDir)
	if err != nil {
		logErrf(`job %s: %s`, child.job.ID, err)
	}
	if len(child.captureFile) != 0 {
		err = os.Remove(child.captureFile)
		if err != nil && !os.IsNotExist(err) {
			logErrf(`job %s: %s`, child.job.ID, err)
		}
	}
}

// classifyExit report how the child ended: by exit status, by signal, or
// unknown.
// The code is the exit status or the signal number as a string, matching
// the "%?" escape of errorcmd.
func classifyExit(state *os.ProcessState) (kind, code string) {
	if state == nil {
		return ExitKindUnknown, ExitKindUnknown
	}

	var ws, ok = state.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitKindUnknown, ExitKindUnknown
	}

	if ws.Exited() {
		return ExitKindStatus, strconv.Itoa(ws.ExitStatus())
	}
	if ws.Signaled() {
		return ExitKindSignal, strconv.Itoa(int(ws.Signal()))
	}
	return ExitKindUnknown, ExitKindUnknown
}
