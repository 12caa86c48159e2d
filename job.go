// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Job is one accepted webhook delivery waiting to run, or running, the
// repository command.
// The Job owns its payload file; removePayload must be called exactly once,
// either after the command (and its errorcmd) terminated or when the Job is
// evicted before running.
type Job struct {
	// ID is unique per delivery, used in log lines and temporary file
	// names.
	ID string

	Owner string
	Repo  string
	Event string

	// Key is "owner/repo", the queueing key.
	Key string

	// PayloadFile is the path of the temporary file holding the raw
	// request body.
	// The path contains no shell metacharacters.
	PayloadFile string

	// Settings is the folded per-repository settings at the time the
	// request was accepted.
	// A configuration reload does not change it.
	Settings Settings

	SubmitTime time.Time
}

// newJob persist the request payload to a temporary file and wrap it,
// together with the effective settings, into a Job.
func newJob(req *webhookRequest, set Settings) (job *Job, err error) {
	var logp = `newJob`

	job = &Job{
		ID:         uuid.NewString(),
		Owner:      req.owner,
		Repo:       req.repo,
		Event:      req.event,
		Key:        req.key(),
		Settings:   set,
		SubmitTime: time.Now(),
	}

	var f *os.File

	f, err = os.CreateTemp(``, `snare-payload-`+job.ID+`-*`)
	if err != nil {
		return nil, fmt.Errorf(`%s: %w`, logp, err)
	}

	_, err = f.Write(req.payload)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf(`%s: %w`, logp, err)
	}

	err = f.Close()
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf(`%s: %w`, logp, err)
	}

	job.PayloadFile = f.Name()

	return job, nil
}

// removePayload delete the payload file.
func (job *Job) removePayload() {
	if len(job.PayloadFile) == 0 {
		return
	}
	var err = os.Remove(job.PayloadFile)
	if err != nil && !os.IsNotExist(err) {
		logErrf(`job %s: %s`, job.ID, err)
	}
	job.PayloadFile = ``
}
