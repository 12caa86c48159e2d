// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"os"
	"time"
)

const (
	// submitQueueSize bound the handoff channel between the HTTP
	// server and the scheduler; a full channel means 503.
	submitQueueSize = 64

	// shutdownGrace is how long Stop waits for running children after
	// sending SIGTERM, before SIGKILL.
	shutdownGrace = 10 * time.Second

	// reapGrace is how long Stop keeps reaping after SIGKILL.
	reapGrace = 2 * time.Second
)

// submission pair a Job with the channel where the admission result is
// reported back to the HTTP handler.
type submission struct {
	job  *Job
	resq chan error
}

// Scheduler owns all queueing state: the per-repository queues, the global
// admission FIFO, and the set of live children.
// Every field below is touched only by the loop goroutine; the HTTP server
// communicates through submitq and the per-child waiter goroutines through
// exitq.
type Scheduler struct {
	queues   map[string]*repoQueue
	children map[int]*liveChild

	submitq chan submission
	exitq   chan childExit
	stopq   chan struct{}
	doneq   chan struct{}

	// admitq is the FIFO of jobs that are ready to run but wait for a
	// free pool slot.
	admitq []*Job

	// numRunning count the primary children holding a pool slot,
	// including those between admission and a successful spawn.
	numRunning int

	maxJobs int
}

func newScheduler(maxJobs int) (sch *Scheduler) {
	sch = &Scheduler{
		queues:   make(map[string]*repoQueue),
		children: make(map[int]*liveChild),
		submitq:  make(chan submission, submitQueueSize),
		exitq:    make(chan childExit, 1),
		stopq:    make(chan struct{}),
		doneq:    make(chan struct{}),
		maxJobs:  maxJobs,
	}
	return sch
}

func (sch *Scheduler) start() {
	go sch.loop()
}

// stop make the scheduler terminate its children and return once the loop
// has finished.
func (sch *Scheduler) stop() {
	close(sch.stopq)
	<-sch.doneq
}

// submit hand a job over to the scheduler and wait for the admission
// decision.
// It returns errQueueFull when the handoff channel or the repository's
// pending list is full.
func (sch *Scheduler) submit(job *Job) (err error) {
	var sub = submission{
		job:  job,
		resq: make(chan error, 1),
	}

	select {
	case sch.submitq <- sub:
	default:
		return &errQueueFull
	}

	select {
	case err = <-sub.resq:
	case <-sch.doneq:
		err = &errQueueFull
	}
	return err
}

func (sch *Scheduler) loop() {
	var timer = time.NewTimer(time.Hour)
	timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}

		var timerq <-chan time.Time

		var earliest = sch.earliestDeadline()
		if !earliest.IsZero() {
			timer.Reset(time.Until(earliest))
			timerq = timer.C
		}

		select {
		case sub := <-sch.submitq:
			sub.resq <- sch.handleSubmit(sub.job)

		case ex := <-sch.exitq:
			sch.handleExit(ex)

		case <-timerq:
			sch.handleDeadlines()

		case <-sch.stopq:
			sch.shutdown()
			close(sch.doneq)
			return
		}
	}
}

// handleSubmit run the enqueue transition for job.
func (sch *Scheduler) handleSubmit(job *Job) (err error) {
	var q = sch.queues[job.Key]
	if q == nil {
		q = &repoQueue{key: job.Key}
		sch.queues[job.Key] = q
	}

	var admit, evicted, full = q.push(job)

	if full {
		logWarnf(`job %s: %s: pending queue full`, job.ID, job.Key)
		return &errQueueFull
	}

	if evicted != nil {
		// The evicted job never ran: drop its payload silently,
		// without errorcmd.
		logInfof(`job %s: %s: evicted by %s`, evicted.ID, evicted.Key, job.ID)
		evicted.removePayload()
		metricsJobEvicted()
	}

	if admit {
		sch.admitJob(job)
	}

	sch.updateGauges()

	return nil
}

// admitJob start the job now or, when the pool is full, append it to the
// global admission FIFO.
func (sch *Scheduler) admitJob(job *Job) {
	if sch.numRunning >= sch.maxJobs {
		sch.admitq = append(sch.admitq, job)
		return
	}
	sch.startJob(job)
}

// startJob take a pool slot and spawn the repository command.
func (sch *Scheduler) startJob(job *Job) {
	sch.numRunning++

	var vars = substVars{
		event:       job.Event,
		payloadFile: job.PayloadFile,
		owner:       job.Owner,
		repo:        job.Repo,
	}
	var cmdline = expandCmd(job.Settings.Cmd, &vars)

	var child, err = spawnChild(job, cmdline, false, sch.exitq)
	if err != nil {
		logErrf(`job %s: %s: %s`, job.ID, job.Key, err)
		metricsJobDone(`spawn_failed`)
		sch.finishJob(job, ``, ExitKindUnknown, ExitKindUnknown)
		sch.releaseSlot(job.Key)
		return
	}

	if job.Settings.Timeout > 0 {
		child.deadline = time.Now().Add(job.Settings.Timeout)
	}

	sch.children[child.pid] = child

	logInfof(`job %s: %s: started pid %d`, job.ID, job.Key, child.pid)
}

// handleExit process one reaped child.
func (sch *Scheduler) handleExit(ex childExit) {
	var child = sch.children[ex.pid]
	if child == nil {
		logErrf(`reaped unknown pid %d`, ex.pid)
		return
	}
	delete(sch.children, ex.pid)

	var kind, code = classifyExit(ex.state)

	if child.isErrorCmd {
		sch.finishErrorCmd(child, kind, code)
		return
	}

	var job = child.job

	metricsJobDuration(time.Since(job.SubmitTime))

	if kind == ExitKindStatus && code == `0` {
		logInfof(`job %s: %s: success`, job.ID, job.Key)
		metricsJobDone(`success`)
		child.cleanup()
		job.removePayload()
	} else {
		logErrf(`job %s: %s: child failed: %s %s`, job.ID, job.Key, kind, code)
		metricsJobDone(`failed`)

		// The capture file outlives the working directory: errorcmd
		// reads it through "%s".
		var capture = child.captureFile
		child.captureFile = ``
		child.cleanup()

		sch.finishJob(job, capture, kind, code)
	}

	sch.releaseSlot(job.Key)
}

// finishJob run errorcmd for a failed job, when one is configured, and
// arrange for the job artifacts to be removed afterwards.
// capture may be empty when the child could not even be spawned.
func (sch *Scheduler) finishJob(job *Job, capture, kind, code string) {
	if len(job.Settings.ErrorCmd) == 0 {
		if len(capture) != 0 {
			var err = os.Remove(capture)
			if err != nil && !os.IsNotExist(err) {
				logErrf(`job %s: %s`, job.ID, err)
			}
		}
		job.removePayload()
		return
	}

	var vars = substVars{
		event:       job.Event,
		payloadFile: job.PayloadFile,
		owner:       job.Owner,
		repo:        job.Repo,
		captureFile: capture,
		exitKind:    kind,
		exitCode:    code,
	}
	var cmdline = expandCmd(job.Settings.ErrorCmd, &vars)

	var errChild, err = spawnChild(job, cmdline, true, sch.exitq)
	if err != nil {
		logErrf(`job %s: %s: errorcmd: %s`, job.ID, job.Key, err)
		if len(capture) != 0 {
			_ = os.Remove(capture)
		}
		job.removePayload()
		return
	}

	errChild.primaryCapture = capture
	sch.children[errChild.pid] = errChild
}

// finishErrorCmd log the errorcmd result and remove all artifacts left:
// the errorcmd's own directory and capture, the failed child's capture,
// and the payload file.
func (sch *Scheduler) finishErrorCmd(child *liveChild, kind, code string) {
	var job = child.job

	if kind == ExitKindStatus && code == `0` {
		logInfof(`job %s: %s: errorcmd finished`, job.ID, job.Key)
	} else {
		logErrf(`job %s: %s: errorcmd failed: %s %s`, job.ID, job.Key, kind, code)
	}

	child.cleanup()
	if len(child.primaryCapture) != 0 {
		var err = os.Remove(child.primaryCapture)
		if err != nil && !os.IsNotExist(err) {
			logErrf(`job %s: %s`, job.ID, err)
		}
	}
	job.removePayload()
}

// releaseSlot free one pool slot, admit the longest-waiting job, and run
// the child-exit transition of the repository queue.
func (sch *Scheduler) releaseSlot(key string) {
	sch.numRunning--

	if len(sch.admitq) != 0 {
		var waiting = sch.admitq[0]
		sch.admitq = sch.admitq[1:]
		sch.startJob(waiting)
	}

	var q = sch.queues[key]
	if q != nil {
		var next, empty = q.pop()
		if empty {
			delete(sch.queues, key)
		}
		if next != nil {
			sch.admitJob(next)
		}
	}

	sch.updateGauges()
}

// earliestDeadline return the soonest instant the scheduler has to act on:
// a pending SIGTERM deadline or a pending SIGKILL follow-up.
func (sch *Scheduler) earliestDeadline() (earliest time.Time) {
	var child *liveChild

	for _, child = range sch.children {
		var t = child.deadline
		if child.termSent {
			t = child.killAt
		}
		if t.IsZero() {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest
}

// handleDeadlines fire the expired timeouts: SIGTERM at the deadline,
// SIGKILL after the configured killdelay.
func (sch *Scheduler) handleDeadlines() {
	var (
		now   = time.Now()
		child *liveChild
	)

	for _, child = range sch.children {
		if !child.termSent {
			if child.deadline.IsZero() || now.Before(child.deadline) {
				continue
			}
			logWarnf(`job %s: %s: timeout, sending SIGTERM to pid %d`,
				child.job.ID, child.job.Key, child.pid)
			child.terminate()
			if child.job.Settings.KillDelay > 0 {
				child.killAt = now.Add(child.job.Settings.KillDelay)
			}
			continue
		}
		if !child.killAt.IsZero() && !now.Before(child.killAt) {
			logWarnf(`job %s: %s: still alive, sending SIGKILL to pid %d`,
				child.job.ID, child.job.Key, child.pid)
			child.kill()
			child.killAt = time.Time{}
		}
	}
}

// shutdown stop accepting jobs, drop everything pending, terminate the
// live children, and reap them within a bounded wait.
func (sch *Scheduler) shutdown() {
	// Reject submissions that raced with the stop.
	for {
		select {
		case sub := <-sch.submitq:
			sub.resq <- &errQueueFull
			continue
		default:
		}
		break
	}

	var q *repoQueue
	for _, q = range sch.queues {
		var job *Job
		for _, job = range q.pending {
			job.removePayload()
		}
		q.pending = nil
	}

	var job *Job
	for _, job = range sch.admitq {
		job.removePayload()
	}
	sch.admitq = nil

	var child *liveChild
	for _, child = range sch.children {
		child.terminate()
	}

	sch.reapUntil(time.Now().Add(shutdownGrace))

	if len(sch.children) == 0 {
		return
	}

	for _, child = range sch.children {
		child.kill()
	}

	sch.reapUntil(time.Now().Add(reapGrace))

	for _, child = range sch.children {
		logErrf(`job %s: pid %d not reaped on shutdown`, child.job.ID, child.pid)
	}
}

// reapUntil consume child exits until all children are gone or the
// deadline passes.
// During shutdown failed children do not trigger errorcmd anymore.
func (sch *Scheduler) reapUntil(deadline time.Time) {
	var timer = time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for len(sch.children) > 0 {
		select {
		case ex := <-sch.exitq:
			var child = sch.children[ex.pid]
			if child == nil {
				continue
			}
			delete(sch.children, ex.pid)
			child.cleanup()
			if len(child.primaryCapture) != 0 {
				_ = os.Remove(child.primaryCapture)
			}
			child.job.removePayload()

		case <-timer.C:
			return
		}
	}
}

func (sch *Scheduler) updateGauges() {
	var pending = len(sch.admitq)

	var q *repoQueue
	for _, q = range sch.queues {
		pending += len(q.pending)
	}

	metricsSetRunning(sch.numRunning)
	metricsSetPending(pending)
}
