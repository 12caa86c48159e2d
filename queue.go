// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

// repoQueue is the per-repository queue state.
//
// Invariants, enforced by push and pop below:
//
//   - under sequential and evict at most one job of the repository is
//     running (or waiting for a pool slot);
//   - under evict the pending list holds at most one job;
//   - pending jobs under sequential run in arrival order.
//
// The discipline of the arriving job governs each admission, so a
// configuration reload that changes the discipline takes effect on the next
// delivery.
type repoQueue struct {
	key     string
	pending []*Job

	// running is the number of jobs of this repository admitted to the
	// runner pool, including jobs still waiting for a free slot.
	running int
}

// push apply the enqueue transition for job.
//
// When admit is true the job must be handed to the runner pool.
// evicted, when not nil, is a previously pending job that was replaced
// under the evict discipline; its payload must be cleaned up without
// running errorcmd.
// full is true when a sequential pending list reached its bound; the job
// was not queued.
func (q *repoQueue) push(job *Job) (admit bool, evicted *Job, full bool) {
	if q.running == 0 && len(q.pending) == 0 {
		q.running = 1
		return true, nil, false
	}

	switch job.Settings.Queue {
	case QueueParallel:
		// Parallel admissions bypass the pending list; only the
		// global pool bounds them.
		q.running++
		return true, nil, false

	case QueueEvict:
		if len(q.pending) != 0 {
			evicted = q.pending[0]
		}
		q.pending = []*Job{job}
		return false, evicted, false

	default:
		if job.Settings.MaxQueue != 0 && len(q.pending) >= job.Settings.MaxQueue {
			return false, nil, true
		}
		q.pending = append(q.pending, job)
		return false, nil, false
	}
}

// pop apply the child-exit transition.
// next, when not nil, is the pending job that must now be handed to the
// runner pool.
// empty is true when the repository has no running and no pending job left,
// in which case the owner should drop this queue.
func (q *repoQueue) pop() (next *Job, empty bool) {
	if q.running > 0 {
		q.running--
	}
	if q.running > 0 {
		return nil, false
	}
	if len(q.pending) == 0 {
		return nil, true
	}

	next = q.pending[0]
	q.pending = q.pending[1:]
	q.running = 1

	return next, false
}
