// Package queue provides the in-process job queue.
//
// A Queue bounds how many job functions run at once. Jobs are added under a
// unique key and dispatched in FIFO order while the queue is started and
// fewer than MaxActive jobs are running. A job's OnStart and OnDone callbacks
// run on the job's own goroutine; OnDone always runs, even when the job
// function fails or panics.
package queue
