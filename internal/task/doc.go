// Package task implements the background task subsystem: a durable task
// record per submission, an in-memory FIFO queue, and a single worker
// goroutine that drives each task through its lifecycle
// (queued -> processing -> completed/failed/cancelled).
//
// Cancellation is cooperative. Cancelling a queued task prevents it from ever
// reaching the transform engine; cancelling a processing task stops the
// engine at its next row boundary. In-flight work is never forcibly
// interrupted.
package task
