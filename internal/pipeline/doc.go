// Package pipeline provides the bounded-queue producer/consumer engine each
// cooking kind runs on.
//
// A Stage owns a bounded input queue, a bounded output queue, and a fixed
// pool of workers started at Start. Submit blocks cooperatively while the
// input queue is full; Collect blocks until a result is available or the
// stage has drained. Progress counters are atomic so queries never contend
// with the queues. No ordering is guaranteed between submission and
// completion when more than one worker runs.
package pipeline
