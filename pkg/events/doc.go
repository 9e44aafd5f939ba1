/*
Package events is an in-memory, best-effort fan-out broker for
workflow and task state transitions. Publish sends on a buffered
channel; a background loop broadcasts each event to every subscriber's
own 50-slot channel, dropping it for subscribers whose buffer is full
rather than blocking the publisher.

The executor publishes here on every task dispatch, completion, and
failure, and on workflow submission/completion; a client that
subscribed at submit time can tail a workflow's progress instead of
polling status.
*/
package events
