// Package broadcast delivers one payload to many recipients.
//
// A run partitions the recipients into batches, delivers every recipient of a
// batch concurrently and advances batch by batch under one of two policies:
// bounded parallel (N batches in flight) or sequential with a fixed delay.
// Rate-limit responses are retried per recipient after the server-supplied
// delay; every other failure is classified as blocked, deleted, invalid or
// other and counted exactly once.
//
// Progress is posted to the operator chat and edited in place after every
// unit of work. Failures are appended to a per-run failure log, which is
// uploaded when unclassified failures occurred and always removed afterwards.
package broadcast
