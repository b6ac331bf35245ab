// Package worker runs the link to one controller.
//
// A Worker owns one Transport and Codec for the lifetime of a session and
// moves through Starting, Connecting, Running, Reconnecting, Stopping and
// Terminated. Startup failures to reach the controller are retried with
// backoff; a lost connection moves the worker to Reconnecting with its
// pending log rows kept. All controller I/O happens on the run loop
// goroutine; control socket and MQTT commands are queued to it.
package worker
