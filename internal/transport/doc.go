// Package transport presents a serial port or a TCP/Unix socket as one
// reconnecting, line-framed channel.
//
// Every failed read or write closes the broken handle, reopens the same
// target and retries the same operation. Consecutive failures count toward
// a retry ceiling; any success resets the count. When the ceiling is
// reached the Transport returns ErrConnectionLost and stays dead. Callers
// replace it with a new one rather than reviving it.
//
// Reads never block longer than the medium's read timeout, and a timeout
// is reported as "no data" rather than as an error.
package transport
