// Package protocol frames the controller's line protocol and the local
// control socket.
//
// Controller side: commands are short ASCII strings terminated by "\r\n".
// Replies are lines of the form "X:payload" where X is a one-letter tag
// and payload is usually a JSON object; anything else is a plain log line
// passed through untouched.
//
// Control side: a Unix socket accepts one message per connection,
// "type=body" or a bare "type", and never replies.
package protocol
