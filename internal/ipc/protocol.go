// Package ipc carries control commands between CLI invocations and the
// running daemon over a unix socket, one newline-delimited JSON request
// and response per connection.
package ipc

// Command names accepted over the control socket.
const (
	CmdStatus = "status"
	CmdBegin  = "begin"
	CmdEnd    = "end"
	CmdToggle = "toggle"
	CmdCancel = "cancel"
)

// Request is one control command sent by a CLI invocation.
type Request struct {
	Command string `json:"command"`
}

// Response reports the daemon's session state after handling a command.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
