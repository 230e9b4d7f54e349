package monitor

import (
	"os"

	"golang.org/x/term"
)

// EscapeHint is shown before a raw relay starts. 0x1d is Ctrl-].
const EscapeHint = "Escape character is ^]"

// RelayArgs returns the socat command line connecting the terminal to the
// Unix socket at path. On a terminal the relay runs raw without local echo
// so that line editing happens in the guest, and Ctrl-] ends the session.
func RelayArgs(socat, path string, tty bool) []string {
	local := "STDIO"
	if tty {
		local = "STDIO,raw,echo=0,escape=0x1d"
	}
	return []string{socat, local, "UNIX-CONNECT:" + path}
}

// IsTerminal reports whether f is connected to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}
