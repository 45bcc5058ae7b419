// Package terminal opens interactive shells on cluster nodes. Two drivers
// implement the same interface: the ssh driver speaks the SSH protocol
// in-process, the exec driver runs an ssh client subprocess attached to a
// local pseudo-terminal. The bridge treats both identically.
package terminal

import (
	"errors"
	"io"
)

// ErrUnavailable wraps failures to reach or authenticate with the target
// node. Connections are never retried automatically; the caller must
// re-initiate.
var ErrUnavailable = errors.New("upstream unavailable")

// Terminal is a target-facing interactive shell. Read returns shell
// output, Write sends keystrokes. Close must terminate the underlying
// channel or process and release all descriptors; it is safe to call
// more than once.
type Terminal interface {
	io.ReadWriteCloser

	// Resize changes the terminal dimensions.
	Resize(cols, rows uint16) error

	// Done is closed when the underlying shell exits.
	Done() <-chan struct{}
}
