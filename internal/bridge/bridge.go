// Package bridge is the data plane of the gateway: a duplex byte relay
// between a client-facing stream and a target-facing terminal. It owns no
// policy; authorization and session bookkeeping happen before Run is
// called. Whatever ends the relay, both ends are torn down and the caller
// is expected to destroy the session.
package bridge

import (
	"errors"
	"io"
	"io/fs"
	"log"
	"net"
	"sync"

	"github.com/arcten/shellgate/internal/session"
	"github.com/arcten/shellgate/internal/terminal"
)

// ErrNotAttached is returned when Run is called for a session that is not
// in the connecting state, which would mean a second transport trying to
// enter an already-active session.
var ErrNotAttached = errors.New("session not in connecting state")

// Diagnoser is implemented by client streams that can carry an
// out-of-band human-readable error message. Delivery is best effort and
// must never block teardown.
type Diagnoser interface {
	Diagnose(msg string)
}

// Result reports what the relay moved and how each side ended.
type Result struct {
	BytesToTarget int64 // client → target
	BytesToClient int64 // target → client
	ClientErr     error
	TargetErr     error
	Err           error
}

const copyBufSize = 32 * 1024

// Run relays bytes in both directions until either side closes, the
// target shell exits, an I/O error occurs, or the session is destroyed
// (TTL watchdog, explicit stop). The two directions are independent
// streams; bytes within each direction are relayed in order. Run closes
// both handles before returning.
func Run(sess *session.Session, client io.ReadWriteCloser, term terminal.Terminal) Result {
	if sess.State() != session.StateConnecting {
		client.Close()
		term.Close()
		return Result{Err: ErrNotAttached}
	}

	// Registering both handles makes Registry.Destroy cascade into the
	// relay loops: closing the handles forces both copies to return.
	sess.AddCloser(term)
	sess.AddCloser(client)
	sess.SetState(session.StateActive)

	var res Result
	var once sync.Once
	teardown := func() {
		once.Do(func() {
			sess.SetState(session.StateClosing)
			client.Close()
			term.Close()
		})
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer teardown()
		n, err := io.CopyBuffer(term, client, make([]byte, copyBufSize))
		res.BytesToTarget = n
		res.ClientErr = relayErr(err)
	}()

	go func() {
		defer wg.Done()
		n, err := io.CopyBuffer(client, term, make([]byte, copyBufSize))
		res.BytesToClient = n
		if res.TargetErr = relayErr(err); res.TargetErr != nil {
			if d, ok := client.(Diagnoser); ok {
				d.Diagnose("connection to node lost: " + err.Error())
			}
		}
		teardown()
	}()

	go func() {
		select {
		case <-term.Done():
		case <-sess.Done():
		case <-stop:
		}
		teardown()
	}()

	wg.Wait()
	close(stop)
	teardown()

	log.Printf("[bridge] session %s relay finished (to_target=%dB to_client=%dB)",
		sess.ID, res.BytesToTarget, res.BytesToClient)
	return res
}

// relayErr filters out the errors produced by a normal close of either
// end, leaving only genuine mid-session I/O failures.
func relayErr(err error) error {
	if err == nil || err == io.EOF {
		return nil
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, fs.ErrClosed) {
		return nil
	}
	return err
}
