package sshgate

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/arcten/shellgate/internal/clusters"
	"github.com/arcten/shellgate/internal/terminal"
	"golang.org/x/crypto/ssh"
)

const upstreamDialTimeout = 30 * time.Second

// upstream is the target-facing half of a proxied session: one SSH
// session on the backend node, with client channel requests forwarded
// verbatim. It implements terminal.Terminal for the bridge.
type upstream struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	mu       sync.Mutex
	started  bool
	waitErr  error
	waitDone bool

	closeOnce sync.Once
	done      chan struct{}
}

func dialUpstream(params *clusters.ConnParams) (*upstream, error) {
	cfg := &ssh.ClientConfig{
		User: params.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(params.Signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         upstreamDialTimeout,
	}

	addr := params.Addr()
	netConn, err := net.DialTimeout("tcp", addr, upstreamDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", terminal.ErrUnavailable, addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", terminal.ErrUnavailable, addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: open session: %v", terminal.ErrUnavailable, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	return &upstream{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		done:    make(chan struct{}),
	}, nil
}

// forward relays one channel request to the node and reports whether it
// was accepted.
func (u *upstream) forward(req *ssh.Request) bool {
	switch req.Type {
	case "pty-req":
		var p struct {
			Term          string
			Cols, Rows    uint32
			Width, Height uint32
			Modes         string
		}
		if err := ssh.Unmarshal(req.Payload, &p); err != nil {
			return false
		}
		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		return u.session.RequestPty(p.Term, int(p.Rows), int(p.Cols), modes) == nil

	case "window-change":
		var p struct{ Cols, Rows, Width, Height uint32 }
		if err := ssh.Unmarshal(req.Payload, &p); err != nil {
			return false
		}
		return u.session.WindowChange(int(p.Rows), int(p.Cols)) == nil

	case "env":
		var p struct{ Name, Value string }
		if err := ssh.Unmarshal(req.Payload, &p); err != nil {
			return false
		}
		// Nodes commonly refuse env; that is not a session error.
		u.session.Setenv(p.Name, p.Value)
		return true

	case "shell":
		return u.start("")

	case "exec":
		var p struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &p); err != nil {
			return false
		}
		return u.start(p.Command)

	default:
		return false
	}
}

// start launches the shell or command on the node once; repeated
// shell/exec requests on the same channel are refused.
func (u *upstream) start(command string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return false
	}

	var err error
	if command == "" {
		err = u.session.Shell()
	} else {
		err = u.session.Start(command)
	}
	if err != nil {
		return false
	}
	u.started = true

	go func() {
		werr := u.session.Wait()
		u.mu.Lock()
		u.waitErr = werr
		u.waitDone = true
		u.mu.Unlock()
		close(u.done)
	}()
	return true
}

func (u *upstream) Read(p []byte) (int, error)  { return u.stdout.Read(p) }
func (u *upstream) Write(p []byte) (int, error) { return u.stdin.Write(p) }

func (u *upstream) Resize(cols, rows uint16) error {
	return u.session.WindowChange(int(rows), int(cols))
}

func (u *upstream) Done() <-chan struct{} { return u.done }

func (u *upstream) Close() error {
	u.closeOnce.Do(func() {
		u.session.Close()
		u.client.Close()
	})
	return nil
}

// exitStatus returns the node-side exit code, defaulting to 0 while the
// command has not finished and 1 for abnormal termination.
func (u *upstream) exitStatus() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.waitDone || u.waitErr == nil {
		return 0
	}
	if ee, ok := u.waitErr.(*ssh.ExitError); ok {
		return ee.ExitStatus()
	}
	return 1
}
