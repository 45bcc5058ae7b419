package terminal

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/arcten/shellgate/internal/clusters"
	"golang.org/x/crypto/ssh"
)

const dialTimeout = 30 * time.Second

// SSHTerminal is a PTY-backed shell on an SSH session opened with the
// in-process SSH client.
type SSHTerminal struct {
	stdin   io.WriteCloser
	stdout  io.Reader
	session *ssh.Session
	client  *ssh.Client

	closeOnce sync.Once
	done      chan struct{}
}

// DialSSH connects to the node described by params and starts a login
// shell on a PTY. Dial and handshake failures are wrapped in
// ErrUnavailable so front doors can report them uniformly.
func DialSSH(params *clusters.ConnParams) (*SSHTerminal, error) {
	cfg := &ssh.ClientConfig{
		User: params.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(params.Signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	addr := params.Addr()
	netConn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrUnavailable, addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	term, err := NewSSHTerminal(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	term.client = client
	return term, nil
}

// NewSSHTerminal starts a PTY shell session on an existing SSH client.
// The client connection itself stays owned by the caller.
func NewSSHTerminal(client *ssh.Client) (*SSHTerminal, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: create ssh session: %v", ErrUnavailable, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: start shell: %v", ErrUnavailable, err)
	}

	t := &SSHTerminal{
		stdin:   stdin,
		stdout:  stdout,
		session: session,
		done:    make(chan struct{}),
	}

	go func() {
		session.Wait()
		close(t.done)
	}()

	return t, nil
}

func (t *SSHTerminal) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *SSHTerminal) Write(p []byte) (int, error) { return t.stdin.Write(p) }

func (t *SSHTerminal) Resize(cols, rows uint16) error {
	return t.session.WindowChange(int(rows), int(cols))
}

func (t *SSHTerminal) Done() <-chan struct{} { return t.done }

// Close terminates the SSH session and, if this terminal owns the client
// connection, the connection as well.
func (t *SSHTerminal) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.session.Close()
		if t.client != nil {
			t.client.Close()
		}
	})
	return err
}
