package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// ExecTerminal runs a command attached to a local pseudo-terminal. In
// production the command is an ssh client pointed at the cluster node;
// tests run plain local commands.
type ExecTerminal struct {
	cmd *exec.Cmd
	pty *os.File

	closeOnce sync.Once
	done      chan struct{}
}

// StartCommand launches cmd on a fresh PTY.
func StartCommand(cmd *exec.Cmd) (*ExecTerminal, error) {
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrUnavailable, cmd.Path, err)
	}

	t := &ExecTerminal{
		cmd:  cmd,
		pty:  f,
		done: make(chan struct{}),
	}

	go func() {
		cmd.Wait()
		close(t.done)
	}()

	return t, nil
}

// SSHCommand builds the ssh client invocation for a cluster node using a
// materialized identity file.
func SSHCommand(sshPath, user, host string, port int, identityFile string) *exec.Cmd {
	return exec.Command(sshPath,
		"-i", identityFile,
		"-p", fmt.Sprintf("%d", port),
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=yes",
		fmt.Sprintf("%s@%s", user, host),
	)
}

func (t *ExecTerminal) Read(p []byte) (int, error)  { return t.pty.Read(p) }
func (t *ExecTerminal) Write(p []byte) (int, error) { return t.pty.Write(p) }

func (t *ExecTerminal) Resize(cols, rows uint16) error {
	return pty.Setsize(t.pty, &pty.Winsize{Cols: cols, Rows: rows})
}

func (t *ExecTerminal) Done() <-chan struct{} { return t.done }

// Close kills the subprocess, waits for it so no zombie is left, and
// closes the PTY descriptors.
func (t *ExecTerminal) Close() error {
	t.closeOnce.Do(func() {
		if t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}
		<-t.done // reaped by the Wait goroutine
		t.pty.Close()
	})
	return nil
}
