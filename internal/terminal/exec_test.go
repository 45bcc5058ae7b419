package terminal

import (
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestExecTerminalEcho(t *testing.T) {
	term, err := StartCommand(exec.Command("cat"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer term.Close()

	if _, err := term.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// cat echoes the line back; the PTY may also echo the input itself,
	// so just wait for the payload to appear.
	deadline := time.Now().Add(5 * time.Second)
	var out strings.Builder
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := term.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if strings.Contains(out.String(), "hello") {
			return
		}
		if err != nil {
			break
		}
	}
	t.Fatalf("echo not seen, got %q", out.String())
}

func TestExecTerminalResize(t *testing.T) {
	term, err := StartCommand(exec.Command("cat"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer term.Close()

	if err := term.Resize(120, 40); err != nil {
		t.Fatalf("resize: %v", err)
	}
}

func TestExecTerminalCloseReapsProcess(t *testing.T) {
	term, err := StartCommand(exec.Command("cat"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := term.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-term.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process not reaped after close")
	}
	if term.cmd.ProcessState == nil {
		t.Fatal("process state missing, child was not waited on")
	}

	// Close again must be a no-op.
	if err := term.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestExecTerminalDoneOnExit(t *testing.T) {
	term, err := StartCommand(exec.Command("true"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer term.Close()

	select {
	case <-term.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("done not signalled after command exit")
	}
}

func TestSSHCommandArguments(t *testing.T) {
	cmd := SSHCommand("/usr/bin/ssh", "deploy", "node.example.com", 2022, "/tmp/id.key")

	args := strings.Join(cmd.Args, " ")
	for _, want := range []string{
		"-i /tmp/id.key",
		"-p 2022",
		"BatchMode=yes",
		"deploy@node.example.com",
	} {
		if !strings.Contains(args, want) {
			t.Fatalf("argv %q missing %q", args, want)
		}
	}
}

func TestStartCommandBadBinary(t *testing.T) {
	if _, err := StartCommand(exec.Command("/does/not/exist")); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
