package hub

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
)

// Launcher starts a per-room game subprocess. The artifact is opaque
// to the hub: it is handed the file path and the port the room's
// clients will connect to.
type Launcher interface {
	Launch(artifactPath string, port int) error
}

// processLauncher runs artifacts under an interpreter, inheriting the
// server's stdio. Every child is reaped by a Wait goroutine; the exit
// status is ignored.
type processLauncher struct {
	interpreter string
}

// NewProcessLauncher returns the production launcher:
// `<interpreter> <artifact> --server <port>`.
func NewProcessLauncher(interpreter string) Launcher {
	return &processLauncher{interpreter: interpreter}
}

func (l *processLauncher) Launch(artifactPath string, port int) error {
	cmd := exec.Command(l.interpreter, artifactPath, "--server", strconv.Itoa(port))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting game process %s: %w", artifactPath, err)
	}

	slog.Info("game process started", "artifact", artifactPath, "port", port, "pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		slog.Debug("game process exited", "artifact", artifactPath, "pid", cmd.Process.Pid, "error", err)
	}()

	return nil
}
