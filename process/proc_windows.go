//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

func configure(cmd *exec.Cmd) {}

func shellCommand(line string) *exec.Cmd {
	return exec.Command("cmd", "/C", line)
}

func processGroup(cmd *exec.Cmd) int {
	return cmd.Process.Pid
}

// groupAlive is false on windows: taskkill /T reaches the tree while the
// root is alive, and nothing can be enumerated after it is gone.
func groupAlive(int) bool { return false }

// signalTree ends the child and its descendants with taskkill. Windows has
// no signals, so the forceful signal maps to /F and anything else to a
// close request.
func signalTree(cmd *exec.Cmd, _ int, sig os.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return ErrNotStarted
	}
	args := []string{"/T", "/PID", strconv.Itoa(cmd.Process.Pid)}
	if sig == os.Kill || sig == syscall.SIGKILL {
		args = append([]string{"/F"}, args...)
	}
	if err := exec.Command("taskkill", args...).Run(); err != nil {
		if sig == os.Kill || sig == syscall.SIGKILL {
			err = cmd.Process.Kill()
			if errors.Is(err, os.ErrProcessDone) {
				return nil
			}
		}
		return err
	}
	return nil
}
