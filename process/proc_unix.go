//go:build !windows

package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// configure puts the child in its own process group so the whole tree
// can be signalled at once.
func configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func shellCommand(line string) *exec.Cmd {
	return exec.Command("/bin/sh", "-c", line)
}

// processGroup returns the group the started child leads. With Setpgid
// and no explicit Pgid the group id is the child's pid, and it stays
// valid after the leader has been reaped.
func processGroup(cmd *exec.Cmd) int {
	return cmd.Process.Pid
}

// signalTree signals every process in the child's group.
func signalTree(cmd *exec.Cmd, pgid int, sig os.Signal) error {
	if cmd == nil || cmd.Process == nil || pgid <= 0 {
		return ErrNotStarted
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("unsupported signal %v", sig)
	}
	err := syscall.Kill(-pgid, s)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// groupAlive reports whether any process is left in the group. Zombies
// do not count: an orphan reparented to a non-reaping init stays in the
// group after it has exited.
func groupAlive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	if err := syscall.Kill(-pgid, 0); err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	live, ok := liveMembers(pgid)
	if !ok {
		return true
	}
	return live
}

// liveMembers scans /proc for a non-zombie process in group pgid. ok is
// false where /proc is unavailable.
func liveMembers(pgid int) (live, ok bool) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false, false
	}
	want := strconv.Itoa(pgid)
	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		data, err := os.ReadFile("/proc/" + e.Name() + "/stat")
		if err != nil {
			continue
		}
		// The command name may contain spaces; fields start after ')'.
		i := bytes.LastIndexByte(data, ')')
		if i < 0 {
			continue
		}
		fields := strings.Fields(string(data[i+1:]))
		if len(fields) < 3 {
			continue
		}
		if fields[2] == want && fields[0] != "Z" {
			return true, true
		}
	}
	return false, true
}
