package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

const daemonEnv = "PICOPTY_DAEMONIZED"

func isDaemonChild() bool {
	return os.Getenv(daemonEnv) == "1"
}

// startDaemon re-executes the current binary with the same arguments in a
// new session, detached from the terminal with stdio on /dev/null. The
// child changes to / itself once its paths are resolved.
func startDaemon() (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("daemonize: %w", err)
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("daemonize: %w", err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("daemonize: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}
