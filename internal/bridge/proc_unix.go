//go:build !windows

package bridge

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}

func captureCompilerEnv(ctx context.Context, vcvars, arch string) (map[string]string, error) {
	return nil, envErrorf(fmt.Errorf("%s needs cmd.exe", vcvars), "cannot capture compiler environment for %s on this host", arch)
}
