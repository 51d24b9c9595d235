//go:build windows

package bridge

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		_ = cmd.Process.Kill()
	}
}

func vcvarsArch(arch string) string {
	switch arch {
	case "x86":
		return "x86"
	case "arm64":
		return "amd64_arm64"
	}
	return "amd64"
}

func captureCompilerEnv(ctx context.Context, vcvars, arch string) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, "cmd.exe")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine: fmt.Sprintf(`/s /c ""%s" %s >nul && set"`, vcvars, vcvarsArch(arch)),
	}
	out, err := cmd.Output()
	if err != nil {
		return nil, envErrorf(err, "running %s %s", vcvars, vcvarsArch(arch))
	}
	env := ParseSetOutput(string(out))
	if _, ok := env["INCLUDE"]; !ok {
		return nil, envErrorf(nil, "%s did not set INCLUDE", vcvars)
	}
	return env, nil
}
