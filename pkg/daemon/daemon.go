//go:build linux

// Package daemon moves the bridge into the background.
//
// Detaching re-executes the binary in a new session instead of forking, with
// the already acquired devices passed down as inherited descriptors. The
// original process writes the pid file and exits; the child recognizes
// itself through the environment and picks the devices up with Inherited.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

const (
	childEnv = "TAPLINK_DAEMON_CHILD"
	filesEnv = "TAPLINK_DAEMON_FILES"

	// firstInheritedFd is where exec.Cmd places ExtraFiles[0].
	firstInheritedFd = 3
)

// ErrNotChild is returned by Inherited in a process not started by Detach.
var ErrNotChild = errors.New("not a detached child")

// Options configures Detach.
type Options struct {
	// LogFile receives the child's stdout and stderr; empty means /dev/null.
	LogFile string

	// PidFile, if set, receives the child's pid.
	PidFile string

	// Files are passed to the child as descriptors 3, 4, ... in order.
	// Their names travel with them.
	Files []*os.File

	// Command overrides the re-executed argv. The default is the running
	// executable with the current arguments.
	Command []string
}

// File is a descriptor inherited from the parent.
type File struct {
	Fd   int
	Name string
}

// IsChild reports whether this process was started by Detach.
func IsChild() bool {
	return os.Getenv(childEnv) == "1"
}

// Detach starts the background child and returns its pid. The caller still
// owns opts.Files and should close its copies and exit.
//
// If the pid file cannot be written the child is killed and an error is
// returned.
func Detach(opts Options) (int, error) {
	argv := opts.Command
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("locate executable: %w", err)
		}
		argv = append([]string{exe}, os.Args[1:]...)
	}

	names := make([]string, len(opts.Files))
	for i, f := range opts.Files {
		names[i] = f.Name()
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return 0, err
	}

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer stdin.Close()

	out, err := openOutput(opts.LogFile)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), childEnv+"=1", filesEnv+"="+string(encoded))
	cmd.Stdin = stdin
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.ExtraFiles = opts.Files
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start background process: %w", err)
	}
	pid := cmd.Process.Pid

	if opts.PidFile != "" {
		if err := WritePidFile(opts.PidFile, pid); err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return 0, err
		}
	}

	if err := cmd.Process.Release(); err != nil {
		return 0, fmt.Errorf("release background process: %w", err)
	}
	return pid, nil
}

func openOutput(path string) (*os.File, error) {
	if path == "" {
		path = os.DevNull
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// WritePidFile writes pid followed by a newline.
func WritePidFile(path string, pid int) error {
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Inherited returns the descriptors passed by Detach, in the order given.
func Inherited() ([]File, error) {
	if !IsChild() {
		return nil, ErrNotChild
	}
	var names []string
	if err := json.Unmarshal([]byte(os.Getenv(filesEnv)), &names); err != nil {
		return nil, fmt.Errorf("decode inherited descriptors: %w", err)
	}

	files := make([]File, len(names))
	for i, name := range names {
		files[i] = File{Fd: firstInheritedFd + i, Name: name}
	}
	return files, nil
}
