//go:build windows

package procutil

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// jobs tracks the job object created for each spawned process, keyed by
// pid, so Kill can terminate the whole tree via JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE
// rather than only the direct child.
var (
	jobsMu sync.Mutex
	jobs   = map[uint32]windows.Handle{}
)

// Prepare configures cmd so it starts in its own console process group
// (which Interrupt relies on to deliver a Ctrl-Break to the whole tree). It
// does not create a job object: the process is assigned to one only when
// Interrupt is first called on it, so Kill without a prior Interrupt
// terminates the direct child only.
func Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
}

func assignJob(cmd *exec.Cmd) (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, fmt.Errorf("procutil: create job object: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		_ = windows.CloseHandle(job)
		return 0, fmt.Errorf("procutil: set job object info: %w", err)
	}

	handle, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(cmd.Process.Pid))
	if err != nil {
		_ = windows.CloseHandle(job)
		return 0, fmt.Errorf("procutil: open child process: %w", err)
	}
	defer windows.CloseHandle(handle)

	if err := windows.AssignProcessToJobObject(job, handle); err != nil {
		_ = windows.CloseHandle(job)
		return 0, fmt.Errorf("procutil: assign process to job: %w", err)
	}
	return job, nil
}

// Interrupt sends a Ctrl-Break event to cmd's process group, Windows's
// closest analogue to SIGINT for a group of processes.
func Interrupt(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if job, err := assignJob(cmd); err == nil {
		jobsMu.Lock()
		jobs[uint32(cmd.Process.Pid)] = job
		jobsMu.Unlock()
	}
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(cmd.Process.Pid))
}

// Kill terminates the process and, if a job object was assigned by an
// earlier Interrupt, closes it so the kernel kills every descendant too.
func Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := uint32(cmd.Process.Pid)
	jobsMu.Lock()
	job, ok := jobs[pid]
	if ok {
		delete(jobs, pid)
	}
	jobsMu.Unlock()
	if ok {
		defer windows.CloseHandle(job)
	}
	return cmd.Process.Kill()
}
