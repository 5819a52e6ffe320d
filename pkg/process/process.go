package process

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/catalogfi/xswap/utils"
)

func NewProcessManager(uid string) ProcessManager {
	return &process{
		Uid:      uid,
		LogsPath: filepath.Join(utils.DefaultXswapLogs(), LogFile(uid)),
		PidPath:  filepath.Join(utils.DefaultXswapPids(), PidFile(uid)),
	}
}

func (p *process) GetUid() string {
	return p.Uid
}

func (p *process) GetPid() (int, error) {
	data, err := os.ReadFile(p.PidPath)
	if err != nil {
		return 0, fmt.Errorf("error reading PID file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("error converting PID to integer: %v", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid")
	}
	return pid, nil
}

func (p *process) Start(binaryPath string, args []string) (int, []byte, error) {
	if p.IsActive() {
		return 0, nil, fmt.Errorf("process already running")
	}

	logFile, err := os.OpenFile(p.LogsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("error opening log file: %v", err)
	}
	defer logFile.Close()

	reader, writer := io.Pipe()
	p.Pipe = NewPipe(reader, writer)

	cmd := exec.Command(binaryPath, args...)
	cmd.Stdout = writer
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, nil, fmt.Errorf("error starting process, err:%v", err)
	}
	go func() {
		// Unblocks the pipe read if the process dies before reporting.
		err := cmd.Wait()
		writer.CloseWithError(fmt.Errorf("process exited: %v", err))
	}()

	n, msg, err := p.ReadFromPipe()
	if err != nil {
		return 0, nil, err
	}
	msg = bytes.TrimSpace(msg[:n])
	if string(msg) != DefaultSuccessfulMsg {
		return n, msg, fmt.Errorf("process failed to start: %s", msg)
	}
	return n, msg, nil
}

func (p *process) signal(sig os.Signal) error {
	pid, err := p.GetPid()
	if err != nil {
		return err
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("error finding process: %v", err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("error signalling process: %v", err)
	}
	return nil
}

func (p *process) Stop(signal ...os.Signal) error {
	if len(signal) == 0 {
		return p.signal(DefaultStopSignal)
	}
	return p.signal(signal[0])
}

func (p *process) ReadFromPipe() (int, []byte, error) {
	if p.Pipe == nil {
		return 0, nil, fmt.Errorf("process not started")
	}
	buf := make([]byte, DefaultMaxPipeReadSize)
	n, err := p.Pipe.Read(buf)
	if err != nil && err != io.EOF {
		return 0, nil, fmt.Errorf("error reading from pipe, err:%v", err)
	}
	return n, buf, nil
}

func (p *process) IsActive() bool {
	return (&pid{PidPath: p.PidPath}).IsActive()
}
