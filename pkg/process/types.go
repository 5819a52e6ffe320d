package process

import (
	"fmt"
	"io"
	"os"
	"syscall"
)

const (
	DefaultStopSignal      = syscall.SIGTERM
	DefaultSuccessfulMsg   = "success"
	DefaultMaxPipeReadSize = 1024
)

type pipe struct {
	stdout *io.PipeReader
	stdin  *io.PipeWriter
}

type process struct {
	Uid      string
	LogsPath string
	PidPath  string
	Pipe     Pipe
}

type pid struct {
	PidPath string
}

type PidManager interface {
	Write() error
	Remove() error
	IsActive() bool
}

type Pipe interface {
	Write(data []byte) (int, error)
	Read(data []byte) (int, error)
	Close() error
}

type ProcessManager interface {
	// GetPid reads the pid file. It does not check that the process is alive.
	GetPid() (int, error)
	GetUid() string
	ReadFromPipe() (int, []byte, error)

	// Start launches the binary in the background and waits for its first
	// message on stdout.
	Start(binaryPath string, args []string) (int, []byte, error)
	Stop(signal ...os.Signal) error
	IsActive() bool
}

func PidFile(name string) string {
	return fmt.Sprintf("%s.pid", name)
}

func LogFile(name string) string {
	return fmt.Sprintf("%s.log", name)
}
