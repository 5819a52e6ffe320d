package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/catalogfi/xswap/utils"
)

func NewPidManager(uid string) PidManager {
	return &pid{
		PidPath: filepath.Join(utils.DefaultXswapPids(), PidFile(uid)),
	}
}

func (p *pid) Write() error {
	if p.IsActive() {
		return fmt.Errorf("daemon already running")
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(p.PidPath, []byte(pid), 0644); err != nil {
		return fmt.Errorf("failed to write pid, err:%v", err)
	}
	return nil
}

func (p *pid) Remove() error {
	if err := os.Remove(p.PidPath); err != nil {
		return fmt.Errorf("failed to delete pid file, err:%v", err)
	}
	return nil
}

// IsActive reports whether the pid file names a live process.
func (p *pid) IsActive() bool {
	data, err := os.ReadFile(p.PidPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	pr, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return pr.Signal(syscall.Signal(0)) == nil
}
