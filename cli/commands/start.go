package commands

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/catalogfi/xswap/pkg/process"
	"github.com/catalogfi/xswap/utils"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const DaemonUID = "xswapd"

func Start(configPath string) *cobra.Command {
	var (
		daemonPath string
		simulate   bool
	)
	var cmd = &cobra.Command{
		Use:   "start",
		Short: "Start the xswap daemon in the background",
		Run: func(c *cobra.Command, args []string) {
			cobra.CheckErr(utils.EnsureDirectories())
			if daemonPath == "" {
				path, err := locateDaemon()
				cobra.CheckErr(err)
				daemonPath = path
			}

			daemonArgs := []string{"--config", configPath}
			if simulate {
				daemonArgs = append(daemonArgs, "--simulate")
			}
			pm := process.NewProcessManager(DaemonUID)
			_, msg, err := pm.Start(daemonPath, daemonArgs)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to start daemon: %w", err))
			}
			color.Green("xswapd started (%s), logs in %s", msg, utils.DefaultXswapLogs())
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&daemonPath, "daemon", "", "path to the xswapd binary (default: next to xswap or on $PATH)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "run against simulated chains")
	return cmd
}

func Stop() *cobra.Command {
	var timeout time.Duration
	var cmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the xswap daemon",
		Run: func(c *cobra.Command, args []string) {
			pm := process.NewProcessManager(DaemonUID)
			if !pm.IsActive() {
				cobra.CheckErr(fmt.Errorf("xswapd is not running"))
			}
			cobra.CheckErr(pm.Stop())

			deadline := time.Now().Add(timeout)
			for pm.IsActive() {
				if time.Now().After(deadline) {
					cobra.CheckErr(fmt.Errorf("xswapd did not stop within %v", timeout))
				}
				time.Sleep(200 * time.Millisecond)
			}
			color.Green("xswapd stopped")
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for in-flight work to stop")
	return cmd
}

func locateDaemon() (string, error) {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), DaemonUID)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(DaemonUID)
	if err != nil {
		return "", fmt.Errorf("cannot find %s, pass --daemon", DaemonUID)
	}
	return path, nil
}
