package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/catalogfi/xswap/utils"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configSetters = map[string]func(cfg *utils.Config, value string) error{
	"rpcServer":             func(cfg *utils.Config, v string) error { cfg.RPCServer = v; return nil },
	"rpcUserName":           func(cfg *utils.Config, v string) error { cfg.RpcUserName = v; return nil },
	"rpcPassword":           func(cfg *utils.Config, v string) error { cfg.RpcPassword = v; return nil },
	"db":                    func(cfg *utils.Config, v string) error { cfg.DB = v; return nil },
	"redis":                 func(cfg *utils.Config, v string) error { cfg.Redis = v; return nil },
	"sentry":                func(cfg *utils.Config, v string) error { cfg.Sentry = v; return nil },
	"jwtSecret":             func(cfg *utils.Config, v string) error { cfg.JWTSecret = v; return nil },
	"siweDomain":            func(cfg *utils.Config, v string) error { cfg.SiweDomain = v; return nil },
	"alerts.slackWebhook":   func(cfg *utils.Config, v string) error { cfg.Alerts.SlackWebhook = v; return nil },
	"alerts.discordWebhook": func(cfg *utils.Config, v string) error { cfg.Alerts.DiscordWebhook = v; return nil },
	"depositFixed":          func(cfg *utils.Config, v string) error { cfg.DepositFixed = v; return nil },
	"noTLS": func(cfg *utils.Config, v string) (err error) {
		cfg.NoTLS, err = strconv.ParseBool(v)
		return err
	},
	"poolSize": func(cfg *utils.Config, v string) (err error) {
		cfg.PoolSize, err = strconv.ParseInt(v, 10, 64)
		return err
	},
	"confirmations": func(cfg *utils.Config, v string) (err error) {
		cfg.Confirmations, err = strconv.ParseUint(v, 10, 64)
		return err
	},
	"depositBps": func(cfg *utils.Config, v string) (err error) {
		cfg.DepositBps, err = strconv.ParseUint(v, 10, 64)
		return err
	},
	"pollInterval": func(cfg *utils.Config, v string) (err error) {
		cfg.PollInterval, err = time.ParseDuration(v)
		return err
	},
}

// SetConfig edits the config file in place. The daemon picks the change up
// on its next start.
func SetConfig(configPath string) *cobra.Command {
	var key, value string
	var cmd = &cobra.Command{
		Use:   "set-config",
		Short: "Update a value in the config file",
		Run: func(c *cobra.Command, args []string) {
			set, ok := configSetters[key]
			if !ok {
				keys := make([]string, 0, len(configSetters))
				for k := range configSetters {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				cobra.CheckErr(fmt.Errorf("unknown key %q, supported: %s", key, strings.Join(keys, ", ")))
			}

			if err := set(&utils.Config{}, value); err != nil {
				cobra.CheckErr(fmt.Errorf("invalid value for %s: %w", key, err))
			}
			if err := utils.UpdateConfig(configPath, func(cfg *utils.Config) { _ = set(cfg, value) }); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to write config: %w", err))
			}
			color.Green("updated %s, restart xswapd to apply it", key)
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&key, "key", "", "config key, e.g. rpcPassword or alerts.slackWebhook")
	cmd.MarkFlagRequired("key")
	cmd.Flags().StringVar(&value, "value", "", "new value")
	return cmd
}
