package cli

import (
	"github.com/catalogfi/xswap/cli/commands"
	"github.com/catalogfi/xswap/rpcclient"
	"github.com/catalogfi/xswap/utils"
	"github.com/spf13/cobra"
)

func Run(version string) error {
	var cmd = &cobra.Command{
		Use:   "xswap",
		Short: "xswap - cross-chain swap coordinator CLI",
		Run: func(c *cobra.Command, args []string) {
			c.HelpFunc()(c, args)
		},
		Version:           version,
		DisableAutoGenTag: true,
	}

	configPath := utils.DefaultConfigPath()
	envConfig, err := utils.LoadConfig(configPath)
	if err != nil {
		return err
	}

	protocol := "https"
	if envConfig.NoTLS {
		protocol = "http"
	}
	rpcClient := rpcclient.NewClient(envConfig.RpcUserName, envConfig.RpcPassword, protocol, envConfig.RPCServer)

	cmd.AddCommand(commands.Start(configPath))
	cmd.AddCommand(commands.Stop())
	cmd.AddCommand(commands.Create(rpcClient))
	cmd.AddCommand(commands.Get(rpcClient))
	cmd.AddCommand(commands.List(rpcClient))
	cmd.AddCommand(commands.Cancel(rpcClient))
	cmd.AddCommand(commands.Secret(rpcClient))
	cmd.AddCommand(commands.Authorize(rpcClient))
	cmd.AddCommand(commands.Status(rpcClient))
	cmd.AddCommand(commands.SetConfig(configPath))
	return cmd.Execute()
}
