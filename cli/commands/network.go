package commands

import (
	"context"
	"fmt"

	"github.com/catalogfi/xswap/daemon/types"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/rpcclient"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"
)

func Authorize(rpcClient rpcclient.Client) *cobra.Command {
	var chain, resolver string
	var cmd = &cobra.Command{
		Use:   "authorize",
		Short: "Add a resolver to the allowlist of a chain",
		Run: func(c *cobra.Command, args []string) {
			err := rpcClient.Authorize(context.Background(), types.RequestAuthorize{
				Chain:    swap.Chain(chain),
				Resolver: resolver,
			})
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to authorize resolver: %w", err))
			}
			color.Green("%s is authorized on %s", resolver, chain)
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&chain, "chain", "", "chain name")
	cmd.MarkFlagRequired("chain")
	cmd.Flags().StringVar(&resolver, "resolver", "", "resolver address on that chain")
	cmd.MarkFlagRequired("resolver")
	return cmd
}

func Status(rpcClient rpcclient.Client) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "status",
		Short: "Show chain heads and in-flight orders",
		Run: func(c *cobra.Command, args []string) {
			status, err := rpcClient.Status(context.Background())
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to get status: %w", err))
			}

			t := newTable()
			t.AppendHeader(table.Row{"Chain", "Kind", "Head", "Error"})
			for name, ch := range status.Chains {
				t.AppendRow(table.Row{name, ch.Kind, ch.Head, ch.Error})
			}
			t.SortBy([]table.SortBy{{Name: "Chain", Mode: table.Asc}})
			t.Render()
			fmt.Printf("in-flight orders: %d\njournal: %s\n", status.Active, status.Journal)
		},
		DisableAutoGenTag: true,
	}
	return cmd
}
