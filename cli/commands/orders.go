package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/catalogfi/xswap/daemon/types"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/rpcclient"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"
)

func Get(rpcClient rpcclient.Client) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "get [order id]",
		Short: "Show an order with its escrows and status history",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			view, err := rpcClient.GetOrder(context.Background(), args[0])
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to get order: %w", err))
			}

			fmt.Printf("order:    %s\n", view.OrderID)
			fmt.Printf("status:   %s\n", statusColor(view.Status))
			fmt.Printf("route:    %s %s (%v) -> %s %s (%v)\n", view.SrcChain, view.SrcAsset, view.SrcAmount, view.DstChain, view.DstAsset, view.DstAmount)
			fmt.Printf("hashlock: 0x%s\n", view.HashlockHex())
			if view.Error != "" {
				fmt.Printf("error:    %s (%s)\n", view.Error, view.ErrorClass)
			}

			escrows := newTable()
			escrows.AppendHeader(table.Row{"Leg", "Chain", "Handle", "Ledger ID", "Funded", "Claimed", "Cancelled", "Open Tx"})
			for _, e := range view.Escrows {
				ledgerID := "-"
				if e.LedgerID != nil {
					ledgerID = fmt.Sprint(*e.LedgerID)
					if e.Degraded {
						ledgerID += " (degraded)"
					}
				}
				escrows.AppendRow(table.Row{e.Leg, e.Chain, e.Handle, ledgerID, e.Funded, e.Claimed, e.Cancelled, e.OpenTx})
			}
			escrows.Render()

			history := newTable()
			history.AppendHeader(table.Row{"At", "From", "To", "Tx", "Error"})
			for _, t := range view.Transitions {
				history.AppendRow(table.Row{t.CreatedAt.Format(time.RFC3339), t.From, t.To, t.TxRef, t.Error})
			}
			history.Render()
		},
		DisableAutoGenTag: true,
	}
	return cmd
}

func List(rpcClient rpcclient.Client) *cobra.Command {
	var (
		req      types.RequestListOrders
		statuses []string
	)

	var cmd = &cobra.Command{
		Use:   "list",
		Short: "List orders",
		Run: func(c *cobra.Command, args []string) {
			req.Statuses = statuses
			page, err := rpcClient.ListOrders(context.Background(), req)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to list orders: %w", err))
			}

			t := newTable()
			t.AppendHeader(table.Row{"Order ID", "Status", "Source", "Destination", "Source Amount", "Destination Amount", "Expires At"})
			for _, order := range page.Orders {
				t.AppendRow(table.Row{
					order.OrderID,
					order.Status,
					fmt.Sprintf("%s:%s", order.SrcChain, order.SrcAsset),
					fmt.Sprintf("%s:%s", order.DstChain, order.DstAsset),
					order.SrcAmount,
					order.DstAmount,
					order.ExpiresAt.Format(time.RFC3339),
				})
			}
			t.AppendFooter(table.Row{fmt.Sprintf("page %d", page.Page), "", "", "", "", "", fmt.Sprintf("%d orders", page.Total)})
			t.Render()
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().StringVar(&req.Maker, "maker", "", "maker address to filter with (default: any)")
	cmd.Flags().StringVar(&req.Chain, "chain", "", "chain to filter with (default: any)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "statuses to filter with, e.g. DST_FUNDED (default: any)")
	cmd.Flags().IntVar(&req.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&req.PerPage, "per-page", types.DefaultPerPage, "orders per page")
	return cmd
}

func Cancel(rpcClient rpcclient.Client) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "cancel [order id]",
		Short: "Stop an order and refund its funded escrows",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			if err := rpcClient.CancelOrder(context.Background(), args[0]); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to cancel order: %w", err))
			}
			color.Yellow("order %s is cancelling, escrows are refunded once their cancellation stage opens", args[0])
		},
		DisableAutoGenTag: true,
	}
	return cmd
}

func Secret(rpcClient rpcclient.Client) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "secret [order id]",
		Short: "Print the secret of an order once its destination escrow is funded",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			resp, err := rpcClient.GetSecret(context.Background(), args[0])
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to get secret: %w", err))
			}
			fmt.Printf("0x%s\n", resp.Secret)
		},
		DisableAutoGenTag: true,
	}
	return cmd
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func statusColor(status swap.Status) string {
	switch status {
	case swap.Settled, swap.Cancelled:
		return color.GreenString(status.String())
	case swap.Expired, swap.Failed:
		return color.RedString(status.String())
	case swap.Cancelling:
		return color.YellowString(status.String())
	default:
		return status.String()
	}
}
