package commands

import (
	"context"
	"fmt"

	"github.com/catalogfi/xswap/daemon/types"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/rpcclient"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func Create(rpcClient rpcclient.Client) *cobra.Command {
	var (
		req                  types.RequestCreate
		makerSrc, makerDst   string
		takerSrc, takerDst   string
		srcChain, dstChain   string
		srcCancel, dstCancel uint32
	)

	var cmd = &cobra.Command{
		Use:   "create",
		Short: "Announce a new cross-chain order",
		Run: func(c *cobra.Command, args []string) {
			req.Maker = swap.Accounts{Src: makerSrc, Dst: makerDst}
			req.Resolver = swap.Accounts{Src: takerSrc, Dst: takerDst}
			req.SrcChain = swap.Chain(srcChain)
			req.DstChain = swap.Chain(dstChain)
			if srcCancel != 0 || dstCancel != 0 {
				timelocks := swap.DefaultTimelocks()
				if srcCancel != 0 {
					timelocks.SrcCancellation = srcCancel
					timelocks.SrcPublicCancellation = srcCancel + 3600
				}
				if dstCancel != 0 {
					timelocks.DstCancellation = dstCancel
				}
				req.Timelocks = &timelocks
			}

			resp, err := rpcClient.CreateOrder(context.Background(), req)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to create order: %w", err))
			}
			color.Green("created order %s", resp.OrderID)
			fmt.Printf("hashlock:   0x%s\nexpires at: %v\n", resp.Hashlock, resp.ExpiresAt)
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().StringVar(&makerSrc, "maker-src", "", "maker address on the source chain")
	cmd.Flags().StringVar(&makerDst, "maker-dst", "", "maker address on the destination chain")
	cmd.Flags().StringVar(&takerSrc, "resolver-src", "", "resolver address on the source chain")
	cmd.Flags().StringVar(&takerDst, "resolver-dst", "", "resolver address on the destination chain")
	cmd.Flags().StringVar(&srcChain, "src-chain", "", "source chain name")
	cmd.Flags().StringVar(&dstChain, "dst-chain", "", "destination chain name")
	cmd.Flags().StringVar(&req.SrcAsset, "src-asset", "", "asset locked on the source chain")
	cmd.Flags().StringVar(&req.DstAsset, "dst-asset", "", "asset locked on the destination chain")
	cmd.Flags().StringVar(&req.SrcAmount, "src-amount", "", "source amount in base units")
	cmd.Flags().StringVar(&req.DstAmount, "dst-amount", "", "destination amount in base units")
	cmd.Flags().StringVar(&req.SafetyDeposit, "safety-deposit", "", "safety deposit override in base units")
	cmd.Flags().StringVar(&req.Hashlock, "hashlock", "", "hashlock of a secret kept by the maker (default: generated)")
	cmd.Flags().Uint32Var(&srcCancel, "src-cancellation", 0, "seconds until the source escrow can be cancelled")
	cmd.Flags().Uint32Var(&dstCancel, "dst-cancellation", 0, "seconds until the destination escrow can be cancelled")
	for _, flag := range []string{"maker-src", "maker-dst", "resolver-src", "resolver-dst", "src-chain", "dst-chain", "src-asset", "dst-asset", "src-amount", "dst-amount"} {
		cmd.MarkFlagRequired(flag)
	}
	return cmd
}
