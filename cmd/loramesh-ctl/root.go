package main

import "github.com/spf13/cobra"

var plain bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "loramesh-ctl",
		Short: "Inspect LoRa mesh frames and route snapshots",
		Long: `loramesh-ctl is the operator tool for loramesh nodes. It decodes raw
wire frames captured off the air and renders the route snapshots a node
exports to disk.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&plain, "plain", false, "disable colour and borders")
	root.AddCommand(newRoutesCmd(), newDecodeCmd())
	return root
}
