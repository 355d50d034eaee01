package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/diag"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
)

func newRoutesCmd() *cobra.Command {
	var format string
	var counters bool
	cmd := &cobra.Command{
		Use:   "routes <snapshot-file>",
		Short: "Show a node's exported routing table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := diag.Read(args[0], format)
			if err != nil {
				return fmt.Errorf("failed to read snapshot: %w", err)
			}
			out := cmd.OutOrStdout()
			taken := time.UnixMilli(s.TakenUnixMS).UTC().Format(time.RFC3339)
			fmt.Fprintln(out, render(titleStyle, fmt.Sprintf("%s (%s) at %s", s.Name, protocol.NodeAddr(s.Node), taken)))
			if len(s.Routes) == 0 {
				fmt.Fprintln(out, render(dimStyle, "no routes"))
			} else {
				rows := [][]string{{"DEST", "NEXT HOP", "HOPS", "AGE"}}
				for _, r := range s.Routes {
					rows = append(rows, []string{
						protocol.NodeAddr(r.Destination).String(),
						protocol.NodeAddr(r.NextHop).String(),
						strconv.Itoa(int(r.Hops)),
						(time.Duration(r.AgeMS) * time.Millisecond).String(),
					})
				}
				fmt.Fprint(out, table(rows))
			}
			if counters && len(s.Counters) > 0 {
				names := make([]string, 0, len(s.Counters))
				for k := range s.Counters {
					names = append(names, k)
				}
				sort.Strings(names)
				rows := [][]string{{"COUNTER", "VALUE"}}
				for _, k := range names {
					rows = append(rows, []string{k, strconv.FormatUint(s.Counters[k], 10)})
				}
				fmt.Fprint(out, table(rows))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "snapshot format: json, cbor, proto (default from extension)")
	cmd.Flags().BoolVar(&counters, "counters", false, "also print driver counters")
	return cmd
}
