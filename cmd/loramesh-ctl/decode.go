package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a raw mesh frame",
		Long:  "Decode a wire frame given as hex (spaces and colons allowed). Hello summaries are expanded.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "").Replace(strings.Join(args, "")))
			if err != nil {
				return fmt.Errorf("bad hex: %w", err)
			}
			f, err := protocol.Decode(raw)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, render(titleStyle, f.Kind.String()+" frame"))
			rows := [][]string{
				{"FIELD", "VALUE"},
				{"source", f.Source.String()},
				{"destination", f.Destination.String()},
				{"next hop", f.NextHop.String()},
				{"ttl", strconv.Itoa(int(f.TTL))},
				{"payload", fmt.Sprintf("%d bytes", len(f.Payload))},
			}
			fmt.Fprint(out, table(rows))
			if f.Kind != protocol.KindHello {
				if len(f.Payload) > 0 {
					fmt.Fprintln(out, render(dimStyle, fmt.Sprintf("%q", f.Payload)))
				}
				return nil
			}
			sum, err := protocol.DecodeHello(f.Payload)
			if err != nil {
				return err
			}
			if len(sum.Routes) == 0 {
				fmt.Fprintln(out, render(dimStyle, "neighbour-only hello"))
				return nil
			}
			adv := [][]string{{"ADVERTISED", "HOPS", "VIA"}}
			for _, r := range sum.Routes {
				adv = append(adv, []string{r.Dest.String(), strconv.Itoa(int(r.Hops)), r.Via.String()})
			}
			fmt.Fprint(out, table(adv))
			return nil
		},
	}
}
