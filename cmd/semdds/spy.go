package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360/semdds/dds"
)

func newSpyCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "spy",
		Short: "Print what discovery learns about the domain",
		Long: `spy prints the built-in topics: remote participants, topics, publications
and subscriptions as they appear and disappear.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withNode(cmd.Context(), func(ctx context.Context, n *node) error {
				return runSpy(ctx, n, samplePrinter{out: cmd.OutOrStdout(), asJSON: asJSON})
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON frames")
	return cmd
}

func runSpy(ctx context.Context, n *node, printer samplePrinter) error {
	builtin := n.participant.GetBuiltinSubscriber()
	var readers []*dds.DataReader
	for _, name := range dds.BuiltinTopicNames() {
		r := builtin.LookupDataReader(name)
		if r == nil {
			return fmt.Errorf("built-in reader %s missing", name)
		}
		readers = append(readers, r)
	}
	return takeLoop(ctx, readers, func(r *dds.DataReader, s dds.Sample) (bool, error) {
		return false, printer.print(r.GetTopicDescription().GetName(), s)
	})
}
