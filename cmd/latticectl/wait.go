package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// objectRef mirrors types.ObjectRef's wire shape (no JSON tags in
// pkg/types, so Go's exported field names are the wire names).
type objectRef struct {
	ID     string
	Source string
}

var waitCmd = &cobra.Command{
	Use:   "wait <workflow-id>",
	Short: "Block until a workflow's output task reaches a terminal state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx := context.Background()
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		client := newAPIClient(addr)
		path := "/v1/workflows/" + args[0] + "/wait"
		if timeout > 0 {
			path += "?timeout=" + timeout.String()
		}

		var ref objectRef
		if err := client.do(ctx, "GET", path, nil, &ref); err != nil {
			return err
		}
		fmt.Printf("%s (source=%s)\n", ref.ID, ref.Source)
		return nil
	},
}

func init() {
	waitCmd.Flags().Duration("timeout", 0, "give up after this long (0 = no timeout)")
}
