package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// submitResponse mirrors pkg/api's submitResponse wire shape.
type submitResponse struct {
	WorkflowID string `json:"workflow_id"`
}

var submitCmd = &cobra.Command{
	Use:   "submit <graph.json>",
	Short: "Submit a workflow graph (flat {graph, functions, inputs} document)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		payload, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		client := newAPIClient(addr)
		var resp submitResponse
		if err := client.doRaw(context.Background(), "POST", "/v1/workflows", payload, &resp); err != nil {
			return err
		}
		fmt.Println(resp.WorkflowID)
		return nil
	},
}
