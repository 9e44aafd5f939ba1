package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Poll a workflow instance's current state without blocking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		client := newAPIClient(addr)

		var instance map[string]any
		if err := client.do(context.Background(), "GET", "/v1/workflows/"+args[0], nil, &instance); err != nil {
			return err
		}
		encoded, _ := json.MarshalIndent(instance, "", "  ")
		fmt.Println(string(encoded))
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a running workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		client := newAPIClient(addr)
		if err := client.do(context.Background(), "POST", "/v1/workflows/"+args[0]+"/cancel", nil, nil); err != nil {
			return err
		}
		fmt.Println("cancelled")
		return nil
	},
}
