package main

import (
	"bufio"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events <workflow-id>",
	Short: "Stream a workflow's task state-transition events (SSE)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		resp, err := http.Get(addr + "/v1/workflows/" + args[0] + "/events")
		if err != nil {
			return fmt.Errorf("request events: %w", err)
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			fmt.Println(line)
		}
		return scanner.Err()
	},
}
