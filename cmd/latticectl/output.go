package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var outputCmd = &cobra.Command{
	Use:   "output <workflow-id>",
	Short: "Print a succeeded workflow's output object payload to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		resp, err := http.Get(addr + "/v1/workflows/" + args[0] + "/output")
		if err != nil {
			return fmt.Errorf("request output: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("output: %s: %s", resp.Status, string(body))
		}
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	},
}
