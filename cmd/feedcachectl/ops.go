package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force a refresh cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doPost("/v0/refresh", nil)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(refreshCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay pending interactions now",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doPost("/v0/sync", nil)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(syncCmd)

	var reason string
	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Clear all cached content",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason required")
			}
			data, err := doPost("/v0/invalidate", map[string]string{"reason": reason})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	invalidateCmd.Flags().StringVarP(&reason, "reason", "r", "", "Invalidation reason (required)")
	rootCmd.AddCommand(invalidateCmd)

	var payload string
	interactCmd := &cobra.Command{
		Use:   "interact",
		Short: "Queue an interaction payload for delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			if payload == "" {
				return fmt.Errorf("--payload required")
			}
			data, err := doPost("/v0/interactions", json.RawMessage(payload))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	interactCmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON interaction payload (required)")
	rootCmd.AddCommand(interactCmd)

	diagCmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show coordinator diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet("/v0/diagnostics", nil)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(diagCmd)
}
