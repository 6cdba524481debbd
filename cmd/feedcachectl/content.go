package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	var allowStale bool
	contentCmd := &cobra.Command{
		Use:   "content",
		Short: "Show the currently served content and its fallback kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := map[string]string{}
			if allowStale {
				q["allowStale"] = "true"
			}
			data, err := doGet("/v0/content", q)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	contentCmd.Flags().BoolVar(&allowStale, "allow-stale", false, "Serve a stale today item if present")
	rootCmd.AddCommand(contentCmd)

	var date string
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List cached history, or one entry by date",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := map[string]string{}
			if date != "" {
				q["date"] = date
			}
			data, err := doGet("/v0/content/history", q)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	historyCmd.Flags().StringVarP(&date, "date", "d", "", "Calendar date (YYYY-MM-DD)")
	rootCmd.AddCommand(historyCmd)

	var id, contentDate, payload string
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Store an item into the today slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || contentDate == "" || payload == "" {
				return fmt.Errorf("--id, --date and --payload required")
			}
			body := map[string]interface{}{
				"item": map[string]interface{}{
					"id":          id,
					"contentDate": contentDate,
					"payload":     json.RawMessage(payload),
				},
				"isFromNetwork": false,
			}
			data, err := doPost("/v0/content", body)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	cacheCmd.Flags().StringVar(&id, "id", "", "Content ID (required)")
	cacheCmd.Flags().StringVar(&contentDate, "date", "", "Content date YYYY-MM-DD (required)")
	cacheCmd.Flags().StringVar(&payload, "payload", "", "JSON payload (required)")
	rootCmd.AddCommand(cacheCmd)
}
