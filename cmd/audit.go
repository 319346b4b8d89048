package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	auditLimit  int
	auditTicket string
	auditEvents bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show extraction audit history",
	Long: `Prints recent extraction audit rows, newest first. With --events the
pipeline state-transition history is shown instead, optionally filtered to
one ticket key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store := getAuditStore()

		if auditEvents {
			events, err := store.RecentEvents(ctx, auditTicket, auditLimit)
			if err != nil {
				return err
			}
			fmt.Printf("--- Pipeline Events (Limit %d) ---\n", auditLimit)
			fmt.Printf("%-12s | %-12s | %-25s | %-10s | %s\n", "Ticket", "State", "Timestamp (UTC)", "DurationMS", "Message")
			for _, e := range events {
				dur := ""
				if e.DurationMs > 0 {
					dur = fmt.Sprintf("%d", e.DurationMs)
				}
				fmt.Printf("%-12s | %-12s | %-25s | %-10s | %s\n",
					e.TicketKey, e.State, e.EventTime.Format(time.RFC3339), dur, e.Message)
			}
			fmt.Printf("Displayed %d events.\n", len(events))
			return nil
		}

		audits, err := store.RecentAudits(ctx, auditLimit)
		if err != nil {
			return err
		}
		fmt.Printf("--- Extraction Audit (Limit %d) ---\n", auditLimit)
		fmt.Printf("%-30s | %-12s | %-20s | %-25s | %s\n", "Extractor", "Ticket", "Archive", "Created (UTC)", "Path")
		for _, a := range audits {
			fmt.Printf("%-30s | %-12s | %-20s | %-25s | %s\n",
				a.Extractor, a.TicketKey, a.FileName, a.CreatedAt.Format(time.RFC3339), a.FilePath)
		}
		fmt.Printf("Displayed %d records.\n", len(audits))
		return nil
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum rows to display")
	auditCmd.Flags().StringVar(&auditTicket, "ticket", "", "filter events to one ticket key")
	auditCmd.Flags().BoolVar(&auditEvents, "events", false, "show pipeline events instead of audit rows")
}
