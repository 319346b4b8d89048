package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/de101/dataportal/internal/extract"
	"github.com/de101/dataportal/internal/jira"
	"github.com/de101/dataportal/internal/notify"
	"github.com/de101/dataportal/internal/piistore"
)

var (
	extractEmail string
	extractToken string
	skipGate     bool
)

var extractCmd = &cobra.Command{
	Use:   "extract TICKET-KEY",
	Short: "Run the extraction pipeline for one ticket from the CLI",
	Long: `Runs the full pipeline for a single ticket using the given tracker
credentials: fetch attachments, normalize and join against the user database,
package the encrypted archive and deliver it back to the ticket.

The PII approval gate applies exactly as in the portal unless --skip-gate is
set (intended for non-PII tickets in scripted use).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		ticketKey := args[0]

		if extractToken == "" {
			extractToken = os.Getenv("JIRA_API_TOKEN")
		}
		if extractEmail == "" || extractToken == "" {
			return fmt.Errorf("--email and --token (or JIRA_API_TOKEN) are required")
		}

		store, err := piistore.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open user database: %w", err)
		}

		ctx := context.Background()
		client := jira.NewClient(cfg.Jira.BaseURL, extractEmail, extractToken).WithTimeout(cfg.Jira.Timeout)

		if !skipGate {
			issue, err := client.GetIssue(ctx, ticketKey)
			if err != nil {
				return fmt.Errorf("fetch ticket %s: %w", ticketKey, err)
			}
			gate := &extract.Gate{Groups: client, AdminGroup: cfg.Jira.AdminGroup, PIILabel: cfg.Jira.PIILabel}
			if err := gate.Authorize(ctx, issue, extractEmail); err != nil {
				return err
			}
		}

		orch := &extract.Orchestrator{
			Tracker:  client,
			Lookup:   store,
			Notifier: notify.NewSlack(cfg.SlackWebhookURL, cfg.SlackTimeout, logger),
			Audit:    getAuditStore(),
			Locks:    extract.NewLocks(),
			Opts: extract.Options{
				WorkRoot:            cfg.Extract.WorkRoot,
				ChunkSize:           cfg.Extract.ChunkSize,
				LookupTimeout:       cfg.Database.QueryTimeout,
				DownloadConcurrency: cfg.Extract.DownloadConcurrency,
				DeliverEmptyArchive: cfg.DeliverEmpty(),
				DoneTransition:      cfg.Jira.DoneTransition,
				SupportContact:      cfg.Extract.SupportContact,
			},
			Logger: logger,
		}

		summary, err := orch.Run(ctx, ticketKey, extractEmail)
		if summary != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(summary); encErr != nil {
				logger.Warn("Could not print run summary.", "error", encErr)
			}
		}
		if err != nil {
			return fmt.Errorf("extraction run failed: %w", err)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractEmail, "email", "", "tracker account email")
	extractCmd.Flags().StringVar(&extractToken, "token", "", "tracker API token (or set JIRA_API_TOKEN)")
	extractCmd.Flags().BoolVar(&skipGate, "skip-gate", false, "bypass the PII approval gate")
}
