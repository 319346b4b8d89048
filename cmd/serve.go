package cmd

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/de101/dataportal/internal/jira"
	"github.com/de101/dataportal/internal/notify"
	"github.com/de101/dataportal/internal/piistore"
	"github.com/de101/dataportal/internal/session"
	"github.com/de101/dataportal/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the portal web server",
	Long: `Starts the HTTP portal: login against the tracker, the ticket list,
and the extraction endpoint guarded by the PII approval gate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		store, err := piistore.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open user database: %w", err)
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		})
		sessions := session.New(rdb, cfg.Session.TTL)

		notifier := notify.NewSlack(cfg.SlackWebhookURL, cfg.SlackTimeout, logger)
		trackerFor := func(email, token string) *jira.Client {
			return jira.NewClient(cfg.Jira.BaseURL, email, token).WithTimeout(cfg.Jira.Timeout)
		}

		srv := web.NewServer(cfg, sessions, trackerFor, store, notifier, getAuditStore(), logger)
		logger.Info("Portal listening.", "addr", cfg.Listen)
		return srv.Run(cfg.Listen)
	},
}
