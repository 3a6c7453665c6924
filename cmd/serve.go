package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"conductor/internal/apihandlers"
)

// serveCmd starts the HTTP job control API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job control API",
	Long: `Serves the job control surface over HTTP:
  POST /api/v1/jobs            submit a batch
  GET  /api/v1/jobs/:id        poll job status
  POST /api/v1/jobs/:id/retry  retry failed tasks (":id" may be "latest")
  GET  /api/v1/batches/latest  inspect the latest persisted batch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		router := apihandlers.NewRouter(&apihandlers.APIHandler{App: appInstance})
		addr := appInstance.Config.Server.Address

		log.Infof("Serving job control API on %s", addr)
		if err := router.Run(addr); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
