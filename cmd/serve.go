package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/job-agents/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversation over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApplication(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := defaultAddr
		if a.config.Serve != nil && a.config.Serve.Addr != "" {
			addr = a.config.Serve.Addr
		}

		handler := httpapi.New(a.orch, a.logger.Named("http"))
		if err := httpapi.ListenAndServe(ctx, addr, handler, a.logger); err != nil {
			return err
		}

		// Let in-flight turns end before the store closes.
		return a.orch.Clear(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8080)")
	viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
}
