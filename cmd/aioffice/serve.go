package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aioffice/internal/agents"
	"aioffice/internal/config"
	"aioffice/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator service",
		Long: `Start the HTTP service hosting the agent pipeline behind
POST /v1/orchestrate. The case engine and other clients talk to this
endpoint to get booking suggestions.`,
		RunE: runServe,
	}
	cmd.Flags().String("listen", "", "listen address (default :8000)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	srv := server.New(agents.NewPipeline(), version)
	return srv.Serve(cmd.Context(), cfg.ListenAddr)
}
