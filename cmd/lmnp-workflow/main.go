package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/ronappleton/lmnp-workflow/internal/cli"
	"github.com/ronappleton/lmnp-workflow/internal/config"
	grpcserver "github.com/ronappleton/lmnp-workflow/internal/grpc"
	"github.com/ronappleton/lmnp-workflow/internal/httpserver"
	"github.com/ronappleton/lmnp-workflow/internal/logging"
	"github.com/ronappleton/lmnp-workflow/internal/otel"
	"github.com/ronappleton/lmnp-workflow/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	rootCmd := cli.NewRootCommand()

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		startServer(configPath)
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startServer(configPath string) {
	app := fx.New(
		config.Module(configPath),
		logging.Module(),
		otel.Module("lmnp-workflow"),
		workflow.Module(),
		grpcserver.Module,
		httpserver.Module(),
	)

	app.Run()
}
