package main

import (
	"context"
	"fmt"
	"os"

	"github.com/n9te9/go-graphql-auth-gateway/gateway"
	"github.com/n9te9/go-graphql-auth-gateway/server"
	"github.com/spf13/cobra"
)

const version = "v0.1.0"

var configPath string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of the gateway",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "GraphQL Auth Gateway %s\n", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample gateway config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := server.Init(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		option, err := gateway.LoadOption(configPath)
		if err != nil {
			return err
		}

		logger, err := gateway.NewLogger(option.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		return server.Run(context.Background(), option, logger, version)
	},
}

func main() {
	rootCmd := cobra.Command{
		Use:          "federation-gateway",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gateway.yaml", "path to the gateway config")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
