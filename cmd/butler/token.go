package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/config"
)

func buildTokenCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a JWT for a configured user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			service := auth.NewService(cfg.Auth)
			token, err := service.Generate(&auth.User{ID: args[0]})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "butler.yaml", "Path to configuration file")
	return cmd
}
