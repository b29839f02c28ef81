package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/umencoder/ume/envconfig"
	"github.com/umencoder/ume/server"
)

func newServeCmd() *cobra.Command {
	var modelName string

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the ume server",
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", envconfig.Host().Host)
			if err != nil {
				return err
			}

			err = server.Serve(ln, modelName)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&modelName, "model", "ume-mini-base-12M", "Pretrained model to serve")

	return cmd
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print ume environment configuration",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			envs := envconfig.AsMap()

			names := make([]string, 0, len(envs))
			for name := range envs {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				e := envs[name]
				fmt.Fprintf(os.Stdout, "%-24s %v\n", e.Name, e.Value)
			}
			return nil
		},
	}
}
