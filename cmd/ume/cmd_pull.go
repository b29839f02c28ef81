package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/umencoder/ume/checkpoint"
	"github.com/umencoder/ume/envconfig"
)

func newPullCmd() *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "pull MODEL",
		Short: "Download a pretrained checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := checkpoint.NewClient(envconfig.Models())

			if verify {
				weights, err := client.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("pulled %s: %d tensors verified\n", args[0], len(weights))
				return nil
			}

			path, err := client.Pull(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("pulled %s to %s\n", args[0], path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "Parse the checkpoint after download, re-downloading on corruption")

	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List available pretrained models",
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data [][]string
			for _, name := range checkpoint.Names() {
				spec, err := checkpoint.Resolve(name)
				if err != nil {
					return err
				}
				data = append(data, []string{
					spec.Name,
					strconv.Itoa(spec.HiddenSize),
					strconv.Itoa(spec.MaxLength),
				})
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"NAME", "HIDDEN", "MAX LENGTH"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()

			return nil
		},
	}
}
