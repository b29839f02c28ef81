package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/umencoder/ume/modality"
	"github.com/umencoder/ume/tokenizer"
)

func newVocabCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vocab",
		Short: "Print the merged vocabulary across all modalities",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tokenizers []*tokenizer.Tokenizer
			for _, m := range modality.Trainable() {
				t, err := tokenizer.New(m)
				if err != nil {
					return err
				}
				tokenizers = append(tokenizers, t)
			}

			var data [][]string
			tokenizer.MergeVocabs(tokenizers).Each(func(id int32, token string) {
				data = append(data, []string{strconv.Itoa(int(id)), token})
			})

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "TOKEN"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()

			fmt.Printf("\n%d tokens\n", len(data))
			return nil
		},
	}
}
