package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/umencoder/ume/api"
	"github.com/umencoder/ume/checkpoint"
	"github.com/umencoder/ume/encoder"
	"github.com/umencoder/ume/envconfig"
	"github.com/umencoder/ume/modality"
)

func newEmbedCmd() *cobra.Command {
	var (
		modelName    string
		modalityName string
		perToken     bool
	)

	cmd := &cobra.Command{
		Use:   "embed SEQUENCE...",
		Short: "Embed sequences with a pretrained encoder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := modality.Parse(modalityName)
			if err != nil {
				return err
			}

			client := checkpoint.NewClient(envconfig.Models())
			flash := envconfig.FlashAttention(false)
			enc, err := encoder.FromPretrained(cmd.Context(), modelName, client, envconfig.Device(), &flash)
			if err != nil {
				return err
			}
			enc.Freeze()

			emb, err := enc.EmbedSequences(args, m, !perToken)
			if err != nil {
				return err
			}

			shape := []int(emb.Shape())
			data := emb.Data().([]float32)
			rowLen := len(data) / shape[0]
			rows := make([][]float32, shape[0])
			for i := range rows {
				rows[i] = data[i*rowLen : (i+1)*rowLen]
			}

			out := json.NewEncoder(os.Stdout)
			return out.Encode(api.EmbedResponse{
				Model:      modelName,
				Modality:   m.String(),
				Embeddings: rows,
				Shape:      shape,
			})
		},
	}

	cmd.Flags().StringVar(&modelName, "model", "ume-mini-base-12M", "Pretrained model name")
	cmd.Flags().StringVar(&modalityName, "modality", "amino_acid", "Sequence modality: amino_acid, SMILES or nucleotide")
	cmd.Flags().BoolVar(&perToken, "per-token", false, "Emit per-token embeddings instead of mean pooling")

	return cmd
}
