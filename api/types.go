// Package api holds the request and response types of the ume HTTP
// API.
package api

import "time"

// EmbedRequest is the request passed to POST /api/embed.
type EmbedRequest struct {
	// Model is the pretrained model name.
	Model string `json:"model"`

	// Modality selects the tokenizer: amino_acid, SMILES or nucleotide.
	Modality string `json:"modality"`

	// Input is a sequence string or a list of sequence strings.
	Input any `json:"input"`

	// Aggregate mean-pools token embeddings into one vector per
	// sequence. Defaults to true.
	Aggregate *bool `json:"aggregate,omitempty"`
}

// EmbedResponse is the response from POST /api/embed. With aggregation
// each inner slice is one [hidden] vector; without it, embeddings are
// per token and Shape carries the [batch, seq_len, hidden] layout.
type EmbedResponse struct {
	Model      string        `json:"model"`
	Modality   string        `json:"modality"`
	Embeddings [][]float32   `json:"embeddings"`
	Shape      []int         `json:"shape"`
	Duration   time.Duration `json:"total_duration,omitempty"`
}

// VocabEntry is one token of the merged vocabulary.
type VocabEntry struct {
	ID    int32  `json:"id"`
	Token string `json:"token"`
}

// VocabResponse is the response from GET /api/vocab, sorted by
// ascending token id.
type VocabResponse struct {
	Tokens []VocabEntry `json:"tokens"`
}

// ModelsResponse is the response from GET /api/models.
type ModelsResponse struct {
	Models []string `json:"models"`
}
