package tokenizer

import (
	"errors"
	"fmt"

	"github.com/pdevine/tensor"

	"github.com/umencoder/ume/input"
	"github.com/umencoder/ume/modality"
)

// Transform tokenizes batches of raw sequences into encoder input
// batches. It is constructed once per modality at encoder initialization
// and is immutable afterwards.
type Transform struct {
	tokenizer *Tokenizer
	maxLength int
}

// NewTransform builds the transform for a modality. maxLength bounds the
// tokenized sequence length including the <cls> and <eos> frame.
func NewTransform(m modality.Modality, maxLength int) (*Transform, error) {
	if maxLength < 3 {
		return nil, fmt.Errorf("max length %d leaves no room for sequence tokens", maxLength)
	}
	tok, err := New(m)
	if err != nil {
		return nil, err
	}
	return &Transform{tokenizer: tok, maxLength: maxLength}, nil
}

// Tokenizer exposes the underlying tokenizer.
func (t *Transform) Tokenizer() *Tokenizer {
	return t.tokenizer
}

// Modality reports which modality this transform serves.
func (t *Transform) Modality() modality.Modality {
	return t.tokenizer.Modality()
}

// Transform tokenizes sequences into a single-view batch. Sequences are
// padded to the longest in the batch and truncated to the configured
// maximum length; the attention mask is 1 on real tokens and 0 on
// padding.
func (t *Transform) Transform(seqs []string) (input.Batch, error) {
	if len(seqs) == 0 {
		return input.Batch{}, errors.New("no sequences to tokenize")
	}

	encoded := make([][]int32, len(seqs))
	longest := 0
	for i, s := range seqs {
		ids, err := t.tokenizer.Encode(s)
		if err != nil {
			return input.Batch{}, fmt.Errorf("sequence %d: %w", i, err)
		}
		if len(ids) > t.maxLength {
			// Keep the frame: truncate the middle, not the <eos>.
			ids = append(ids[:t.maxLength-1:t.maxLength-1], EosTokenID)
		}
		encoded[i] = ids
		if len(ids) > longest {
			longest = len(ids)
		}
	}

	ids := make([]int32, len(seqs)*longest)
	mask := make([]int32, len(seqs)*longest)
	mods := make([][]modality.Modality, len(seqs))
	for i, e := range encoded {
		row := ids[i*longest : (i+1)*longest]
		for j := range row {
			row[j] = PadTokenID
		}
		copy(row, e)
		for j := range e {
			mask[i*longest+j] = 1
		}
		mods[i] = []modality.Modality{t.tokenizer.Modality()}
	}

	return input.Batch{
		InputIDs:      tensor.New(tensor.WithShape(len(seqs), 1, longest), tensor.WithBacking(ids)),
		AttentionMask: tensor.New(tensor.WithShape(len(seqs), 1, longest), tensor.WithBacking(mask)),
		Modalities:    mods,
	}, nil
}
