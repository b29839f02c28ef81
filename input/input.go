// Package input defines the batch types fed to the encoder and the
// splitter that decomposes combined multi-view batches.
package input

import (
	"errors"
	"fmt"

	"github.com/pdevine/tensor"

	"github.com/umencoder/ume/modality"
)

var (
	ErrMissingKeys = errors.New("batch must contain input_ids and attention_mask")
	ErrRank        = errors.New("batch tensors must have shape (batch_size, num_views, seq_len)")
)

// Batch is one training or validation batch. InputIDs and AttentionMask
// are rank-3 int32 tensors shaped [batch, views, seq_len]. Modalities
// carries one tag per example per view.
type Batch struct {
	InputIDs      *tensor.Dense
	AttentionMask *tensor.Dense
	Modalities    [][]modality.Modality
}

// Views reports the size of the view dimension, or 0 when the batch is
// malformed.
func (b Batch) Views() int {
	if b.InputIDs == nil || b.InputIDs.Dims() != 3 {
		return 0
	}
	return b.InputIDs.Shape()[1]
}

// Validate checks the structural invariants shared by all loss paths.
func (b Batch) Validate() error {
	if b.InputIDs == nil || b.AttentionMask == nil {
		return ErrMissingKeys
	}
	if b.InputIDs.Dims() != 3 {
		return fmt.Errorf("%w, got input_ids shape %v", ErrRank, b.InputIDs.Shape())
	}
	if !b.InputIDs.Shape().Eq(b.AttentionMask.Shape()) {
		return fmt.Errorf("input_ids shape %v does not match attention_mask shape %v",
			b.InputIDs.Shape(), b.AttentionMask.Shape())
	}
	if b.InputIDs.Shape()[1] <= 0 {
		return errors.New("number of views must be positive")
	}
	return nil
}

// View is a single-view batch produced by Split. Tensors keep a singleton
// view dimension: [batch, 1, seq_len].
type View struct {
	InputIDs      *tensor.Dense
	AttentionMask *tensor.Dense
	Modalities    []modality.Modality
}

// Split decomposes a combined batch of N views into N independent
// single-view batches. Each view owns contiguous copies of its tensor
// slices, so views remain valid forward-pass inputs regardless of what
// happens to the combined batch.
func Split(b Batch) ([]View, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	batchSize := b.InputIDs.Shape()[0]
	views := b.InputIDs.Shape()[1]

	if len(b.Modalities) != batchSize {
		return nil, fmt.Errorf("got %d modality entries for batch size %d", len(b.Modalities), batchSize)
	}
	for i, m := range b.Modalities {
		if len(m) != views {
			return nil, fmt.Errorf("example %d has %d modality tags for %d views", i, len(m), views)
		}
	}

	out := make([]View, views)
	for v := 0; v < views; v++ {
		ids, err := sliceView(b.InputIDs, v)
		if err != nil {
			return nil, fmt.Errorf("slicing input_ids view %d: %w", v, err)
		}
		mask, err := sliceView(b.AttentionMask, v)
		if err != nil {
			return nil, fmt.Errorf("slicing attention_mask view %d: %w", v, err)
		}

		mods := make([]modality.Modality, batchSize)
		for i := range b.Modalities {
			mods[i] = b.Modalities[i][v]
		}

		out[v] = View{InputIDs: ids, AttentionMask: mask, Modalities: mods}
	}

	return out, nil
}

// sliceView extracts view v of a [batch, views, seq_len] tensor as a
// contiguous [batch, 1, seq_len] copy.
func sliceView(t *tensor.Dense, v int) (*tensor.Dense, error) {
	sl, err := t.Slice(nil, tensor.S(v, v+1), nil)
	if err != nil {
		return nil, err
	}
	mat := tensor.Materialize(sl)
	d, ok := mat.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("materialized view is %T, not a dense tensor", mat)
	}
	return d, nil
}
