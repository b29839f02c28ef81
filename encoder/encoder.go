// Package encoder implements the universal molecular encoder: a
// multi-modal masked-language-model over amino acid, nucleotide and
// SMILES sequences sharing one backbone, optionally blended with a
// contrastive alignment objective across modality views.
//
// An Encoder owns one tokenizer transform per trainable modality, the
// backbone it trains or embeds with, and the running perplexity
// accumulators for the whole run. It is not safe for concurrent use:
// the training driver must serialize step calls against one instance.
package encoder

import (
	"fmt"
	"log/slog"

	"github.com/emirpasic/gods/v2/maps/treemap"
	"github.com/pdevine/tensor"

	"github.com/umencoder/ume/input"
	"github.com/umencoder/ume/losses"
	"github.com/umencoder/ume/metrics"
	"github.com/umencoder/ume/ml"
	"github.com/umencoder/ume/modality"
	"github.com/umencoder/ume/tokenizer"
)

type perplexityKey struct {
	stage string
	mod   modality.Modality
}

// Encoder wires the backbone, per-modality tokenizers, loss
// configuration and metric sinks into one trainable model.
type Encoder struct {
	backbone   ml.Backbone
	transforms map[modality.Modality]*tokenizer.Transform

	lossType   LossType
	lossWeight float64

	infonce *losses.InfoNCE
	symile  *losses.Symile

	recorder metrics.Recorder
	logger   *slog.Logger

	// perplexity holds one accumulator per (stage, modality), built once
	// at construction. Accumulators persist across the run; the training
	// driver resets them between epochs.
	perplexity map[perplexityKey]*metrics.Perplexity

	frozen bool
}

type Option func(*Encoder)

// WithLossType selects the contrastive objective. Default is LossNone.
func WithLossType(t LossType) Option {
	return func(e *Encoder) { e.lossType = t }
}

// WithLossWeight sets the scalar in [0, 1] blending contrastive and MLM
// loss: total = (1-w)*mlm + w*contrastive.
func WithLossWeight(w float64) Option {
	return func(e *Encoder) { e.lossWeight = w }
}

// WithTemperature sets the contrastive temperature for both InfoNCE and
// Symile.
func WithTemperature(t float64) Option {
	return func(e *Encoder) {
		e.infonce.Temperature = t
		e.symile.Temperature = t
	}
}

// WithGather installs the cross-process embedding gather hook used by
// the disco_clip loss. Without it disco_clip reduces to clip.
func WithGather(f func(*tensor.Dense) (*tensor.Dense, error)) Option {
	return func(e *Encoder) { e.infonce.Gather = f }
}

// WithRecorder directs metric emission. Default discards.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Encoder) { e.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Encoder) { e.logger = l }
}

// New constructs an encoder around a backbone. Tokenizer transforms are
// built for every trainable modality using the backbone's configured
// maximum length.
func New(b ml.Backbone, opts ...Option) (*Encoder, error) {
	if b == nil {
		return nil, fmt.Errorf("encoder: nil backbone")
	}

	e := &Encoder{
		backbone:   b,
		transforms: make(map[modality.Modality]*tokenizer.Transform),
		lossType:   LossNone,
		infonce:    losses.NewInfoNCE(losses.DefaultTemperature, false),
		symile:     losses.NewSymile(losses.DefaultTemperature),
		recorder:   metrics.Discard,
		logger:     slog.Default(),
		perplexity: make(map[perplexityKey]*metrics.Perplexity),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.lossWeight < 0 || e.lossWeight > 1 {
		return nil, fmt.Errorf("encoder: contrastive loss weight %v outside [0, 1]", e.lossWeight)
	}
	e.infonce.Disco = e.lossType == LossDiscoCLIP

	for _, m := range modality.Trainable() {
		t, err := tokenizer.NewTransform(m, b.Config().MaxLength)
		if err != nil {
			return nil, fmt.Errorf("encoder: building %s transform: %w", m, err)
		}
		e.transforms[m] = t

		for _, stage := range []string{"train", "val"} {
			e.perplexity[perplexityKey{stage, m}] = &metrics.Perplexity{}
		}
	}

	return e, nil
}

// Backbone exposes the wrapped model.
func (e *Encoder) Backbone() ml.Backbone {
	return e.backbone
}

// LossType reports the configured contrastive objective.
func (e *Encoder) LossType() LossType {
	return e.lossType
}

// Modalities lists the modalities the encoder can tokenize, in the
// fixed vocabulary merge order.
func (e *Encoder) Modalities() []modality.Modality {
	return modality.Trainable()
}

// Transform returns the tokenizer transform for a modality.
func (e *Encoder) Transform(m modality.Modality) (*tokenizer.Transform, error) {
	t, ok := e.transforms[m]
	if !ok {
		return nil, fmt.Errorf("encoder: no tokenizer for modality %s", m)
	}
	return t, nil
}

// Freeze disables gradient tracking for subsequent forward passes.
func (e *Encoder) Freeze() {
	e.frozen = true
}

// Unfreeze restores gradient tracking.
func (e *Encoder) Unfreeze() {
	e.frozen = false
}

// Frozen reports whether the encoder runs without gradients.
func (e *Encoder) Frozen() bool {
	return e.frozen
}

// ResetMetrics clears every perplexity accumulator. The training driver
// calls it between epochs.
func (e *Encoder) ResetMetrics() {
	for _, p := range e.perplexity {
		p.Reset()
	}
}

// GetVocab merges the per-modality vocabularies into one id-to-token
// map sorted by ascending id, dropping reserved filler entries. Token
// ids are not unique across modalities: on collision the later modality
// wins, in the fixed amino acid, SMILES, nucleotide merge order. Token
// strings may repeat; inverting the map loses information.
func (e *Encoder) GetVocab() *treemap.Map[int32, string] {
	tokenizers := make([]*tokenizer.Tokenizer, 0, len(e.transforms))
	for _, m := range modality.Trainable() {
		if t, ok := e.transforms[m]; ok {
			tokenizers = append(tokenizers, t.Tokenizer())
		}
	}
	return tokenizer.MergeVocabs(tokenizers)
}

// Embed produces embeddings for a single-view batch. A rank-2 ids
// tensor is treated as [batch, seq_len] and lifted to a singleton view
// dimension. Multi-view batches must be split first; a view dimension
// other than 1 is an error.
//
// With aggregate true the result is mean-pooled over the sequence to
// [batch, hidden]; otherwise it is [batch, seq_len, hidden].
func (e *Encoder) Embed(b input.Batch, aggregate bool) (*tensor.Dense, error) {
	if b.InputIDs == nil || b.AttentionMask == nil {
		return nil, input.ErrMissingKeys
	}

	ids, err := liftTo3D(b.InputIDs)
	if err != nil {
		return nil, err
	}
	mask, err := liftTo3D(b.AttentionMask)
	if err != nil {
		return nil, err
	}
	if ids.Shape()[1] != 1 {
		return nil, fmt.Errorf("input ids must have shape (batch_size, 1, length), got %v", ids.Shape())
	}

	ctx := ml.Context{Grad: !e.frozen}
	latents, err := e.backbone.TokensToLatents(ctx, ids, mask)
	if err != nil {
		return nil, fmt.Errorf("computing latents: %w", err)
	}

	batch := ids.Shape()[0]
	seqLen := ids.Shape()[2]
	hidden := e.backbone.Config().HiddenSize

	if e.backbone.Config().Arch.Padding == ml.PaddingUnpadded {
		if !latents.Shape().Eq(tensor.Shape{batch * seqLen, hidden}) {
			return nil, fmt.Errorf("unexpected latent shape %v for %d sequences of length %d", latents.Shape(), batch, seqLen)
		}
		latents = tensor.New(tensor.WithShape(batch, seqLen, hidden), tensor.WithBacking(latents.Data()))
	}

	if aggregate {
		return meanPool(latents)
	}
	return latents, nil
}

// EmbedSequences tokenizes raw sequences under a modality and embeds
// them. Sequence lengths include the cls and eos special tokens.
func (e *Encoder) EmbedSequences(seqs []string, m modality.Modality, aggregate bool) (*tensor.Dense, error) {
	t, err := e.Transform(m)
	if err != nil {
		return nil, err
	}

	batch, err := t.Transform(seqs)
	if err != nil {
		return nil, fmt.Errorf("tokenizing %s sequences: %w", m, err)
	}
	return e.Embed(batch, aggregate)
}

// liftTo3D inserts a singleton view dimension into a [batch, seq_len]
// tensor. The returned tensor shares the input's storage.
func liftTo3D(t *tensor.Dense) (*tensor.Dense, error) {
	switch t.Dims() {
	case 3:
		return t, nil
	case 2:
		shape := t.Shape()
		return tensor.New(tensor.WithShape(shape[0], 1, shape[1]), tensor.WithBacking(t.Data())), nil
	default:
		return nil, fmt.Errorf("input tensors must be rank 2 or 3, got shape %v", t.Shape())
	}
}

// meanPool averages [batch, seq_len, hidden] over the sequence
// dimension.
func meanPool(t *tensor.Dense) (*tensor.Dense, error) {
	if t.Dims() != 3 {
		return nil, fmt.Errorf("mean pooling needs rank-3 latents, got shape %v", t.Shape())
	}

	batch, seqLen, hidden := t.Shape()[0], t.Shape()[1], t.Shape()[2]
	data := t.Data().([]float32)
	out := make([]float32, batch*hidden)

	for b := 0; b < batch; b++ {
		dst := out[b*hidden : (b+1)*hidden]
		for s := 0; s < seqLen; s++ {
			row := data[(b*seqLen+s)*hidden : (b*seqLen+s+1)*hidden]
			for i, v := range row {
				dst[i] += v
			}
		}
		for i := range dst {
			dst[i] /= float32(seqLen)
		}
	}

	return tensor.New(tensor.WithShape(batch, hidden), tensor.WithBacking(out)), nil
}
