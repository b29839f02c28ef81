// Package ml defines the narrow interfaces the encoder consumes: the
// transformer backbone, its resolved architecture configuration, and the
// tensor conventions shared across packages.
//
// Tensors are github.com/pdevine/tensor dense tensors. Token ids and
// attention masks are int32, latents and logits float32.
package ml

import (
	"fmt"

	"github.com/pdevine/tensor"
)

// Context carries per-call execution state into the backbone.
type Context struct {
	// Grad enables gradient tracking for the forward pass. Embedding
	// extraction on a frozen encoder runs with Grad false.
	Grad bool

	// Training distinguishes training from validation forward passes.
	Training bool
}

// Config describes the backbone the encoder wraps.
type Config struct {
	HiddenSize int
	VocabSize  int
	MaxLength  int
	Arch       ArchConfig

	// MaskPercentage is the fraction of non-special tokens replaced by the
	// mask token when preparing MLM inputs.
	MaskPercentage float64

	PadTokenID  int32
	MaskTokenID int32
	ClsTokenID  int32
	EosTokenID  int32
}

// Backbone is the token-to-latent model the encoder is built on. The
// encoder core never looks inside: attention, positional encoding and
// parameter storage are the implementation's business.
//
// Callers must not invoke methods of one Backbone concurrently.
type Backbone interface {
	// TokensToLatents embeds a single-view batch. inputIDs and
	// attentionMask are [batch, 1, seq_len] int32. The returned latents
	// are [batch*seq_len, hidden] in the unpadded layout and
	// [batch, seq_len, hidden] in the padded layout.
	TokensToLatents(ctx Context, inputIDs, attentionMask *tensor.Dense) (*tensor.Dense, error)

	// MaskInputs prepares MLM inputs: a copy of inputIDs with a fraction
	// of non-special tokens replaced by the mask token, and labels
	// carrying the original ids at masked positions and IgnoreIndex
	// everywhere else.
	MaskInputs(inputIDs *tensor.Dense) (masked, labels *tensor.Dense, err error)

	// Forward runs the model over masked ids and returns hidden states,
	// [rows, hidden] with rows = batch*seq_len.
	Forward(ctx Context, inputIDs, attentionMask *tensor.Dense, maxSeqLen int) (*tensor.Dense, error)

	// Decode projects hidden states to vocabulary logits [rows, vocab].
	Decode(hidden *tensor.Dense) (*tensor.Dense, error)

	// Loss computes mean cross-entropy of logits against labels, skipping
	// positions labeled IgnoreIndex.
	Loss(logits, labels *tensor.Dense) (float64, error)

	// LoadStateDict installs pretrained weights.
	LoadStateDict(weights map[string]*tensor.Dense) error

	Config() Config
}

var backbones = make(map[string]func(Config) (Backbone, error))

// RegisterBackbone registers a backbone factory under an architecture
// name. It panics when the name is taken; registration happens in init
// functions where a duplicate is a programming error.
func RegisterBackbone(name string, f func(Config) (Backbone, error)) {
	if _, ok := backbones[name]; ok {
		panic("ml: backbone already registered: " + name)
	}
	backbones[name] = f
}

// NewBackbone constructs a registered backbone.
func NewBackbone(name string, cfg Config) (Backbone, error) {
	f, ok := backbones[name]
	if !ok {
		return nil, fmt.Errorf("unsupported backbone architecture %q", name)
	}
	return f(cfg)
}
