package encoder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pdevine/tensor"

	"github.com/umencoder/ume/checkpoint"
	"github.com/umencoder/ume/envconfig"
	"github.com/umencoder/ume/ml"
	"github.com/umencoder/ume/tokenizer"
)

// DefaultMaskPercentage is the fraction of non-special tokens masked
// when preparing MLM inputs.
const DefaultMaskPercentage = 0.25

// Loader fetches a named checkpoint's weights. *checkpoint.Client
// implements it.
type Loader interface {
	Load(ctx context.Context, name string) (map[string]*tensor.Dense, error)
}

// FromPretrained builds an encoder from a published checkpoint. The
// architecture layout is resolved once from the requested device and
// flash-attention preference before construction; a nil flashAttn
// defers to the resolved device. The contrastive objective and loss
// weight default from UME_CONTRASTIVE_LOSS and UME_CONTRASTIVE_WEIGHT,
// and UME_MAX_LENGTH can cap the checkpoint's sequence length; explicit
// options override the environment.
func FromPretrained(ctx context.Context, name string, loader Loader, device string, flashAttn *bool, opts ...Option) (*Encoder, error) {
	spec, err := checkpoint.Resolve(name)
	if err != nil {
		return nil, err
	}

	arch, err := ml.ResolveArch(device, flashAttn, true)
	if err != nil {
		return nil, err
	}

	lossType, err := ParseLossType(envconfig.ContrastiveLossType())
	if err != nil {
		return nil, err
	}
	options := append([]Option{
		WithLossType(lossType),
		WithLossWeight(envconfig.ContrastiveLossWeight()),
	}, opts...)

	maxLength := spec.MaxLength
	if n := int(envconfig.MaxLength()); n > 0 && n < maxLength {
		maxLength = n
	}

	cfg := ml.Config{
		HiddenSize:     spec.HiddenSize,
		VocabSize:      tokenizer.VocabSize,
		MaxLength:      maxLength,
		Arch:           arch,
		MaskPercentage: DefaultMaskPercentage,
		ClsTokenID:     tokenizer.ClsTokenID,
		PadTokenID:     tokenizer.PadTokenID,
		EosTokenID:     tokenizer.EosTokenID,
		MaskTokenID:    tokenizer.MaskTokenID,
	}

	bb, err := ml.NewBackbone("reference", cfg)
	if err != nil {
		return nil, err
	}

	weights, err := loader.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for %s: %w", name, err)
	}
	if err := bb.LoadStateDict(weights); err != nil {
		return nil, fmt.Errorf("installing weights for %s: %w", name, err)
	}

	slog.Info("loaded pretrained encoder", "model", name, "hidden_size", spec.HiddenSize, "device", arch.Device, "padding", arch.Padding)

	return New(bb, options...)
}
