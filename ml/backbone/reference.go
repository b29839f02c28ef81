// Package backbone provides the reference token-to-latent model. It is
// a small deterministic encoder: a learned embedding table, one round
// of masked neighborhood mixing in place of attention, and a decoder
// head tied to the embeddings. It exists so the full pipeline runs and
// tests end to end on CPU; heavier architectures register themselves
// under their own names.
package backbone

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pdevine/tensor"

	"github.com/umencoder/ume/ml"
)

func init() {
	ml.RegisterBackbone("reference", func(cfg ml.Config) (ml.Backbone, error) {
		return New(cfg)
	})
}

// Reference is the built-in backbone. Weights initialize
// deterministically from the vocabulary layout so two instances with
// the same config agree; LoadStateDict replaces them with pretrained
// values.
type Reference struct {
	cfg ml.Config

	// embedding is row-major [vocab, hidden]; the decoder reuses it as a
	// tied output projection plus a bias.
	embedding   []float32
	decoderBias []float32

	rng *rand.Rand
}

// New constructs a Reference backbone from cfg.
func New(cfg ml.Config) (*Reference, error) {
	if cfg.HiddenSize <= 0 || cfg.VocabSize <= 0 {
		return nil, fmt.Errorf("backbone: hidden size %d and vocab size %d must be positive", cfg.HiddenSize, cfg.VocabSize)
	}
	if cfg.MaskPercentage < 0 || cfg.MaskPercentage >= 1 {
		return nil, fmt.Errorf("backbone: mask percentage %v outside [0, 1)", cfg.MaskPercentage)
	}

	r := &Reference{
		cfg:         cfg,
		embedding:   make([]float32, cfg.VocabSize*cfg.HiddenSize),
		decoderBias: make([]float32, cfg.VocabSize),
		rng:         rand.New(rand.NewPCG(0x7572, 0x6d65)),
	}
	init := rand.New(rand.NewPCG(uint64(cfg.VocabSize), uint64(cfg.HiddenSize)))
	scale := float32(1 / math.Sqrt(float64(cfg.HiddenSize)))
	for i := range r.embedding {
		r.embedding[i] = float32(init.NormFloat64()) * scale
	}
	return r, nil
}

func (r *Reference) Config() ml.Config {
	return r.cfg
}

// special reports whether id is one of the tokens MLM masking skips.
func (r *Reference) special(id int32) bool {
	switch id {
	case r.cfg.PadTokenID, r.cfg.MaskTokenID, r.cfg.ClsTokenID, r.cfg.EosTokenID:
		return true
	}
	return false
}

// MaskInputs copies inputIDs, replaces a MaskPercentage fraction of
// non-special tokens with the mask token, and builds labels carrying
// the original ids at masked positions and IgnoreIndex elsewhere.
func (r *Reference) MaskInputs(inputIDs *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	ids, ok := inputIDs.Data().([]int32)
	if !ok {
		return nil, nil, fmt.Errorf("backbone: input ids must be int32")
	}

	masked := make([]int32, len(ids))
	labels := make([]int32, len(ids))
	copy(masked, ids)
	for i := range labels {
		labels[i] = ml.IgnoreIndex
	}

	for i, id := range ids {
		if r.special(id) {
			continue
		}
		if r.rng.Float64() < r.cfg.MaskPercentage {
			labels[i] = id
			masked[i] = r.cfg.MaskTokenID
		}
	}

	shape := inputIDs.Shape()
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(masked)),
		tensor.New(tensor.WithShape(shape...), tensor.WithBacking(labels)),
		nil
}

// embed looks up embeddings and mixes each position with the masked
// mean of its sequence, a stand-in for attention that still makes every
// latent depend on its context.
func (r *Reference) embed(ids, mask []int32, batch, seqLen int) []float32 {
	h := r.cfg.HiddenSize
	out := make([]float32, len(ids)*h)
	ctxMean := make([]float32, h)

	for b := 0; b < batch; b++ {
		for i := range ctxMean {
			ctxMean[i] = 0
		}
		var n float32
		for s := 0; s < seqLen; s++ {
			pos := b*seqLen + s
			if mask[pos] == 0 {
				continue
			}
			row := r.embedding[int(ids[pos])*h : (int(ids[pos])+1)*h]
			for i, v := range row {
				ctxMean[i] += v
			}
			n++
		}
		if n > 0 {
			for i := range ctxMean {
				ctxMean[i] /= n
			}
		}

		for s := 0; s < seqLen; s++ {
			pos := b*seqLen + s
			row := r.embedding[int(ids[pos])*h : (int(ids[pos])+1)*h]
			dst := out[pos*h : (pos+1)*h]
			for i, v := range row {
				dst[i] = v + 0.5*ctxMean[i]
			}
		}
	}

	return out
}

func idsAndMask(inputIDs, attentionMask *tensor.Dense) (ids, mask []int32, batch, seqLen int, err error) {
	shape := inputIDs.Shape()
	if len(shape) != 3 || shape[1] != 1 {
		return nil, nil, 0, 0, fmt.Errorf("backbone: input ids must be [batch, 1, seq_len], got %v", shape)
	}
	if !attentionMask.Shape().Eq(shape) {
		return nil, nil, 0, 0, fmt.Errorf("backbone: attention mask shape %v does not match ids %v", attentionMask.Shape(), shape)
	}

	ids, ok := inputIDs.Data().([]int32)
	if !ok {
		return nil, nil, 0, 0, fmt.Errorf("backbone: input ids must be int32")
	}
	mask, ok = attentionMask.Data().([]int32)
	if !ok {
		return nil, nil, 0, 0, fmt.Errorf("backbone: attention mask must be int32")
	}
	return ids, mask, shape[0], shape[2], nil
}

// TokensToLatents embeds a single-view batch. The padding mode of the
// configured architecture decides the output layout.
func (r *Reference) TokensToLatents(ctx ml.Context, inputIDs, attentionMask *tensor.Dense) (*tensor.Dense, error) {
	ids, mask, batch, seqLen, err := idsAndMask(inputIDs, attentionMask)
	if err != nil {
		return nil, err
	}

	out := r.embed(ids, mask, batch, seqLen)
	if r.cfg.Arch.Padding == ml.PaddingUnpadded {
		return tensor.New(tensor.WithShape(batch*seqLen, r.cfg.HiddenSize), tensor.WithBacking(out)), nil
	}
	return tensor.New(tensor.WithShape(batch, seqLen, r.cfg.HiddenSize), tensor.WithBacking(out)), nil
}

// Forward runs the model over masked ids, always returning flattened
// [batch*seq_len, hidden] hidden states for the MLM head.
func (r *Reference) Forward(ctx ml.Context, inputIDs, attentionMask *tensor.Dense, maxSeqLen int) (*tensor.Dense, error) {
	ids, mask, batch, seqLen, err := idsAndMask(inputIDs, attentionMask)
	if err != nil {
		return nil, err
	}
	if maxSeqLen > 0 && seqLen > maxSeqLen {
		return nil, fmt.Errorf("backbone: sequence length %d exceeds limit %d", seqLen, maxSeqLen)
	}

	out := r.embed(ids, mask, batch, seqLen)
	return tensor.New(tensor.WithShape(batch*seqLen, r.cfg.HiddenSize), tensor.WithBacking(out)), nil
}

// Decode projects hidden states to vocabulary logits through the tied
// embedding table.
func (r *Reference) Decode(hidden *tensor.Dense) (*tensor.Dense, error) {
	if hidden.Dims() != 2 || hidden.Shape()[1] != r.cfg.HiddenSize {
		return nil, fmt.Errorf("backbone: hidden states must be [rows, %d], got %v", r.cfg.HiddenSize, hidden.Shape())
	}

	h := r.cfg.HiddenSize
	rows := hidden.Shape()[0]
	data := hidden.Data().([]float32)
	logits := make([]float32, rows*r.cfg.VocabSize)

	for row := 0; row < rows; row++ {
		x := data[row*h : (row+1)*h]
		for v := 0; v < r.cfg.VocabSize; v++ {
			w := r.embedding[v*h : (v+1)*h]
			var dot float32
			for i, xi := range x {
				dot += xi * w[i]
			}
			logits[row*r.cfg.VocabSize+v] = dot + r.decoderBias[v]
		}
	}

	return tensor.New(tensor.WithShape(rows, r.cfg.VocabSize), tensor.WithBacking(logits)), nil
}

// Loss is mean cross-entropy over positions not labeled IgnoreIndex.
// An all-ignored batch yields zero loss.
func (r *Reference) Loss(logits, labels *tensor.Dense) (float64, error) {
	if logits.Dims() != 2 {
		return 0, fmt.Errorf("backbone: logits must be rank 2, got %v", logits.Shape())
	}
	rows, vocab := logits.Shape()[0], logits.Shape()[1]
	lab := labels.Data().([]int32)
	if len(lab) != rows {
		return 0, fmt.Errorf("backbone: %d labels for %d logit rows", len(lab), rows)
	}

	data := logits.Data().([]float32)
	var total float64
	var count int
	for row := 0; row < rows; row++ {
		target := lab[row]
		if target == ml.IgnoreIndex {
			continue
		}
		if target < 0 || int(target) >= vocab {
			return 0, fmt.Errorf("backbone: label %d outside vocab of %d", target, vocab)
		}

		x := data[row*vocab : (row+1)*vocab]
		maxv := float64(x[0])
		for _, v := range x[1:] {
			if fv := float64(v); fv > maxv {
				maxv = fv
			}
		}
		var sum float64
		for _, v := range x {
			sum += math.Exp(float64(v) - maxv)
		}
		total += maxv + math.Log(sum) - float64(x[target])
		count++
	}

	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

// LoadStateDict installs pretrained weights. The reference backbone
// understands an embedding table and an optional decoder bias; other
// entries are ignored so checkpoints from richer architectures still
// load their shared pieces.
func (r *Reference) LoadStateDict(weights map[string]*tensor.Dense) error {
	emb, ok := weights["embeddings.weight"]
	if !ok {
		return fmt.Errorf("backbone: state dict missing embeddings.weight")
	}
	if !emb.Shape().Eq(tensor.Shape{r.cfg.VocabSize, r.cfg.HiddenSize}) {
		return fmt.Errorf("backbone: embeddings.weight shape %v, want [%d %d]", emb.Shape(), r.cfg.VocabSize, r.cfg.HiddenSize)
	}
	copy(r.embedding, emb.Data().([]float32))

	if bias, ok := weights["decoder.bias"]; ok {
		if bias.Shape()[0] != r.cfg.VocabSize {
			return fmt.Errorf("backbone: decoder.bias shape %v, want [%d]", bias.Shape(), r.cfg.VocabSize)
		}
		copy(r.decoderBias, bias.Data().([]float32))
	}

	return nil
}
