package backbone

import (
	"math"
	"testing"

	"github.com/pdevine/tensor"

	"github.com/umencoder/ume/ml"
)

func testConfig() ml.Config {
	return ml.Config{
		HiddenSize:     8,
		VocabSize:      32,
		MaxLength:      16,
		Arch:           ml.ArchConfig{Device: ml.DeviceCPU, Padding: ml.PaddingUnpadded},
		MaskPercentage: 0.25,
		ClsTokenID:     0,
		PadTokenID:     1,
		EosTokenID:     2,
		MaskTokenID:    4,
	}
}

func idsTensor(data []int32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func TestMaskInputsLabels(t *testing.T) {
	b, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	ids := []int32{0, 10, 11, 12, 13, 14, 15, 2}
	in := idsTensor(ids, 1, 1, 8)
	masked, labels, err := b.MaskInputs(in)
	if err != nil {
		t.Fatal(err)
	}

	m := masked.Data().([]int32)
	l := labels.Data().([]int32)
	if len(m) != len(ids) || len(l) != len(ids) {
		t.Fatalf("masked %d labels %d, want %d", len(m), len(l), len(ids))
	}

	// cls and eos positions never mask.
	if m[0] != 0 || m[7] != 2 {
		t.Errorf("special tokens changed: %v", m)
	}
	if l[0] != ml.IgnoreIndex || l[7] != ml.IgnoreIndex {
		t.Errorf("special positions labeled: %v", l)
	}

	for i := range ids {
		if m[i] == b.cfg.MaskTokenID && m[i] != ids[i] {
			if l[i] != ids[i] {
				t.Errorf("masked position %d: label %d, want original %d", i, l[i], ids[i])
			}
		} else if l[i] != ml.IgnoreIndex {
			t.Errorf("unmasked position %d labeled %d", i, l[i])
		}
	}
}

func TestMaskInputsLeavesOriginal(t *testing.T) {
	b, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	ids := []int32{0, 10, 11, 2}
	in := idsTensor(ids, 1, 1, 4)
	if _, _, err := b.MaskInputs(in); err != nil {
		t.Fatal(err)
	}

	got := in.Data().([]int32)
	for i, want := range ids {
		if got[i] != want {
			t.Fatalf("input mutated at %d: got %d want %d", i, got[i], want)
		}
	}
}

func TestTokensToLatentsShapes(t *testing.T) {
	cfg := testConfig()

	ids := idsTensor([]int32{0, 10, 11, 2, 0, 12, 2, 1}, 2, 1, 4)
	mask := idsTensor([]int32{1, 1, 1, 1, 1, 1, 1, 0}, 2, 1, 4)

	unpadded, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	lat, err := unpadded.TokensToLatents(ml.Context{}, ids, mask)
	if err != nil {
		t.Fatal(err)
	}
	if !lat.Shape().Eq(tensor.Shape{8, cfg.HiddenSize}) {
		t.Errorf("unpadded latents shape %v, want [8 %d]", lat.Shape(), cfg.HiddenSize)
	}

	cfg.Arch.Padding = ml.PaddingPadded
	padded, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	lat, err = padded.TokensToLatents(ml.Context{}, ids, mask)
	if err != nil {
		t.Fatal(err)
	}
	if !lat.Shape().Eq(tensor.Shape{2, 4, cfg.HiddenSize}) {
		t.Errorf("padded latents shape %v, want [2 4 %d]", lat.Shape(), cfg.HiddenSize)
	}
}

func TestForwardDecodeLossPipeline(t *testing.T) {
	b, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	ids := idsTensor([]int32{0, 10, 4, 12, 2, 1}, 1, 1, 6)
	mask := idsTensor([]int32{1, 1, 1, 1, 1, 0}, 1, 1, 6)

	hidden, err := b.Forward(ml.Context{Training: true}, ids, mask, b.cfg.MaxLength)
	if err != nil {
		t.Fatal(err)
	}
	if !hidden.Shape().Eq(tensor.Shape{6, b.cfg.HiddenSize}) {
		t.Fatalf("hidden shape %v", hidden.Shape())
	}

	logits, err := b.Decode(hidden)
	if err != nil {
		t.Fatal(err)
	}
	if !logits.Shape().Eq(tensor.Shape{6, b.cfg.VocabSize}) {
		t.Fatalf("logits shape %v", logits.Shape())
	}

	labels := make([]int32, 6)
	for i := range labels {
		labels[i] = ml.IgnoreIndex
	}
	labels[2] = 11
	loss, err := b.Loss(logits, idsTensor(labels, 6))
	if err != nil {
		t.Fatal(err)
	}
	if loss <= 0 || math.IsNaN(loss) {
		t.Errorf("loss = %v, want positive finite", loss)
	}
}

func TestLossAllIgnoredIsZero(t *testing.T) {
	b, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	logits := tensor.New(tensor.WithShape(2, b.cfg.VocabSize), tensor.WithBacking(make([]float32, 2*b.cfg.VocabSize)))
	labels := idsTensor([]int32{ml.IgnoreIndex, ml.IgnoreIndex}, 2)

	loss, err := b.Loss(logits, labels)
	if err != nil {
		t.Fatal(err)
	}
	if loss != 0 {
		t.Errorf("loss = %v, want 0", loss)
	}
}

func TestForwardRejectsOverlongSequence(t *testing.T) {
	b, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	ids := idsTensor(make([]int32, 4), 1, 1, 4)
	mask := idsTensor([]int32{1, 1, 1, 1}, 1, 1, 4)
	if _, err := b.Forward(ml.Context{}, ids, mask, 3); err == nil {
		t.Error("expected error for sequence over limit")
	}
}

func TestLoadStateDict(t *testing.T) {
	b, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	emb := make([]float32, b.cfg.VocabSize*b.cfg.HiddenSize)
	for i := range emb {
		emb[i] = float32(i) * 0.01
	}
	bias := make([]float32, b.cfg.VocabSize)
	bias[3] = 1.5

	err = b.LoadStateDict(map[string]*tensor.Dense{
		"embeddings.weight": tensor.New(tensor.WithShape(b.cfg.VocabSize, b.cfg.HiddenSize), tensor.WithBacking(emb)),
		"decoder.bias":      tensor.New(tensor.WithShape(b.cfg.VocabSize), tensor.WithBacking(bias)),
		"unrelated.weight":  tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{0, 0})),
	})
	if err != nil {
		t.Fatal(err)
	}

	if b.embedding[1] != 0.01 {
		t.Errorf("embedding not installed: %v", b.embedding[:4])
	}
	if b.decoderBias[3] != 1.5 {
		t.Errorf("decoder bias not installed: %v", b.decoderBias[:4])
	}

	if err := b.LoadStateDict(map[string]*tensor.Dense{}); err == nil {
		t.Error("expected error for missing embeddings.weight")
	}

	bad := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking(make([]float32, 4)))
	if err := b.LoadStateDict(map[string]*tensor.Dense{"embeddings.weight": bad}); err == nil {
		t.Error("expected error for wrong embedding shape")
	}
}

func TestRegistryConstructsReference(t *testing.T) {
	b, err := ml.NewBackbone("reference", testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if b.Config().HiddenSize != 8 {
		t.Errorf("config hidden size = %d", b.Config().HiddenSize)
	}

	if _, err := ml.NewBackbone("nonexistent", testConfig()); err == nil {
		t.Error("expected error for unknown architecture")
	}
}
