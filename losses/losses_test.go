package losses

import (
	"math"
	"testing"

	"github.com/pdevine/tensor"
)

func embTensor(rows, cols int, data []float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

// Orthogonal, perfectly aligned pairs should score well below the
// uniform baseline log(batch).
func TestInfoNCEAlignedBeatsUniform(t *testing.T) {
	a := embTensor(3, 3, []float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	b := embTensor(3, 3, []float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})

	loss, err := NewInfoNCE(DefaultTemperature, false).Compute(a, b)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if uniform := math.Log(3); loss >= uniform {
		t.Errorf("aligned loss %f should beat uniform baseline %f", loss, uniform)
	}
}

func TestInfoNCESymmetric(t *testing.T) {
	a := embTensor(2, 4, []float32{1, 2, 3, 4, -1, 0.5, 2, -2})
	b := embTensor(2, 4, []float32{0.5, 1, -1, 2, 3, -0.5, 1, 1})

	l := NewInfoNCE(0.1, false)
	ab, err := l.Compute(a, b)
	if err != nil {
		t.Fatalf("Compute(a,b): %v", err)
	}
	ba, err := l.Compute(b, a)
	if err != nil {
		t.Fatalf("Compute(b,a): %v", err)
	}
	if math.Abs(ab-ba) > 1e-9 {
		t.Errorf("loss not symmetric: %f vs %f", ab, ba)
	}
}

func TestInfoNCEShapeMismatch(t *testing.T) {
	a := embTensor(2, 4, make([]float32, 8))
	b := embTensor(3, 4, make([]float32, 12))
	if _, err := NewInfoNCE(DefaultTemperature, false).Compute(a, b); err == nil {
		t.Fatal("expected shape mismatch error")
	}

	c := embTensor(2, 5, make([]float32, 10))
	if _, err := NewInfoNCE(DefaultTemperature, false).Compute(a, c); err == nil {
		t.Fatal("expected shape mismatch error for differing hidden dims")
	}
}

func TestInfoNCEDiscoGatherHook(t *testing.T) {
	a := embTensor(2, 2, []float32{1, 0, 0, 1})
	b := embTensor(2, 2, []float32{1, 0, 0, 1})

	l := NewInfoNCE(DefaultTemperature, true)
	calls := 0
	l.Gather = func(d *tensor.Dense) (*tensor.Dense, error) {
		calls++
		return d, nil
	}

	if _, err := l.Compute(a, b); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if calls != 2 {
		t.Errorf("gather hook called %d times, want 2", calls)
	}
}

// With the identity gather, disco and clip are the same objective.
func TestDiscoMatchesClip(t *testing.T) {
	a := embTensor(3, 2, []float32{1, 0.2, -0.4, 1, 0.7, 0.7})
	b := embTensor(3, 2, []float32{0.9, 0.1, -0.3, 1.1, 0.6, 0.8})

	clip, err := NewInfoNCE(0.2, false).Compute(a, b)
	if err != nil {
		t.Fatalf("clip: %v", err)
	}
	disco, err := NewInfoNCE(0.2, true).Compute(a, b)
	if err != nil {
		t.Fatalf("disco: %v", err)
	}
	if math.Abs(clip-disco) > 1e-12 {
		t.Errorf("disco %f != clip %f", disco, clip)
	}
}

func TestSymileTwoViews(t *testing.T) {
	a := embTensor(2, 3, []float32{1, 0, 0, 0, 1, 0})
	b := embTensor(2, 3, []float32{1, 0, 0, 0, 1, 0})

	loss, err := NewSymile(DefaultTemperature).Compute([]*tensor.Dense{a, b})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if uniform := math.Log(2); loss >= uniform {
		t.Errorf("aligned symile loss %f should beat uniform baseline %f", loss, uniform)
	}
}

func TestSymileThreeViews(t *testing.T) {
	mk := func() *tensor.Dense {
		return embTensor(2, 2, []float32{1, 0, 0, 1})
	}
	loss, err := NewSymile(DefaultTemperature).Compute([]*tensor.Dense{mk(), mk(), mk()})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if loss >= math.Log(2) {
		t.Errorf("aligned 3-view symile loss %f should beat uniform baseline", loss)
	}
}

func TestSymileErrors(t *testing.T) {
	a := embTensor(2, 2, make([]float32, 4))
	if _, err := NewSymile(DefaultTemperature).Compute([]*tensor.Dense{a}); err == nil {
		t.Fatal("expected error for a single view")
	}

	b := embTensor(3, 2, make([]float32, 6))
	if _, err := NewSymile(DefaultTemperature).Compute([]*tensor.Dense{a, b}); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}
