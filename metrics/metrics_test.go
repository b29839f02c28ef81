package metrics

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/require"
)

func logitsOf(t *testing.T, rows, vocab int, data []float32) *tensor.Dense {
	t.Helper()
	return tensor.New(tensor.WithShape(rows, vocab), tensor.WithBacking(data))
}

func labelsOf(data []int32) *tensor.Dense {
	return tensor.New(tensor.WithShape(len(data)), tensor.WithBacking(data))
}

func TestPerplexityUniform(t *testing.T) {
	// Uniform logits over V classes give perplexity exactly V.
	var p Perplexity
	logits := logitsOf(t, 2, 4, make([]float32, 8))
	if err := p.Update(logits, labelsOf([]int32{0, 3})); err != nil {
		t.Fatal(err)
	}

	if got := p.Compute(); math.Abs(got-4) > 1e-9 {
		t.Errorf("uniform perplexity = %v, want 4", got)
	}
	if p.Count() != 2 {
		t.Errorf("count = %d, want 2", p.Count())
	}
}

func TestPerplexityIgnoresSentinel(t *testing.T) {
	var p Perplexity
	logits := logitsOf(t, 3, 2, []float32{0, 0, 10, -10, 0, 0})
	if err := p.Update(logits, labelsOf([]int32{0, ignoreIndex, ignoreIndex})); err != nil {
		t.Fatal(err)
	}

	if p.Count() != 1 {
		t.Fatalf("count = %d, want 1", p.Count())
	}
	if got := p.Compute(); math.Abs(got-2) > 1e-9 {
		t.Errorf("perplexity = %v, want 2", got)
	}
}

func TestPerplexityAllIgnoredIsNoOp(t *testing.T) {
	var p Perplexity
	logits := logitsOf(t, 2, 3, make([]float32, 6))
	if err := p.Update(logits, labelsOf([]int32{ignoreIndex, ignoreIndex})); err != nil {
		t.Fatal(err)
	}

	if p.Count() != 0 {
		t.Errorf("count = %d, want 0", p.Count())
	}
	if got := p.Compute(); !math.IsNaN(got) {
		t.Errorf("Compute on empty accumulator = %v, want NaN", got)
	}
}

func TestPerplexityConfidentPrediction(t *testing.T) {
	// A strongly peaked correct prediction drives perplexity toward 1.
	var p Perplexity
	logits := logitsOf(t, 1, 2, []float32{20, -20})
	if err := p.Update(logits, labelsOf([]int32{0})); err != nil {
		t.Fatal(err)
	}

	if got := p.Compute(); math.Abs(got-1) > 1e-6 {
		t.Errorf("perplexity = %v, want ~1", got)
	}
}

func TestPerplexityAccumulatesAcrossUpdates(t *testing.T) {
	var once, twice Perplexity

	logits := logitsOf(t, 2, 4, []float32{1, 2, 3, 4, 4, 3, 2, 1})
	labels := labelsOf([]int32{3, 0})
	if err := once.Update(logits, labels); err != nil {
		t.Fatal(err)
	}

	half := logitsOf(t, 1, 4, []float32{1, 2, 3, 4})
	if err := twice.Update(half, labelsOf([]int32{3})); err != nil {
		t.Fatal(err)
	}
	half2 := logitsOf(t, 1, 4, []float32{4, 3, 2, 1})
	if err := twice.Update(half2, labelsOf([]int32{0})); err != nil {
		t.Fatal(err)
	}

	if a, b := once.Compute(), twice.Compute(); math.Abs(a-b) > 1e-9 {
		t.Errorf("single update %v != accumulated %v", a, b)
	}
}

func TestPerplexityReset(t *testing.T) {
	var p Perplexity
	logits := logitsOf(t, 1, 2, []float32{0, 0})
	if err := p.Update(logits, labelsOf([]int32{0})); err != nil {
		t.Fatal(err)
	}

	p.Reset()
	if p.Count() != 0 {
		t.Errorf("count after reset = %d, want 0", p.Count())
	}
	if got := p.Compute(); !math.IsNaN(got) {
		t.Errorf("Compute after reset = %v, want NaN", got)
	}
}

func TestPerplexityErrors(t *testing.T) {
	var p Perplexity

	bad := logitsOf(t, 1, 2, []float32{0, 0})
	if err := p.Update(bad, labelsOf([]int32{0, 1})); err == nil {
		t.Error("expected error for label/row count mismatch")
	}
	if err := p.Update(bad, labelsOf([]int32{5})); err == nil {
		t.Error("expected error for out-of-vocab label")
	}
}

func TestMultiRecorderFansOut(t *testing.T) {
	var a, b recordingSink
	m := Multi{&a, &b}
	m.Record("train_loss", 0.5)
	m.Record("val_loss", 0.25)

	for _, sink := range []*recordingSink{&a, &b} {
		if len(sink.names) != 2 || sink.names[0] != "train_loss" || sink.names[1] != "val_loss" {
			t.Errorf("recorded names = %v", sink.names)
		}
	}
}

type recordingSink struct {
	names  []string
	values []float64
}

func (r *recordingSink) Record(name string, value float64) {
	r.names = append(r.names, name)
	r.values = append(r.values, value)
}

func TestSQLiteRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	rec, err := OpenSQLiteRecorder(path)
	require.NoError(t, err)
	defer rec.Close()

	require.NotEmpty(t, rec.RunID())

	rec.Record("train_loss", 1.5)
	rec.Record("train_loss", 1.25)
	rec.Record("train_perplexity", 12)

	var n int
	err = rec.db.QueryRow(
		`SELECT COUNT(*) FROM metrics WHERE run_id = ? AND name = ?`,
		rec.RunID(), "train_loss",
	).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var last float64
	err = rec.db.QueryRow(
		`SELECT value FROM metrics WHERE run_id = ? AND name = ? ORDER BY id DESC LIMIT 1`,
		rec.RunID(), "train_loss",
	).Scan(&last)
	require.NoError(t, err)
	require.Equal(t, 1.25, last)
}

func TestSQLiteRecorderSeparateRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")

	first, err := OpenSQLiteRecorder(path)
	require.NoError(t, err)
	first.Record("val_loss", 2)
	require.NoError(t, first.Close())

	second, err := OpenSQLiteRecorder(path)
	require.NoError(t, err)
	defer second.Close()

	require.NotEqual(t, first.RunID(), second.RunID())

	var n int
	err = second.db.QueryRow(
		`SELECT COUNT(*) FROM metrics WHERE run_id = ?`, second.RunID(),
	).Scan(&n)
	require.NoError(t, err)
	require.Zero(t, n)
}
