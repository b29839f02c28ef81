// Package losses implements the contrastive objectives: symmetric
// InfoNCE over two views (CLIP, with a distributed "disco" variant behind
// the same contract) and the Symile multilinear generalization to N views.
//
// Losses consume [batch, hidden] float32 embedding tensors and return
// scalar values. Gradient propagation is the backbone's concern, not
// computed here.
package losses

import (
	"errors"
	"fmt"
	"math"

	"github.com/pdevine/tensor"
)

// DefaultTemperature matches the encoder's construction default.
const DefaultTemperature = 0.07

var ErrShapeMismatch = errors.New("contrastive embeddings must have identical shapes")

// InfoNCE is the symmetric two-view contrastive loss. The Disco variant
// computes the same objective; Gather is its hook for collecting
// negatives across processes and defaults to the identity, which reduces
// disco to single-process CLIP.
type InfoNCE struct {
	Temperature float64
	Disco       bool
	Gather      func(*tensor.Dense) (*tensor.Dense, error)
}

// NewInfoNCE builds an InfoNCE loss with the given temperature; disco
// selects the distributed variant.
func NewInfoNCE(temperature float64, disco bool) *InfoNCE {
	return &InfoNCE{Temperature: temperature, Disco: disco}
}

// Compute returns the symmetric InfoNCE loss between two aligned
// embedding batches of shape [batch, hidden].
func (l *InfoNCE) Compute(a, b *tensor.Dense) (float64, error) {
	if a == nil || b == nil {
		return 0, errors.New("infonce: nil embeddings")
	}
	if !a.Shape().Eq(b.Shape()) {
		return 0, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, a.Shape(), b.Shape())
	}
	if a.Dims() != 2 {
		return 0, fmt.Errorf("infonce: embeddings must be rank 2, got shape %v", a.Shape())
	}

	if l.Disco && l.Gather != nil {
		var err error
		if a, err = l.Gather(a); err != nil {
			return 0, fmt.Errorf("gathering embeddings: %w", err)
		}
		if b, err = l.Gather(b); err != nil {
			return 0, fmt.Errorf("gathering embeddings: %w", err)
		}
	}

	batch := a.Shape()[0]
	hidden := a.Shape()[1]
	za := normalizeRows(a.Data().([]float32), batch, hidden)
	zb := normalizeRows(b.Data().([]float32), batch, hidden)

	temp := l.Temperature
	if temp <= 0 {
		temp = DefaultTemperature
	}

	// logits[i][j] = <za_i, zb_j> / temp
	logits := make([][]float64, batch)
	for i := 0; i < batch; i++ {
		row := make([]float64, batch)
		for j := 0; j < batch; j++ {
			var dot float64
			for h := 0; h < hidden; h++ {
				dot += float64(za[i*hidden+h]) * float64(zb[j*hidden+h])
			}
			row[j] = dot / temp
		}
		logits[i] = row
	}

	ab := diagonalCrossEntropy(logits)
	ba := diagonalCrossEntropy(transpose(logits))
	return (ab + ba) / 2, nil
}

// Symile is the N-view generalization of InfoNCE: agreement is scored by
// the multilinear inner product of all views, contrasted against batches
// where all but the anchor view are swapped out.
type Symile struct {
	Temperature float64
}

// NewSymile builds a Symile loss with the given temperature.
func NewSymile(temperature float64) *Symile {
	return &Symile{Temperature: temperature}
}

// Compute returns the Symile loss over N >= 2 embedding batches, each of
// shape [batch, hidden].
func (l *Symile) Compute(views []*tensor.Dense) (float64, error) {
	if len(views) < 2 {
		return 0, fmt.Errorf("symile: need at least 2 views, got %d", len(views))
	}
	for i, v := range views {
		if v == nil {
			return 0, fmt.Errorf("symile: view %d is nil", i)
		}
		if !v.Shape().Eq(views[0].Shape()) {
			return 0, fmt.Errorf("%w: view %d is %v, view 0 is %v",
				ErrShapeMismatch, i, v.Shape(), views[0].Shape())
		}
	}
	if views[0].Dims() != 2 {
		return 0, fmt.Errorf("symile: embeddings must be rank 2, got shape %v", views[0].Shape())
	}

	batch := views[0].Shape()[0]
	hidden := views[0].Shape()[1]
	z := make([][]float32, len(views))
	for v := range views {
		z[v] = normalizeRows(views[v].Data().([]float32), batch, hidden)
	}

	temp := l.Temperature
	if temp <= 0 {
		temp = DefaultTemperature
	}

	// For each anchor view, contrast each example against candidates
	// built from the elementwise product of the remaining views.
	var total float64
	for anchor := range z {
		others := make([]float64, batch*hidden)
		for j := 0; j < batch; j++ {
			for h := 0; h < hidden; h++ {
				prod := 1.0
				for v := range z {
					if v == anchor {
						continue
					}
					prod *= float64(z[v][j*hidden+h])
				}
				others[j*hidden+h] = prod
			}
		}

		logits := make([][]float64, batch)
		for i := 0; i < batch; i++ {
			row := make([]float64, batch)
			for j := 0; j < batch; j++ {
				var mip float64
				for h := 0; h < hidden; h++ {
					mip += float64(z[anchor][i*hidden+h]) * others[j*hidden+h]
				}
				row[j] = mip / temp
			}
			logits[i] = row
		}
		total += diagonalCrossEntropy(logits)
	}

	return total / float64(len(z)), nil
}

// normalizeRows L2-normalizes each row of a [rows, cols] flat matrix,
// returning a fresh slice. Zero rows are left untouched.
func normalizeRows(data []float32, rows, cols int) []float32 {
	out := make([]float32, len(data))
	copy(out, data)
	for i := 0; i < rows; i++ {
		var ss float64
		for h := 0; h < cols; h++ {
			v := float64(out[i*cols+h])
			ss += v * v
		}
		if ss == 0 {
			continue
		}
		inv := 1 / math.Sqrt(ss)
		for h := 0; h < cols; h++ {
			out[i*cols+h] = float32(float64(out[i*cols+h]) * inv)
		}
	}
	return out
}

// diagonalCrossEntropy is the mean cross-entropy of each row against its
// own index, computed with the log-sum-exp shift for stability.
func diagonalCrossEntropy(logits [][]float64) float64 {
	var total float64
	for i, row := range logits {
		maxv := row[0]
		for _, v := range row[1:] {
			if v > maxv {
				maxv = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(v - maxv)
		}
		total += maxv + math.Log(sum) - row[i]
	}
	return total / float64(len(logits))
}

func transpose(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range out {
		out[i] = make([]float64, len(m))
		for j := range out[i] {
			out[i][j] = m[j][i]
		}
	}
	return out
}
