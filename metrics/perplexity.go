package metrics

import (
	"fmt"
	"math"

	"github.com/pdevine/tensor"
)

// ignoreIndex mirrors ml.IgnoreIndex; kept local so the metrics package
// stays free of model dependencies.
const ignoreIndex int32 = -100

// Perplexity is a running perplexity accumulator. Update folds in the
// cross-entropy of a logits/labels pair, skipping ignore-labeled
// positions; Compute returns exp of the running mean. The encoder owns
// one accumulator per (stage, modality) pair for the whole run; the
// training driver resets them between epochs.
//
// Not safe for concurrent use, matching the encoder's single-caller
// contract.
type Perplexity struct {
	totalNLL float64
	count    int64
}

// Update accumulates cross-entropy over a [rows, vocab] logits tensor
// against [rows] integer labels. Rows labeled with the ignore sentinel
// contribute nothing; an all-ignored pair is a no-op.
func (p *Perplexity) Update(logits *tensor.Dense, labels *tensor.Dense) error {
	if logits == nil || labels == nil {
		return fmt.Errorf("perplexity: nil inputs")
	}
	if logits.Dims() != 2 {
		return fmt.Errorf("perplexity: logits must be rank 2, got %v", logits.Shape())
	}
	rows := logits.Shape()[0]
	vocab := logits.Shape()[1]
	lab := labels.Data().([]int32)
	if len(lab) != rows {
		return fmt.Errorf("perplexity: %d labels for %d logit rows", len(lab), rows)
	}

	data := logits.Data().([]float32)
	for i := 0; i < rows; i++ {
		target := lab[i]
		if target == ignoreIndex {
			continue
		}
		if target < 0 || int(target) >= vocab {
			return fmt.Errorf("perplexity: label %d outside vocab of %d", target, vocab)
		}

		row := data[i*vocab : (i+1)*vocab]
		maxv := float64(row[0])
		for _, v := range row[1:] {
			if fv := float64(v); fv > maxv {
				maxv = fv
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v) - maxv)
		}
		p.totalNLL += maxv + math.Log(sum) - float64(row[target])
		p.count++
	}

	return nil
}

// Count reports how many tokens have been folded in since the last reset.
func (p *Perplexity) Count() int64 {
	return p.count
}

// Compute returns the running perplexity, or NaN before any update.
func (p *Perplexity) Compute() float64 {
	if p.count == 0 {
		return math.NaN()
	}
	return math.Exp(p.totalNLL / float64(p.count))
}

// Reset clears the accumulator.
func (p *Perplexity) Reset() {
	p.totalNLL = 0
	p.count = 0
}
