package encoder

import (
	"fmt"
	"math"

	"github.com/pdevine/tensor"

	"github.com/umencoder/ume/input"
	"github.com/umencoder/ume/ml"
	"github.com/umencoder/ume/modality"
)

// TrainingStep runs one training batch and returns the scalar loss.
func (e *Encoder) TrainingStep(batch input.Batch, batchIdx int) (float64, error) {
	loss, err := e.delegateStep(batch, "train", true)
	if err != nil {
		return 0, fmt.Errorf("training step %d: %w", batchIdx, err)
	}
	return loss, nil
}

// ValidationStep runs one validation batch and returns the scalar loss.
func (e *Encoder) ValidationStep(batch input.Batch, batchIdx int) (float64, error) {
	loss, err := e.delegateStep(batch, "val", false)
	if err != nil {
		return 0, fmt.Errorf("validation step %d: %w", batchIdx, err)
	}
	return loss, nil
}

// delegateStep routes a batch to the loss path its shape and the
// configured objective demand. Every mismatch between the two is an
// immediate error; there is no fallback path.
func (e *Encoder) delegateStep(batch input.Batch, stage string, training bool) (float64, error) {
	if err := batch.Validate(); err != nil {
		return 0, err
	}
	views := batch.Views()

	if e.lossType == LossNone {
		if views > 1 {
			return 0, fmt.Errorf("contrastive loss type is none but num_views is %d", views)
		}
		split, err := input.Split(batch)
		if err != nil {
			return 0, err
		}
		loss, err := e.mlmLoss(split[0], stage, training)
		if err != nil {
			return 0, err
		}
		e.recorder.Record(stage+"_loss", loss)
		return loss, nil
	}

	if views == 1 {
		return 0, fmt.Errorf("contrastive loss type is %s but num_views is 1", e.lossType)
	}

	split, err := input.Split(batch)
	if err != nil {
		return 0, err
	}

	switch e.lossType {
	case LossSymile:
		if views < 2 {
			return 0, fmt.Errorf("symile loss requires at least 2 views, got %d", views)
		}
		return e.symileStep(split, stage, training)
	case LossCLIP, LossDiscoCLIP:
		if views != 2 {
			return 0, fmt.Errorf("infonce loss requires exactly 2 views, got %d", views)
		}
		return e.infonceStep(split[0], split[1], stage, training)
	default:
		return 0, fmt.Errorf("invalid contrastive loss type: %s", e.lossType)
	}
}

// infonceStep blends two-view InfoNCE with MLM over the first view.
// Each branch runs only when its share of the blend weight is nonzero.
func (e *Encoder) infonceStep(a, b input.View, stage string, training bool) (float64, error) {
	var contrastive float64
	if e.lossWeight > 0 {
		var err error
		contrastive, err = e.infonceLoss(a, b)
		if err != nil {
			return 0, err
		}
	}

	var mlm float64
	if e.lossWeight != 1 {
		var err error
		mlm, err = e.mlmLoss(a, stage, training)
		if err != nil {
			return 0, err
		}
	}

	return e.composeLoss(mlm, contrastive, stage), nil
}

func (e *Encoder) infonceLoss(a, b input.View) (float64, error) {
	embA, err := e.Embed(viewBatch(a), true)
	if err != nil {
		return 0, fmt.Errorf("embedding first view: %w", err)
	}
	embB, err := e.Embed(viewBatch(b), true)
	if err != nil {
		return 0, fmt.Errorf("embedding second view: %w", err)
	}

	want := tensor.Shape{a.InputIDs.Shape()[0], e.backbone.Config().HiddenSize}
	if !embA.Shape().Eq(want) || !embB.Shape().Eq(want) {
		return 0, fmt.Errorf("contrastive embeddings must both be %v, got %v and %v", want, embA.Shape(), embB.Shape())
	}

	return e.infonce.Compute(embA, embB)
}

// symileStep blends the N-view Symile objective with MLM over the first
// view, with the same weight gating as infonceStep.
func (e *Encoder) symileStep(views []input.View, stage string, training bool) (float64, error) {
	var contrastive float64
	if e.lossWeight > 0 {
		embeddings := make([]*tensor.Dense, len(views))
		for i, v := range views {
			emb, err := e.Embed(viewBatch(v), true)
			if err != nil {
				return 0, fmt.Errorf("embedding view %d: %w", i, err)
			}
			embeddings[i] = emb
		}

		var err error
		contrastive, err = e.symile.Compute(embeddings)
		if err != nil {
			return 0, err
		}
		e.recorder.Record("symile_"+stage+"_loss", contrastive)
	}

	var mlm float64
	if e.lossWeight != 1 {
		var err error
		mlm, err = e.mlmLoss(views[0], stage, training)
		if err != nil {
			return 0, err
		}
	}

	return e.composeLoss(mlm, contrastive, stage), nil
}

// composeLoss blends the two loss families and emits the per-stage loss
// metrics. Both component losses are recorded even when their branch
// was skipped and reported as zero.
func (e *Encoder) composeLoss(mlm, contrastive float64, stage string) float64 {
	e.recorder.Record("mlm_"+stage+"_loss", mlm)
	e.recorder.Record("contrastive_"+stage+"_loss", contrastive)

	total := (1-e.lossWeight)*mlm + e.lossWeight*contrastive
	e.recorder.Record(stage+"_loss", total)
	return total
}

// mlmLoss masks a single view, reconstructs, and scores cross-entropy
// at masked positions. It also feeds overall and per-modality
// perplexity metrics.
func (e *Encoder) mlmLoss(v input.View, stage string, training bool) (float64, error) {
	masked, labels, err := e.backbone.MaskInputs(v.InputIDs)
	if err != nil {
		return 0, fmt.Errorf("masking inputs: %w", err)
	}

	ctx := ml.Context{Grad: !e.frozen, Training: training}
	hidden, err := e.backbone.Forward(ctx, masked, v.AttentionMask, e.backbone.Config().MaxLength)
	if err != nil {
		return 0, fmt.Errorf("forward pass: %w", err)
	}
	logits, err := e.backbone.Decode(hidden)
	if err != nil {
		return 0, fmt.Errorf("decoding hidden states: %w", err)
	}

	flat := tensor.New(tensor.WithShape(labels.Shape().TotalSize()), tensor.WithBacking(labels.Data()))
	loss, err := e.backbone.Loss(logits, flat)
	if err != nil {
		return 0, fmt.Errorf("computing mlm loss: %w", err)
	}

	e.recorder.Record(stage+"_perplexity", math.Exp(loss))
	if err := e.modalityMetrics(logits, flat, v.Modalities, stage); err != nil {
		return 0, err
	}

	return loss, nil
}

// modalityMetrics partitions a flattened batch by modality tag and
// feeds each modality's rows into its running perplexity accumulator.
// Modalities with no matching accumulator or no rows are skipped.
func (e *Encoder) modalityMetrics(logits, labels *tensor.Dense, mods []modality.Modality, stage string) error {
	if len(mods) == 0 {
		return nil
	}

	rows := logits.Shape()[0]
	vocab := logits.Shape()[1]
	if rows%len(mods) != 0 {
		return fmt.Errorf("%d logit rows do not divide into %d examples", rows, len(mods))
	}
	seqLen := rows / len(mods)

	logitData := logits.Data().([]float32)
	labelData := labels.Data().([]int32)

	seen := make(map[modality.Modality]bool, len(mods))
	for _, m := range mods {
		if seen[m] {
			continue
		}
		seen[m] = true

		acc, ok := e.perplexity[perplexityKey{stage, m}]
		if !ok {
			continue
		}

		var subLogits []float32
		var subLabels []int32
		for i, em := range mods {
			if em != m {
				continue
			}
			subLogits = append(subLogits, logitData[i*seqLen*vocab:(i+1)*seqLen*vocab]...)
			subLabels = append(subLabels, labelData[i*seqLen:(i+1)*seqLen]...)
		}
		if len(subLabels) == 0 {
			continue
		}

		err := acc.Update(
			tensor.New(tensor.WithShape(len(subLabels), vocab), tensor.WithBacking(subLogits)),
			tensor.New(tensor.WithShape(len(subLabels)), tensor.WithBacking(subLabels)),
		)
		if err != nil {
			return fmt.Errorf("updating %s perplexity: %w", m, err)
		}
		e.recorder.Record(stage+"_perplexity/"+m.String(), acc.Compute())
	}

	return nil
}

func viewBatch(v input.View) input.Batch {
	return input.Batch{InputIDs: v.InputIDs, AttentionMask: v.AttentionMask}
}
