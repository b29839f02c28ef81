package checkpoint

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/pdevine/tensor"
	"github.com/x448/float16"
)

// LoadStateDict reads a torch-pickled state dict from path into named
// float32 tensors. Half and bfloat16 storages widen to float32.
func LoadStateDict(path string) (map[string]*tensor.Dense, error) {
	loaded, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}

	dict, ok := loaded.(*types.Dict)
	if !ok {
		return nil, fmt.Errorf("checkpoint %s: expected a state dict, got %T", path, loaded)
	}

	weights := make(map[string]*tensor.Dense, len(*dict))
	for _, k := range dict.Keys() {
		name, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("checkpoint %s: non-string tensor name %v", path, k)
		}

		v, _ := dict.Get(k)
		pt, ok := v.(*pytorch.Tensor)
		if !ok {
			return nil, fmt.Errorf("checkpoint %s: entry %s is %T, not a tensor", path, name, v)
		}

		dense, err := fromTorch(pt)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: tensor %s: %w", path, name, err)
		}
		weights[name] = dense
	}

	return weights, nil
}

func fromTorch(pt *pytorch.Tensor) (*tensor.Dense, error) {
	numel := 1
	shape := make([]int, len(pt.Size))
	for i, dim := range pt.Size {
		shape[i] = dim
		numel *= dim
	}
	if len(shape) == 0 {
		shape = []int{1}
	}

	var data []float32
	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		data = s.Data
	case *pytorch.HalfStorage:
		data = s.Data
	case *pytorch.BFloat16Storage:
		data = s.Data
	case *pytorch.DoubleStorage:
		data = make([]float32, len(s.Data))
		for i, v := range s.Data {
			data[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported storage type %T", s)
	}

	if len(data) < numel {
		return nil, fmt.Errorf("storage holds %d values for shape %v", len(data), shape)
	}

	out := make([]float32, numel)
	copy(out, data[:numel])
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// QuantizeHalf rounds every weight through IEEE half precision in
// place, matching the numerics of an f16-stored checkpoint while
// keeping float32 tensors.
func QuantizeHalf(weights map[string]*tensor.Dense) {
	for _, t := range weights {
		data := t.Data().([]float32)
		for i, v := range data {
			data[i] = float16.Fromfloat32(v).Float32()
		}
	}
}
