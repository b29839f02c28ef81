// Package checkpoint resolves pretrained encoder names to checkpoints,
// downloads them in parallel chunks, and reads torch state dicts into
// dense tensors.
package checkpoint

import (
	"fmt"
	"sort"

	"github.com/agnivade/levenshtein"
)

// Spec describes one published pretrained encoder.
type Spec struct {
	Name string

	// File is the checkpoint filename under the registry base URL.
	File string

	HiddenSize int
	MaxLength  int

	// Half marks checkpoints published with half-precision weight
	// payloads. Loaded weights are rounded back through f16 so local
	// numerics match the published checkpoint regardless of the storage
	// dtype the pickle carries.
	Half bool
}

var registry = map[string]Spec{
	"ume-mini-base-12M": {
		Name:       "ume-mini-base-12M",
		File:       "ume-mini-base-12M.pt",
		HiddenSize: 384,
		MaxLength:  512,
	},
	"ume-small-base-90M": {
		Name:       "ume-small-base-90M",
		File:       "ume-small-base-90M.pt",
		HiddenSize: 768,
		MaxLength:  512,
	},
	"ume-medium-base-480M": {
		Name:       "ume-medium-base-480M",
		File:       "ume-medium-base-480M.pt",
		HiddenSize: 1024,
		MaxLength:  512,
		Half:       true,
	},
	"ume-large-base-740M": {
		Name:       "ume-large-base-740M",
		File:       "ume-large-base-740M.pt",
		HiddenSize: 1280,
		MaxLength:  512,
		Half:       true,
	},
}

// Names lists the registered model names sorted alphabetically.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a model name to its spec. Unknown names fail with a
// nearest-match suggestion when one is plausibly a typo.
func Resolve(name string) (Spec, error) {
	if spec, ok := registry[name]; ok {
		return spec, nil
	}

	best, bestDist := "", -1
	for candidate := range registry {
		d := levenshtein.ComputeDistance(name, candidate)
		if bestDist < 0 || d < bestDist {
			best, bestDist = candidate, d
		}
	}

	if bestDist >= 0 && bestDist <= len(best)/2 {
		return Spec{}, fmt.Errorf("unknown pretrained model %q, did you mean %q?", name, best)
	}
	return Spec{}, fmt.Errorf("unknown pretrained model %q, available: %v", name, Names())
}
