package ml

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeI32
)

func (t DType) String() string {
	switch t {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeI32:
		return "i32"
	default:
		return "other"
	}
}

// IgnoreIndex is the label sentinel excluded from cross-entropy loss and
// perplexity. Positions that were not masked carry this value.
const IgnoreIndex int32 = -100

// PaddingMode selects the memory layout the backbone operates in.
type PaddingMode int

const (
	// PaddingUnpadded concatenates sequences; latents come back as
	// [batch*seq_len, hidden] and callers reshape.
	PaddingUnpadded PaddingMode = iota

	// PaddingPadded keeps the batch dimension; latents come back as
	// [batch, seq_len, hidden].
	PaddingPadded
)

func (p PaddingMode) String() string {
	if p == PaddingPadded {
		return "padded"
	}
	return "unpadded"
}
