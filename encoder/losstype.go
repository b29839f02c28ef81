package encoder

import "fmt"

// LossType selects the contrastive objective blended with masked-token
// reconstruction. The set is closed: dispatch switches over it
// exhaustively and anything outside the enum fails loudly instead of
// falling back to a default.
type LossType int

const (
	// LossNone trains with masked-token reconstruction only. Batches
	// must be single-view.
	LossNone LossType = iota

	// LossSymile is the N-way multi-view contrastive objective. Batches
	// need at least two views.
	LossSymile

	// LossCLIP is symmetric two-view InfoNCE. Batches need exactly two
	// views.
	LossCLIP

	// LossDiscoCLIP is InfoNCE with a pluggable gather hook for
	// cross-process negative sharing. Same view contract as LossCLIP.
	LossDiscoCLIP
)

func (t LossType) String() string {
	switch t {
	case LossNone:
		return "none"
	case LossSymile:
		return "symile"
	case LossCLIP:
		return "clip"
	case LossDiscoCLIP:
		return "disco_clip"
	default:
		return fmt.Sprintf("LossType(%d)", int(t))
	}
}

// ParseLossType maps a configuration string to a LossType. The empty
// string means none.
func ParseLossType(s string) (LossType, error) {
	switch s {
	case "", "none":
		return LossNone, nil
	case "symile":
		return LossSymile, nil
	case "clip":
		return LossCLIP, nil
	case "disco_clip":
		return LossDiscoCLIP, nil
	default:
		return 0, fmt.Errorf("invalid contrastive loss type: %q", s)
	}
}
