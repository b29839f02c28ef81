package ml

import (
	"fmt"
	"log/slog"
)

// Device identifies where backbone computation runs.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// cudaDetect reports whether an accelerator backbone is compiled in and
// usable. The pure Go reference backbone never registers one.
var cudaDetect = func() bool { return false }

// RegisterCUDADetector installs the availability probe for CUDA devices.
// Accelerator backbones call this from their init.
func RegisterCUDADetector(f func() bool) {
	cudaDetect = f
}

// CUDAAvailable reports whether a CUDA-capable backbone is usable.
func CUDAAvailable() bool {
	return cudaDetect()
}

// ParseDevice validates a device string. The empty string selects
// automatically: cuda when available, cpu otherwise.
func ParseDevice(s string) (Device, error) {
	switch s {
	case "":
		if CUDAAvailable() {
			return DeviceCUDA, nil
		}
		return DeviceCPU, nil
	case "cpu":
		return DeviceCPU, nil
	case "cuda":
		if !CUDAAvailable() {
			return "", fmt.Errorf("cuda device requested but not available")
		}
		return DeviceCUDA, nil
	default:
		return "", fmt.Errorf("invalid device: %q, must be one of [cpu cuda]", s)
	}
}

// ArchConfig is the fully resolved architecture configuration. It is
// computed once by ResolveArch before backbone construction and never
// mutated afterwards.
type ArchConfig struct {
	Device         Device
	FlashAttention bool
	Padding        PaddingMode
	UseSDPAMask    bool
}

// ResolveArch decides the attention layout for a target device.
//
// flashAttn may be nil, meaning "derive from the device": flash attention
// on cuda, standard attention elsewhere. Flash attention implies the
// unpadded layout. Without it a fresh model uses the padded layout with an
// SDPA attention mask; a model loaded from a checkpoint keeps the unpadded
// layout its weights were trained with and only disables the fused kernel.
func ResolveArch(device string, flashAttn *bool, fromCheckpoint bool) (ArchConfig, error) {
	d, err := ParseDevice(device)
	if err != nil {
		return ArchConfig{}, err
	}

	useFlash := d == DeviceCUDA
	if flashAttn != nil {
		useFlash = *flashAttn
	}
	if useFlash && d == DeviceCPU {
		slog.Warn("flash attention requested on cpu, disabling", "device", d)
		useFlash = false
	}

	cfg := ArchConfig{Device: d, FlashAttention: useFlash}
	switch {
	case useFlash:
		cfg.Padding = PaddingUnpadded
	case fromCheckpoint:
		// Checkpoints are trained with unpadded layers that cannot be
		// repacked; only the attention kernel changes.
		cfg.Padding = PaddingUnpadded
		cfg.UseSDPAMask = true
	default:
		cfg.Padding = PaddingPadded
		cfg.UseSDPAMask = true
	}

	return cfg, nil
}
