package modality

import "testing"

func TestParseRoundTrip(t *testing.T) {
	for _, m := range All() {
		got, err := Parse(m.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", m.String(), err)
		}
		if got != m {
			t.Errorf("Parse(%q) = %v, want %v", m.String(), got, m)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	for _, s := range []string{"", "protein", "smiles", "AMINO_ACID"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestTrainableExcludesCoordinates(t *testing.T) {
	for _, m := range Trainable() {
		if m == Coordinates3D {
			t.Fatal("3d_coordinates must not be trainable")
		}
	}
}
