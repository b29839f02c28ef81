// Package modality enumerates the sequence modalities the encoder can
// consume. The set is closed: loss dispatch and metric bookkeeping rely on
// being able to range over all values.
package modality

import "fmt"

// Modality identifies a category of biological or chemical sequence data.
type Modality int

const (
	AminoAcid Modality = iota
	SMILES
	Nucleotide

	// Coordinates3D is reserved for structure inputs. It participates in
	// metric bookkeeping but no tokenizer transform produces it and no
	// loss path consumes it.
	Coordinates3D
)

// All lists every modality, in registration order.
func All() []Modality {
	return []Modality{AminoAcid, SMILES, Nucleotide, Coordinates3D}
}

// Trainable lists the modalities that have tokenizer transforms and can
// appear in training batches.
func Trainable() []Modality {
	return []Modality{AminoAcid, SMILES, Nucleotide}
}

func (m Modality) String() string {
	switch m {
	case AminoAcid:
		return "amino_acid"
	case SMILES:
		return "SMILES"
	case Nucleotide:
		return "nucleotide"
	case Coordinates3D:
		return "3d_coordinates"
	default:
		return "unknown"
	}
}

// Parse converts a modality name to its enum value. It accepts exactly the
// strings produced by String.
func Parse(s string) (Modality, error) {
	switch s {
	case "amino_acid":
		return AminoAcid, nil
	case "SMILES":
		return SMILES, nil
	case "nucleotide":
		return Nucleotide, nil
	case "3d_coordinates":
		return Coordinates3D, nil
	default:
		return 0, fmt.Errorf("unknown modality %q", s)
	}
}
