package tokenizer

import (
	"fmt"

	"github.com/umencoder/ume/modality"
)

// Special tokens shared by every modality tokenizer. They occupy the same
// ids in every per-modality vocabulary.
const (
	ClsToken  = "<cls>"
	PadToken  = "<pad>"
	EosToken  = "<eos>"
	UnkToken  = "<unk>"
	MaskToken = "<mask>"
)

// ReservedMarker appears in filler tokens that pad each vocabulary block
// to its fixed size. GetVocab excludes any token containing it.
const ReservedMarker = "reserved"

// Fixed id-space layout. Every modality tokenizer covers the full range
// so that one decoder head serves all modalities; ids outside a
// tokenizer's own block are reserved fillers in that tokenizer.
const (
	specialBlockSize    = 32
	aminoAcidBlockSize  = 32
	smilesBlockSize     = 128
	nucleotideBlockSize = 32

	aminoAcidOffset  = specialBlockSize
	smilesOffset     = aminoAcidOffset + aminoAcidBlockSize
	nucleotideOffset = smilesOffset + smilesBlockSize

	// VocabSize is the total id space across all blocks.
	VocabSize = nucleotideOffset + nucleotideBlockSize
)

const (
	ClsTokenID  int32 = 0
	PadTokenID  int32 = 1
	EosTokenID  int32 = 2
	UnkTokenID  int32 = 3
	MaskTokenID int32 = 4
)

var specialTokens = map[string]int32{
	ClsToken:  ClsTokenID,
	PadToken:  PadTokenID,
	EosToken:  EosTokenID,
	UnkToken:  UnkTokenID,
	MaskToken: MaskTokenID,
}

// aminoAcidTokens is the standard 20 residues plus ambiguity codes.
var aminoAcidTokens = []string{
	"A", "C", "D", "E", "F", "G", "H", "I", "K", "L",
	"M", "N", "P", "Q", "R", "S", "T", "V", "W", "Y",
	"B", "J", "O", "U", "X", "Z",
}

// nucleotideTokens covers DNA and RNA bases plus the ambiguity code.
var nucleotideTokens = []string{"A", "C", "G", "T", "U", "N"}

// smilesTokens covers organic-subset atoms, aromatic forms, bonds, ring
// and branch syntax, and the bracket atoms common in drug-like molecules.
// Anything else tokenizes to <unk>.
var smilesTokens = []string{
	"C", "N", "O", "S", "P", "F", "I", "B", "Br", "Cl",
	"c", "n", "o", "s", "p", "b",
	"(", ")", "[", "]", "=", "#", "-", "+", ".", "/", "\\", ":", "~", "@", "@@", "*", "$",
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9",
	"%10", "%11", "%12", "%13", "%14", "%15",
	"[nH]", "[NH]", "[N+]", "[N-]", "[n+]", "[O-]", "[O+]", "[o+]", "[S+]", "[S-]", "[s+]",
	"[C@H]", "[C@@H]", "[C@]", "[C@@]", "[CH]", "[CH2]", "[CH-]", "[CH2-]",
	"[P+]", "[P@]", "[P@@]", "[PH]", "[B-]", "[Se]", "[se]", "[Si]", "[SiH]",
	"[Na+]", "[K+]", "[Li+]", "[Cl-]", "[Br-]", "[I-]", "[F-]", "[Ca+2]", "[Mg+2]", "[Zn+2]",
	"[H]", "[H+]", "[2H]", "[3H]", "[13C]", "[13CH]", "[15N]", "[15NH]",
}

// blockFor returns the token list, block offset, and block size for a
// modality.
func blockFor(m modality.Modality) ([]string, int32, int, error) {
	switch m {
	case modality.AminoAcid:
		return aminoAcidTokens, aminoAcidOffset, aminoAcidBlockSize, nil
	case modality.SMILES:
		return smilesTokens, smilesOffset, smilesBlockSize, nil
	case modality.Nucleotide:
		return nucleotideTokens, nucleotideOffset, nucleotideBlockSize, nil
	default:
		return nil, 0, 0, fmt.Errorf("no tokenizer for modality %s", m)
	}
}

// buildVocab constructs the full token→id map for a modality: shared
// specials, the modality's own block, and reserved fillers everywhere
// else so every id in [0, VocabSize) is assigned.
func buildVocab(m modality.Modality) (map[string]int32, error) {
	tokens, offset, size, err := blockFor(m)
	if err != nil {
		return nil, err
	}
	if len(tokens) > size {
		return nil, fmt.Errorf("%s block overflow: %d tokens for %d slots", m, len(tokens), size)
	}

	vocab := make(map[string]int32, VocabSize)
	for tok, id := range specialTokens {
		vocab[tok] = id
	}

	assigned := make([]bool, VocabSize)
	for _, id := range specialTokens {
		assigned[id] = true
	}
	for i, tok := range tokens {
		id := offset + int32(i)
		vocab[tok] = id
		assigned[id] = true
	}
	for id := range assigned {
		if !assigned[id] {
			vocab[fmt.Sprintf("<reserved_%d>", id)] = int32(id)
		}
	}

	return vocab, nil
}
