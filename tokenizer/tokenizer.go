// Package tokenizer turns raw modality sequences into padded token-id
// batches. Each modality has its own tokenizer sharing one id space (see
// vocab.go); the Transform type is the callable handed to the encoder.
package tokenizer

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/umencoder/ume/modality"
)

// smilesPattern is the atom-wise SMILES tokenization regex: bracket atoms
// as single tokens, two-character elements before their one-character
// prefixes, then bonds, ring closures and branch syntax.
const smilesPattern = `(\[[^\]]+\]|Br|Cl|@@|%\d{2}|[BCNOSPFIbcnosp]|[=#\-\+\.\(\)/\\:~@\*\$]|\d)`

var smilesRe = regexp2.MustCompile(smilesPattern, regexp2.None)

// Tokenizer encodes sequences of one modality into token ids.
type Tokenizer struct {
	modality modality.Modality
	vocab    map[string]int32
}

// New builds the tokenizer for a modality. Fails for modalities without a
// token vocabulary (3d_coordinates).
func New(m modality.Modality) (*Tokenizer, error) {
	vocab, err := buildVocab(m)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{modality: m, vocab: vocab}, nil
}

// Modality reports which modality this tokenizer serves.
func (t *Tokenizer) Modality() modality.Modality {
	return t.modality
}

// Vocab returns a copy of the token→id mapping, reserved fillers included.
func (t *Tokenizer) Vocab() map[string]int32 {
	out := make(map[string]int32, len(t.vocab))
	for k, v := range t.vocab {
		out[k] = v
	}
	return out
}

// Encode tokenizes one sequence and returns its ids framed by <cls> and
// <eos>. Tokens outside the vocabulary map to <unk>.
func (t *Tokenizer) Encode(seq string) ([]int32, error) {
	var toks []string
	var err error
	switch t.modality {
	case modality.SMILES:
		toks, err = pretokenizeSMILES(seq)
	default:
		toks = pretokenizeChars(seq)
	}
	if err != nil {
		return nil, err
	}

	ids := make([]int32, 0, len(toks)+2)
	ids = append(ids, ClsTokenID)
	for _, tok := range toks {
		id, ok := t.vocab[tok]
		if !ok {
			id = UnkTokenID
		}
		ids = append(ids, id)
	}
	ids = append(ids, EosTokenID)

	return ids, nil
}

// pretokenizeChars splits character-level modalities (amino acids,
// nucleotides). Case is normalized upward; whitespace is rejected.
func pretokenizeChars(seq string) []string {
	seq = strings.ToUpper(strings.TrimSpace(seq))
	toks := make([]string, 0, len(seq))
	for _, r := range seq {
		toks = append(toks, string(r))
	}
	return toks
}

// pretokenizeSMILES splits a SMILES string into atom-wise tokens.
// Characters the pattern does not recognize become single-character
// tokens, which Encode resolves to <unk>.
func pretokenizeSMILES(seq string) ([]string, error) {
	seq = strings.TrimSpace(seq)
	toks := make([]string, 0, len(seq))

	pos := 0
	m, err := smilesRe.FindStringMatch(seq)
	for m != nil {
		if m.Index > pos {
			for _, r := range seq[pos:m.Index] {
				toks = append(toks, string(r))
			}
		}
		toks = append(toks, m.String())
		pos = m.Index + len(m.String())
		m, err = smilesRe.FindNextMatch(m)
	}
	if err != nil {
		return nil, fmt.Errorf("tokenizing SMILES: %w", err)
	}
	for _, r := range seq[pos:] {
		toks = append(toks, string(r))
	}

	return toks, nil
}
