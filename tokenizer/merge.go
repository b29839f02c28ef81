package tokenizer

import (
	"strings"

	"github.com/emirpasic/gods/v2/maps/treemap"
)

// MergeVocabs consolidates vocabularies into one id-to-token map sorted
// by ascending id, dropping reserved filler entries. Ids are not unique
// across tokenizers: on collision the later tokenizer in the slice
// wins. Token strings may repeat, so inverting the map loses
// information.
func MergeVocabs(tokenizers []*Tokenizer) *treemap.Map[int32, string] {
	vocab := treemap.New[int32, string]()
	for _, t := range tokenizers {
		for token, id := range t.Vocab() {
			if strings.Contains(token, ReservedMarker) {
				continue
			}
			vocab.Put(id, token)
		}
	}
	return vocab
}
