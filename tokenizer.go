package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
)

// ===========================================================================
// WHAT'S GOING ON HERE: Tokenization
// ===========================================================================
//
// Byte-pair encoding (BPE) tokenizer with the BERT special-token
// convention. Text is first split into whitespace/punctuation words, each
// word is broken into bytes, then learned merges are applied greedily
// until no merge matches. Unknown subwords map to [UNK].
//
// The first five vocabulary slots are reserved:
//
//	[PAD]=0  [UNK]=1  [CLS]=2  [SEP]=3  [MASK]=4
//
// [PAD] deliberately sits at ID 0 so that zero-filled tails of fixed-size
// ID buffers are already padding.
//
// The feature encoder composes sequences itself ([CLS] a [SEP] b [SEP]),
// so the tokenizer only exposes the two primitive operations it needs:
// Tokenize (text to subword strings) and ConvertTokensToIDs.
//
// ===========================================================================

// Special token IDs. These are fixed; Train never reassigns them.
const (
	PadTokenID  = 0
	UnkTokenID  = 1
	ClsTokenID  = 2
	SepTokenID  = 3
	MaskTokenID = 4
)

// Special token strings.
const (
	PadToken  = "[PAD]"
	UnkToken  = "[UNK]"
	ClsToken  = "[CLS]"
	SepToken  = "[SEP]"
	MaskToken = "[MASK]"
)

var specialTokens = []string{PadToken, UnkToken, ClsToken, SepToken, MaskToken}

// Tokenizer implements byte-pair encoding with reserved special tokens.
type Tokenizer struct {
	vocab     map[string]int // token string -> ID
	idToToken map[int]string // ID -> token string
	merges    []mergeRule    // learned merges, in priority order
	mergeRank map[string]int // "left right" -> priority
	lowerCase bool
}

type mergeRule struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// NewTokenizer creates a tokenizer whose base vocabulary is the five
// special tokens followed by all 256 byte values.
func NewTokenizer(lowerCase bool) *Tokenizer {
	t := &Tokenizer{
		vocab:     make(map[string]int),
		idToToken: make(map[int]string),
		mergeRank: make(map[string]int),
		lowerCase: lowerCase,
	}

	for i, tok := range specialTokens {
		t.vocab[tok] = i
		t.idToToken[i] = tok
	}
	for b := 0; b < 256; b++ {
		tok := string(rune(b))
		id := len(specialTokens) + b
		t.vocab[tok] = id
		t.idToToken[id] = tok
	}

	return t
}

// VocabSize returns the number of entries in the vocabulary.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab)
}

// basicTokenize lower-cases (if configured) and splits text into words,
// treating each punctuation rune as its own word.
func (t *Tokenizer) basicTokenize(text string) []string {
	if t.lowerCase {
		text = strings.ToLower(text)
	}

	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return words
}

// wordToSubwords splits a single word into bytes and applies learned
// merges greedily, always taking the highest-priority applicable merge.
func (t *Tokenizer) wordToSubwords(word string) []string {
	parts := make([]string, 0, len(word))
	for _, b := range []byte(word) {
		parts = append(parts, string(rune(b)))
	}

	for len(parts) > 1 {
		bestRank := -1
		bestIdx := -1
		for i := 0; i < len(parts)-1; i++ {
			rank, ok := t.mergeRank[parts[i]+" "+parts[i+1]]
			if ok && (bestRank == -1 || rank < bestRank) {
				bestRank = rank
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		merged := parts[bestIdx] + parts[bestIdx+1]
		parts = append(parts[:bestIdx], append([]string{merged}, parts[bestIdx+2:]...)...)
	}

	return parts
}

// Tokenize converts text into subword token strings.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, word := range t.basicTokenize(text) {
		tokens = append(tokens, t.wordToSubwords(word)...)
	}
	return tokens
}

// ConvertTokensToIDs maps token strings to vocabulary IDs, substituting
// [UNK] for anything out of vocabulary.
func (t *Tokenizer) ConvertTokensToIDs(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		if id, ok := t.vocab[tok]; ok {
			ids[i] = id
		} else {
			ids[i] = UnkTokenID
		}
	}
	return ids
}

// Train learns BPE merges from a corpus until the vocabulary reaches
// vocabSize or no pair repeats.
func (t *Tokenizer) Train(corpus []string, vocabSize int) {
	// Word frequency over the corpus, words held as subword slices
	wordFreq := make(map[string]int)
	for _, text := range corpus {
		for _, word := range t.basicTokenize(text) {
			wordFreq[word]++
		}
	}

	type splitWord struct {
		parts []string
		freq  int
	}
	words := make([]*splitWord, 0, len(wordFreq))
	for word, freq := range wordFreq {
		parts := make([]string, 0, len(word))
		for _, b := range []byte(word) {
			parts = append(parts, string(rune(b)))
		}
		words = append(words, &splitWord{parts: parts, freq: freq})
	}
	// Deterministic merge order regardless of map iteration
	sort.Slice(words, func(i, j int) bool {
		return strings.Join(words[i].parts, "") < strings.Join(words[j].parts, "")
	})

	for len(t.vocab) < vocabSize {
		// Count adjacent pairs
		pairFreq := make(map[[2]string]int)
		for _, w := range words {
			for i := 0; i < len(w.parts)-1; i++ {
				pairFreq[[2]string{w.parts[i], w.parts[i+1]}] += w.freq
			}
		}

		var best [2]string
		bestFreq := 0
		for pair, freq := range pairFreq {
			if freq > bestFreq || (freq == bestFreq && bestFreq > 0 && pairLess(pair, best)) {
				best = pair
				bestFreq = freq
			}
		}
		if bestFreq < 2 {
			break
		}

		merged := best[0] + best[1]
		t.mergeRank[best[0]+" "+best[1]] = len(t.merges)
		t.merges = append(t.merges, mergeRule{Left: best[0], Right: best[1]})
		id := len(t.vocab)
		t.vocab[merged] = id
		t.idToToken[id] = merged

		for _, w := range words {
			for i := 0; i < len(w.parts)-1; i++ {
				if w.parts[i] == best[0] && w.parts[i+1] == best[1] {
					w.parts = append(w.parts[:i], append([]string{merged}, w.parts[i+2:]...)...)
				}
			}
		}
	}
}

func pairLess(a, b [2]string) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

// tokenizerState is the JSON serialization of a trained tokenizer.
type tokenizerState struct {
	Vocab     map[string]int `json:"vocab"`
	Merges    []mergeRule    `json:"merges"`
	LowerCase bool           `json:"lower_case"`
}

// Save writes the tokenizer to a JSON file.
func (t *Tokenizer) Save(path string) error {
	state := tokenizerState{
		Vocab:     t.vocab,
		Merges:    t.merges,
		LowerCase: t.lowerCase,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tokenizer: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// LoadTokenizer reads a tokenizer from a JSON file.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tokenizer: %w", err)
	}

	var state tokenizerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling tokenizer: %w", err)
	}

	t := &Tokenizer{
		vocab:     state.Vocab,
		idToToken: make(map[int]string, len(state.Vocab)),
		merges:    state.Merges,
		mergeRank: make(map[string]int, len(state.Merges)),
		lowerCase: state.LowerCase,
	}
	for tok, id := range state.Vocab {
		t.idToToken[id] = tok
	}
	for i, m := range state.Merges {
		t.mergeRank[m.Left+" "+m.Right] = i
	}

	for i, tok := range specialTokens {
		if t.vocab[tok] != i {
			return nil, fmt.Errorf("tokenizer file %s: special token %s has ID %d, want %d", path, tok, t.vocab[tok], i)
		}
	}

	return t, nil
}
