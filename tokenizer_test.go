package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecialTokenIDs(t *testing.T) {
	tok := NewTokenizer(false)

	assert.Equal(t, PadTokenID, tok.vocab[PadToken])
	assert.Equal(t, UnkTokenID, tok.vocab[UnkToken])
	assert.Equal(t, ClsTokenID, tok.vocab[ClsToken])
	assert.Equal(t, SepTokenID, tok.vocab[SepToken])
	assert.Equal(t, MaskTokenID, tok.vocab[MaskToken])

	// Specials + the full byte range
	assert.Equal(t, 5+256, tok.VocabSize())
}

func TestTokenizeSplitsWordsAndPunctuation(t *testing.T) {
	tok := NewTokenizer(true)

	tokens := tok.Tokenize("He runs, fast!")
	// Untrained tokenizer has no merges, so every byte stands alone
	assert.Equal(t, []string{"h", "e", "r", "u", "n", "s", ",", "f", "a", "s", "t", "!"}, tokens)
}

func TestLowerCasing(t *testing.T) {
	upper := NewTokenizer(false).Tokenize("AB")
	lower := NewTokenizer(true).Tokenize("AB")

	assert.Equal(t, []string{"A", "B"}, upper)
	assert.Equal(t, []string{"a", "b"}, lower)
}

func TestTrainLearnsMerges(t *testing.T) {
	tok := NewTokenizer(true)
	corpus := []string{
		"the runner runs", "the runner ran", "the running man",
		"the the the the",
	}
	before := tok.VocabSize()
	tok.Train(corpus, before+10)

	assert.Greater(t, tok.VocabSize(), before)
	assert.NotEmpty(t, tok.merges)

	// "the" repeats enough to end up as a single token
	tokens := tok.Tokenize("the")
	assert.Equal(t, []string{"the"}, tokens)
}

func TestConvertTokensToIDsUnknown(t *testing.T) {
	tok := NewTokenizer(false)

	ids := tok.ConvertTokensToIDs([]string{"a", "definitely-not-a-token", ClsToken})
	assert.Equal(t, tok.vocab["a"], ids[0])
	assert.Equal(t, UnkTokenID, ids[1])
	assert.Equal(t, ClsTokenID, ids[2])
}

func TestTokenizerSaveLoadRoundtrip(t *testing.T) {
	tok := NewTokenizer(true)
	tok.Train([]string{"she walks to the park", "she walks home", "she she she"}, tok.VocabSize()+8)

	path := filepath.Join(t.TempDir(), "tokenizer.json")
	require.NoError(t, tok.Save(path))

	loaded, err := LoadTokenizer(path)
	require.NoError(t, err)

	assert.Equal(t, tok.VocabSize(), loaded.VocabSize())

	text := "she walks to the park"
	assert.Equal(t, tok.Tokenize(text), loaded.Tokenize(text))
	assert.Equal(t,
		tok.ConvertTokensToIDs(tok.Tokenize(text)),
		loaded.ConvertTokensToIDs(loaded.Tokenize(text)))
}
