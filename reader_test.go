package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const trainCSV = `fold-ind,sent1,sent2,ending0,ending1,ending2,ending3,label,gender
3416,A man walks in,He,sits,sings,leaves,waves,0,0
9021,A woman looks up,She,smiles,frowns,runs,stays,2,1
`

func TestReadExamplesTraining(t *testing.T) {
	path := writeCSV(t, trainCSV)

	examples, err := ReadExamples(path, true)
	require.NoError(t, err)
	require.Len(t, examples, 2)

	ex := examples[0]
	assert.Equal(t, "3416", ex.ID)
	assert.Equal(t, "A man walks in", ex.Context)
	assert.Equal(t, "He", ex.Prefix)
	require.NotNil(t, ex.Label)
	assert.Equal(t, 0, *ex.Label)
	require.NotNil(t, ex.Gender)
	assert.Equal(t, 0, *ex.Gender)

	endings := ex.Endings()
	assert.Equal(t, "He sits", endings[0])
	assert.Equal(t, "He waves", endings[3])

	require.NotNil(t, examples[1].Label)
	assert.Equal(t, 2, *examples[1].Label)
}

func TestReadExamplesEvalWithoutLabels(t *testing.T) {
	path := writeCSV(t, `fold-ind,sent1,sent2,ending0,ending1,ending2,ending3
1,ctx,He,a,b,c,d
`)

	examples, err := ReadExamples(path, false)
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Nil(t, examples[0].Label)
	assert.Nil(t, examples[0].Gender)
}

func TestReadExamplesTrainingRequiresLabels(t *testing.T) {
	path := writeCSV(t, `fold-ind,sent1,sent2,ending0,ending1,ending2,ending3
1,ctx,He,a,b,c,d
`)

	_, err := ReadExamples(path, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label")
}

func TestReadExamplesTrainingRequiresGender(t *testing.T) {
	path := writeCSV(t, `fold-ind,sent1,sent2,ending0,ending1,ending2,ending3,label
1,ctx,He,a,b,c,d,1
`)

	_, err := ReadExamples(path, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gender")
}

func TestReadExamplesRejectsOutOfRangeLabel(t *testing.T) {
	path := writeCSV(t, `fold-ind,sent1,sent2,ending0,ending1,ending2,ending3,label,gender
1,ctx,He,a,b,c,d,7,0
`)

	_, err := ReadExamples(path, false)
	require.Error(t, err)
}

func TestReadExamplesMissingFile(t *testing.T) {
	_, err := ReadExamples(filepath.Join(t.TempDir(), "nope.csv"), false)
	require.Error(t, err)
}
