package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelGender(t *testing.T) {
	cases := []struct {
		np    string
		label int
		ok    bool
	}{
		{"She walks away", 1, true},
		{"He walks away", 0, true},
		{"The woman smiles", 1, true},
		{"the man smiles", 0, true},
		{"The dog barks", 0, false},
		{"", 0, false},
		// Last match wins when both appear
		{"He looks at her", 1, true},
		{"She looks at him and his dog", 0, true},
	}

	for _, c := range cases {
		label, ok := labelGender(c.np)
		assert.Equal(t, c.ok, ok, "np=%q", c.np)
		if c.ok {
			assert.Equal(t, c.label, label, "np=%q", c.np)
		}
	}
}

func TestLabelGenderIsCaseSensitivePerWordList(t *testing.T) {
	// "HER" is in the list, "hEr" is not
	_, ok := labelGender("hEr")
	assert.False(t, ok)

	label, ok := labelGender("HER")
	assert.True(t, ok)
	assert.Equal(t, 1, label)
}

func TestRunLabelCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")

	require.NoError(t, os.WriteFile(in, []byte(
		"fold-ind,sent1,sent2,ending0,ending1,ending2,ending3,label\n"+
			"1,ctx one,She,a,b,c,d,0\n"+
			"2,ctx two,The robot,a,b,c,d,1\n"+
			"3,ctx three,He,a,b,c,d,2\n"), 0o644))

	require.NoError(t, RunLabelCommand([]string{"-in", in, "-out", out}))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	// Header plus the two labelable rows; the robot row is dropped
	require.Len(t, rows, 3)
	assert.Equal(t, "gender", rows[0][len(rows[0])-1])
	assert.Equal(t, "1", rows[1][len(rows[1])-1])
	assert.Equal(t, "3", rows[2][0])
	assert.Equal(t, "0", rows[2][len(rows[2])-1])
}

func TestRunLabelCommandRequiresSent2(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(in, []byte("a,b\n1,2\n"), 0o644))

	err := RunLabelCommand([]string{"-in", in, "-out", filepath.Join(dir, "out.csv")})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "sent2"))
}
