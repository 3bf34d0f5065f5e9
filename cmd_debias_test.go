package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tinyTrainCSV = `fold-ind,sent1,sent2,ending0,ending1,ending2,ending3,label,gender
1,A man walks in,He,sits,sings,leaves,waves,0,0
2,A woman looks up,She,smiles,frowns,runs,stays,2,1
3,A man opens the door,He,enters,knocks,waits,calls,1,0
4,A woman reads a book,She,laughs,cries,sleeps,writes,3,1
`

func TestRunDebiasCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "train.csv")
	require.NoError(t, os.WriteFile(data, []byte(tinyTrainCSV), 0o644))

	out := filepath.Join(dir, "run")
	err := RunDebiasCommand([]string{
		"-train", "-data", data,
		"-eval", "-eval-data", data,
		"-out", out,
		"-max-seq-len", "16",
		"-hidden", "8", "-layers", "1", "-heads", "1",
		"-train-batch", "2", "-eval-batch", "2",
		"-epochs", "1", "-lr", "1e-3",
	})
	require.NoError(t, err)

	for _, name := range []string{
		"predictor_weights.bin", "predictor_config.json",
		"adversary_weights.bin", "adversary_config.json",
		"tokenizer.json", "train_results.csv", "eval_results.txt",
	} {
		_, statErr := os.Stat(filepath.Join(out, name))
		assert.NoError(t, statErr, name)
	}

	results, err := os.ReadFile(filepath.Join(out, "eval_results.txt"))
	require.NoError(t, err)
	for _, key := range []string{"eval_loss_pred", "eval_accuracy_pred", "eval_loss_adv", "eval_accuracy_adv", "global_step", "loss_pred", "loss_adv"} {
		assert.True(t, strings.Contains(string(results), key+" = "), key)
	}

	history, err := os.ReadFile(filepath.Join(out, "train_results.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(history), "pred_loss,adv_loss\n"))
	// 4 examples, batch 2, 1 epoch: header plus two loss rows
	assert.Equal(t, 3, len(strings.Split(strings.TrimSpace(string(history)), "\n")))
}

func TestRunDebiasCommandValidation(t *testing.T) {
	// No mode selected
	err := RunDebiasCommand(nil)
	require.Error(t, err)

	// Training without data
	err = RunDebiasCommand([]string{"-train"})
	require.Error(t, err)

	// Accelerator flags rejected on a CPU build
	err = RunDebiasCommand([]string{"-train", "-data", "x.csv", "-fp16"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fp16")

	err = RunDebiasCommand([]string{"-train", "-data", "x.csv", "-local-rank", "0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local-rank")

	// Odd max sequence length cannot host the half-width VP encoding
	err = RunDebiasCommand([]string{"-train", "-data", "x.csv", "-max-seq-len", "15"})
	require.Error(t, err)
}

func TestValidateAcceleratorFlags(t *testing.T) {
	assert.NoError(t, ValidateAcceleratorFlags(false, -1))
	assert.Error(t, ValidateAcceleratorFlags(true, -1))
	assert.Error(t, ValidateAcceleratorFlags(false, 0))
}
