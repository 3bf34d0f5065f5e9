package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrainConfig() TrainConfig {
	return TrainConfig{
		Alpha:          1.0,
		BatchSize:      2,
		GradAccumSteps: 1,
		LearningRate:   1e-3,
		Epochs:         1,
		// No warmup: the ramp starts at LR 0, which would mask the
		// parameter-movement assertions below
		WarmupProportion: 0,
		Seed:             42,
	}
}

func TestSelectChoice(t *testing.T) {
	choice, confidence := selectChoice([]float64{0.0, 4.0, 1.0, -2.0})
	assert.Equal(t, 1, choice)
	assert.GreaterOrEqual(t, confidence, 0)
	assert.LessOrEqual(t, confidence, 100)

	// Uniform logits: confidence is 25 for four choices
	_, confidence = selectChoice([]float64{1.0, 1.0, 1.0, 1.0})
	assert.Equal(t, 25, confidence)

	// Near-certain prediction
	choice, confidence = selectChoice([]float64{100.0, 0.0, 0.0, 0.0})
	assert.Equal(t, 0, choice)
	assert.Equal(t, 100, confidence)
}

func TestAdversaryInputs(t *testing.T) {
	enc := &EncodedChoice{
		VPInputIDs:  []int{ClsTokenID, 9, SepTokenID, 0},
		VPInputMask: []int{1, 1, 1, 0},
	}

	// Training: confidence token prepended with mask 1
	ids, mask := adversaryInputs(enc, 87, true)
	require.Len(t, ids, 5)
	assert.Equal(t, 87, ids[0])
	assert.Equal(t, ClsTokenID, ids[1])
	assert.Equal(t, 1, mask[0])
	assert.Equal(t, enc.VPInputMask, mask[1:])

	// Evaluation: the bare verb-phrase encoding
	ids, mask = adversaryInputs(enc, 87, false)
	assert.Equal(t, enc.VPInputIDs, ids)
	assert.Equal(t, enc.VPInputMask, mask)
}

func TestTrainStepMutatesBothModels(t *testing.T) {
	cfg := testEncoderConfig()
	cfg.MaxSeqLen = 17 // room for the confidence token on the VP input

	pred := NewMultipleChoice(cfg)
	adv := NewSequenceClassifier(cfg, NumProtectedClasses)
	trainer := NewAdversarialTrainer(pred, adv, testTrainConfig(), 10)

	features := toyFeatures(t, 16)

	snapshot := func(params []*Tensor) [][]float64 {
		out := make([][]float64, len(params))
		for i, p := range params {
			out[i] = append([]float64(nil), p.data...)
		}
		return out
	}
	predBefore := snapshot(trainer.predParams)
	advBefore := snapshot(trainer.advParams)

	predLoss, advLoss := trainer.TrainStep(features)
	assert.Greater(t, predLoss, 0.0)
	assert.Greater(t, advLoss, 0.0)

	changed := func(before [][]float64, params []*Tensor) bool {
		for i, p := range params {
			for j, v := range p.data {
				if v != before[i][j] {
					return true
				}
			}
		}
		return false
	}
	assert.True(t, changed(predBefore, trainer.predParams), "predictor parameters should move")
	assert.True(t, changed(advBefore, trainer.advParams), "adversary parameters should move")

	require.Len(t, trainer.History, 1)
	assert.Equal(t, predLoss, trainer.History[0].PredLoss)
	assert.Equal(t, advLoss, trainer.History[0].AdvLoss)
	assert.Equal(t, 1, trainer.GlobalStep())
}

func TestGradAccumDelaysOptimizerStep(t *testing.T) {
	cfg := testEncoderConfig()
	cfg.MaxSeqLen = 17

	trainCfg := testTrainConfig()
	trainCfg.GradAccumSteps = 2

	pred := NewMultipleChoice(cfg)
	adv := NewSequenceClassifier(cfg, NumProtectedClasses)
	trainer := NewAdversarialTrainer(pred, adv, trainCfg, 10)

	features := toyFeatures(t, 16)

	trainer.TrainStep(features)
	assert.Equal(t, 0, trainer.GlobalStep())

	trainer.TrainStep(features)
	assert.Equal(t, 1, trainer.GlobalStep())
}

func TestGradAccumSumsAdversaryGradients(t *testing.T) {
	// The adversary's first-window batches must contribute to its
	// delayed optimizer step: two runs that differ only in the gender
	// label of the first accumulated batch must end with different
	// adversary parameters.
	train := func(firstGender int) *AdversarialTrainer {
		SeedWeightInit(7)

		cfg := testEncoderConfig()
		cfg.MaxSeqLen = 17

		trainCfg := testTrainConfig()
		trainCfg.GradAccumSteps = 2

		pred := NewMultipleChoice(cfg)
		adv := NewSequenceClassifier(cfg, NumProtectedClasses)
		trainer := NewAdversarialTrainer(pred, adv, trainCfg, 10)

		features := toyFeatures(t, 16)
		features[0].Gender = intPtr(firstGender)
		features[1].Gender = intPtr(2)

		trainer.TrainStep(features[:1])
		trainer.TrainStep(features[1:])
		require.Equal(t, 1, trainer.GlobalStep())
		return trainer
	}

	a := train(0)
	b := train(1)

	differs := false
	for i, p := range a.advParams {
		for j, v := range p.data {
			if v != b.advParams[i].data[j] {
				differs = true
			}
		}
	}
	assert.True(t, differs, "first batch's gender label should reach the adversary step")
}

func TestRunTrainsOverEpochs(t *testing.T) {
	cfg := testEncoderConfig()
	cfg.MaxSeqLen = 17

	trainCfg := testTrainConfig()
	trainCfg.Epochs = 2

	pred := NewMultipleChoice(cfg)
	adv := NewSequenceClassifier(cfg, NumProtectedClasses)
	trainer := NewAdversarialTrainer(pred, adv, trainCfg, 2)

	features := toyFeatures(t, 16)
	predLoss, advLoss := trainer.Run(features)

	assert.Greater(t, predLoss, 0.0)
	assert.Greater(t, advLoss, 0.0)
	assert.Equal(t, 2, trainer.GlobalStep())
	assert.Len(t, trainer.History, 2)
}

func TestRunReturnsEpochMeanLosses(t *testing.T) {
	cfg := testEncoderConfig()
	cfg.MaxSeqLen = 17

	trainCfg := testTrainConfig()
	trainCfg.BatchSize = 1

	pred := NewMultipleChoice(cfg)
	adv := NewSequenceClassifier(cfg, NumProtectedClasses)
	trainer := NewAdversarialTrainer(pred, adv, trainCfg, 2)

	features := toyFeatures(t, 16)
	predLoss, advLoss := trainer.Run(features)

	require.Len(t, trainer.History, 2)
	assert.InDelta(t, (trainer.History[0].PredLoss+trainer.History[1].PredLoss)/2, predLoss, 1e-12)
	assert.InDelta(t, (trainer.History[0].AdvLoss+trainer.History[1].AdvLoss)/2, advLoss, 1e-12)
}

func TestAccuracy(t *testing.T) {
	logits := NewTensor(2, 2)
	logits.Set(0.1, 0, 0)
	logits.Set(0.9, 0, 1)
	logits.Set(0.8, 1, 0)
	logits.Set(0.2, 1, 1)

	assert.Equal(t, 2, Accuracy(logits, []int{1, 0}))
	assert.Equal(t, 0, Accuracy(logits, []int{0, 1}))
	assert.Equal(t, 1, Accuracy(logits, []int{1, 1}))
}

func TestEvaluate(t *testing.T) {
	cfg := testEncoderConfig()
	cfg.MaxSeqLen = 17

	pred := NewMultipleChoice(cfg)
	adv := NewSequenceClassifier(cfg, NumProtectedClasses)

	features := toyFeatures(t, 16)
	res := Evaluate(pred, adv, features, 8)

	assert.Equal(t, 2, res.NumExamples)
	assert.Greater(t, res.PredLoss, 0.0)
	assert.Greater(t, res.AdvLoss, 0.0)
	assert.GreaterOrEqual(t, res.PredAccuracy, 0.0)
	assert.LessOrEqual(t, res.PredAccuracy, 1.0)
	assert.GreaterOrEqual(t, res.AdvAccuracy, 0.0)
	assert.LessOrEqual(t, res.AdvAccuracy, 1.0)
}

func TestEvaluateSkipsAdversaryWithoutGender(t *testing.T) {
	cfg := testEncoderConfig()
	cfg.MaxSeqLen = 17

	pred := NewMultipleChoice(cfg)
	adv := NewSequenceClassifier(cfg, NumProtectedClasses)

	features := toyFeatures(t, 16)
	for _, f := range features {
		f.Gender = nil
	}

	res := Evaluate(pred, adv, features, 8)
	assert.Zero(t, res.AdvLoss)
	assert.Zero(t, res.AdvAccuracy)
	assert.Greater(t, res.PredLoss, 0.0)
}

func TestWriteEvalResultsSorted(t *testing.T) {
	dir := t.TempDir()

	err := WriteEvalResults(dir, map[string]interface{}{
		"eval_loss_pred":     1.5,
		"eval_accuracy_pred": 0.75,
		"global_step":        10,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "eval_results.txt"))
	require.NoError(t, err)
	assert.Equal(t, "eval_accuracy_pred = 0.75\neval_loss_pred = 1.5\nglobal_step = 10\n", string(data))
}
