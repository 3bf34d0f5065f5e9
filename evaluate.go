package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
)

// Accuracy counts rows of logits whose argmax equals the label.
func Accuracy(logits *Tensor, labels []int) int {
	if len(logits.shape) != 2 {
		panic("Accuracy expects 2D logits")
	}
	if logits.shape[0] != len(labels) {
		panic("Accuracy: label length does not match batch size")
	}

	correct := 0
	classes := logits.shape[1]
	for i := range labels {
		best := 0
		for c := 1; c < classes; c++ {
			if logits.At(i, c) > logits.At(i, best) {
				best = c
			}
		}
		if best == labels[i] {
			correct++
		}
	}
	return correct
}

// EvalResult holds the metrics of one evaluation pass.
type EvalResult struct {
	PredLoss     float64
	PredAccuracy float64
	AdvLoss      float64
	AdvAccuracy  float64
	NumExamples  int
}

// Evaluate runs both models over the features in inference mode.
//
// Selection at evaluation time is the bare argmax of the predictor's
// logits; no confidence token is prepended to the adversary's input.
// No caches are kept and no parameter moves.
//
// Features without a gender label are skipped for the adversary metrics
// but still count toward the predictor's.
func Evaluate(predictor *MultipleChoice, adversary *SequenceClassifier, features []*Feature, batchSize int) *EvalResult {
	if batchSize <= 0 {
		panic("evaluate: batch size must be positive")
	}

	res := &EvalResult{NumExamples: len(features)}

	predLossSum, advLossSum := 0.0, 0.0
	predCorrect, advCorrect := 0, 0
	predBatches, advBatches := 0, 0
	advExamples := 0

	numBatches := (len(features) + batchSize - 1) / batchSize

	err := tqdm.With(iterators.Interval(0, numBatches), "Evaluating", func(v interface{}) (brk bool) {
		b := v.(int)
		lo := b * batchSize
		hi := lo + batchSize
		if hi > len(features) {
			hi = len(features)
		}
		batch := features[lo:hi]

		batchLogits := NewTensor(len(batch), NumChoices)
		labels := make([]int, len(batch))

		var advRows []*Feature
		var advChoices []int

		for i, feat := range batch {
			logits := predictor.Forward(feat)
			for c := 0; c < NumChoices; c++ {
				batchLogits.Set(logits[c], i, c)
			}
			labels[i] = *feat.Label

			if feat.Gender != nil {
				advRows = append(advRows, feat)
				advChoices = append(advChoices, argmax(logits))
			}
		}

		predLossSum += CrossEntropyLoss(batchLogits, labels)
		predCorrect += Accuracy(batchLogits, labels)
		predBatches++

		if len(advRows) > 0 {
			advLogits := NewTensor(len(advRows), NumProtectedClasses)
			genders := make([]int, len(advRows))
			for i, feat := range advRows {
				ids, mask := adversaryInputs(&feat.Choices[advChoices[i]], 0, false)
				logits := adversary.Forward(ids, mask)
				for c := 0; c < NumProtectedClasses; c++ {
					advLogits.Set(logits[c], i, c)
				}
				genders[i] = *feat.Gender
			}
			advLossSum += CrossEntropyLoss(advLogits, genders)
			advCorrect += Accuracy(advLogits, genders)
			advBatches++
			advExamples += len(advRows)
		}

		return
	})
	if err != nil {
		Logger().Warnw("progress bar failed", "error", err)
	}

	if predBatches > 0 {
		res.PredLoss = predLossSum / float64(predBatches)
		res.PredAccuracy = float64(predCorrect) / float64(len(features))
	}
	if advBatches > 0 {
		res.AdvLoss = advLossSum / float64(advBatches)
		res.AdvAccuracy = float64(advCorrect) / float64(advExamples)
	}

	return res
}

// WriteEvalResults writes metrics as "key = value" lines, sorted by key,
// to eval_results.txt in outputDir.
func WriteEvalResults(outputDir string, metrics map[string]interface{}) error {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s = %v\n", k, metrics[k])
	}

	path := filepath.Join(outputDir, "eval_results.txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}

	for _, k := range keys {
		Logger().Infow("eval metric", "key", k, "value", metrics[k])
	}

	return nil
}
