package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// ===========================================================================
// DEBIAS CLI - Adversarial Fine-Tuning End to End
// ===========================================================================
//
// This is the main entry point. It wires the whole pipeline together:
//
//   dataset CSV → examples → fixed-width features
//              → adversarial training (predictor vs adversary)
//              → checkpoints + train_results.csv
//              → evaluation → eval_results.txt
//
// Train and eval are independently switchable; at least one must be on.
// All configuration problems (missing columns, accelerator flags on a
// CPU build, no tokenizer for an eval-only run) are reported before any
// model work starts.
//
// ===========================================================================

// RunDebiasCommand implements the debias CLI.
func RunDebiasCommand(args []string) error {
	fs := flag.NewFlagSet("debias", flag.ExitOnError)

	// Data
	trainPath := fs.String("data", "", "Training dataset CSV (with label and gender columns)")
	evalPath := fs.String("eval-data", "", "Evaluation dataset CSV")
	outputDir := fs.String("out", "debias_output", "Output directory for checkpoints and results")
	pretrained := fs.String("pretrained", "", "Directory with existing predictor/adversary checkpoints to fine-tune")
	tokenizerPath := fs.String("tokenizer", "", "Trained tokenizer JSON (defaults to training a new one on -data)")

	// Modes
	doTrain := fs.Bool("train", false, "Run training")
	doEval := fs.Bool("eval", false, "Run evaluation")

	// Encoding
	maxSeqLen := fs.Int("max-seq-len", 128, "Maximum sequence length after tokenization")
	lowerCase := fs.Bool("lower-case", false, "Lower-case text before tokenizing")
	vocabSize := fs.Int("vocab-size", 512, "Target vocabulary size when training a tokenizer")

	// Model hyperparameters (ignored when -pretrained is set)
	hiddenDim := fs.Int("hidden", 128, "Hidden dimension")
	numLayers := fs.Int("layers", 2, "Number of encoder layers")
	numHeads := fs.Int("heads", 2, "Number of attention heads")

	// Training hyperparameters
	trainBatch := fs.Int("train-batch", 8, "Training batch size")
	evalBatch := fs.Int("eval-batch", 8, "Evaluation batch size")
	lr := fs.Float64("lr", 5e-5, "Peak learning rate for both optimizers")
	epochs := fs.Int("epochs", 3, "Number of training epochs")
	warmup := fs.Float64("warmup", 0.1, "Warmup proportion of total steps")
	gradAccum := fs.Int("grad-accum", 1, "Gradient accumulation steps")
	alpha := fs.Float64("alpha", 1.0, "Weight of the adversary loss in the coupled objective")
	seed := fs.Int64("seed", 42, "Random seed for shuffling")

	// Accelerator flags, kept for interface compatibility; rejected on
	// this CPU-only build
	fp16 := fs.Bool("fp16", false, "Use 16-bit precision (unsupported)")
	fs.Float64("loss-scale", 128, "Static loss scale for fp16 (unsupported)")
	localRank := fs.Int("local-rank", -1, "Local rank for distributed training (unsupported)")

	verbose := fs.Bool("v", false, "Verbose logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	SetVerboseLogging(*verbose)
	log := Logger()

	// Validate configuration before touching any data
	if !*doTrain && !*doEval {
		return errors.New("nothing to do: pass -train, -eval, or both")
	}
	if *doTrain && *trainPath == "" {
		return errors.New("-train requires -data")
	}
	if *doEval && *evalPath == "" {
		return errors.New("-eval requires -eval-data")
	}
	if err := ValidateAcceleratorFlags(*fp16, *localRank); err != nil {
		return err
	}
	if *gradAccum < 1 {
		return errors.Errorf("-grad-accum must be >= 1, got %d", *gradAccum)
	}
	if *maxSeqLen < 8 || *maxSeqLen%2 != 0 {
		return errors.Errorf("-max-seq-len must be even and >= 8, got %d", *maxSeqLen)
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating output directory %s", *outputDir)
	}

	// Step 1: load datasets
	var trainExamples, evalExamples []*Example
	var err error
	if *doTrain {
		trainExamples, err = ReadExamples(*trainPath, true)
		if err != nil {
			return err
		}
		log.Infow("loaded training data", "path", *trainPath, "examples", len(trainExamples))
	}
	if *doEval {
		evalExamples, err = ReadExamples(*evalPath, false)
		if err != nil {
			return err
		}
		// Accuracy needs gold labels; gender may be absent (the
		// adversary metrics are then skipped)
		for i, ex := range evalExamples {
			if ex.Label == nil {
				return errors.Errorf("dataset %s row %d: evaluation requires a label column", *evalPath, i+1)
			}
		}
		log.Infow("loaded evaluation data", "path", *evalPath, "examples", len(evalExamples))
	}

	// Step 2: tokenizer
	tokenizer, err := resolveTokenizer(*tokenizerPath, trainExamples, *lowerCase, *vocabSize, *outputDir)
	if err != nil {
		return err
	}
	log.Infow("tokenizer ready", "vocab_size", tokenizer.VocabSize())

	// Step 3: models
	SeedWeightInit(*seed)
	predictor, adversary, err := resolveModels(*pretrained, EncoderConfig{
		VocabSize:   tokenizer.VocabSize(),
		MaxSeqLen:   *maxSeqLen + 1, // +1 for the training-time confidence token
		HiddenDim:   *hiddenDim,
		NumLayers:   *numLayers,
		NumHeads:    *numHeads,
		FFHidden:    4 * *hiddenDim,
		NumSegments: 2,
	})
	if err != nil {
		return err
	}

	var trainer *AdversarialTrainer
	var trainPredLoss, trainAdvLoss float64

	// Step 4: train
	if *doTrain {
		features := ConvertExamplesToFeatures(trainExamples, tokenizer, *maxSeqLen)

		numBatches := (len(features) + *trainBatch - 1) / *trainBatch
		totalSteps := numBatches / *gradAccum * *epochs

		trainer = NewAdversarialTrainer(predictor, adversary, TrainConfig{
			Alpha:            *alpha,
			BatchSize:        *trainBatch,
			GradAccumSteps:   *gradAccum,
			LearningRate:     *lr,
			Epochs:           *epochs,
			WarmupProportion: *warmup,
			Seed:             *seed,
		}, totalSteps)

		log.Infow("starting adversarial training",
			"examples", len(features),
			"batch_size", *trainBatch,
			"epochs", *epochs,
			"total_steps", totalSteps,
			"alpha", *alpha,
		)

		trainPredLoss, trainAdvLoss = trainer.Run(features)

		if err := predictor.Save(*outputDir); err != nil {
			return err
		}
		if err := adversary.Save(*outputDir); err != nil {
			return err
		}
		if err := writeTrainingHistory(*outputDir, trainer.History); err != nil {
			return err
		}
		log.Infow("saved checkpoints", "dir", *outputDir, "global_step", trainer.GlobalStep())
	}

	// Step 5: evaluate
	if *doEval {
		features := ConvertExamplesToFeatures(evalExamples, tokenizer, *maxSeqLen)
		result := Evaluate(predictor, adversary, features, *evalBatch)

		metrics := map[string]interface{}{
			"eval_loss_pred":     result.PredLoss,
			"eval_accuracy_pred": result.PredAccuracy,
			"eval_loss_adv":      result.AdvLoss,
			"eval_accuracy_adv":  result.AdvAccuracy,
		}
		if trainer != nil {
			metrics["global_step"] = trainer.GlobalStep()
			// Mean training losses of the final epoch, not the last batch.
			metrics["loss_pred"] = trainPredLoss
			metrics["loss_adv"] = trainAdvLoss
		}

		if err := WriteEvalResults(*outputDir, metrics); err != nil {
			return err
		}
	}

	return nil
}

// resolveTokenizer loads a tokenizer from disk or trains one on the
// training corpus and saves it next to the checkpoints.
func resolveTokenizer(path string, trainExamples []*Example, lowerCase bool, vocabSize int, outputDir string) (*Tokenizer, error) {
	if path != "" {
		return LoadTokenizer(path)
	}
	if len(trainExamples) == 0 {
		return nil, errors.New("evaluation without -tokenizer requires -data to train one")
	}

	corpus := make([]string, 0, len(trainExamples)*5)
	for _, ex := range trainExamples {
		corpus = append(corpus, ex.Context)
		endings := ex.Endings()
		corpus = append(corpus, endings[:]...)
	}

	tokenizer := NewTokenizer(lowerCase)
	tokenizer.Train(corpus, vocabSize)

	if err := tokenizer.Save(filepath.Join(outputDir, "tokenizer.json")); err != nil {
		return nil, err
	}
	return tokenizer, nil
}

// resolveModels loads both checkpoints from dir, or builds fresh models
// from config when dir is empty.
func resolveModels(dir string, config EncoderConfig) (*MultipleChoice, *SequenceClassifier, error) {
	if dir == "" {
		return NewMultipleChoice(config), NewSequenceClassifier(config, NumProtectedClasses), nil
	}

	predictor, err := LoadMultipleChoice(dir)
	if err != nil {
		return nil, nil, err
	}
	adversary, err := LoadSequenceClassifier(dir)
	if err != nil {
		return nil, nil, err
	}
	return predictor, adversary, nil
}

// writeTrainingHistory writes per-batch losses to train_results.csv.
func writeTrainingHistory(outputDir string, history []StepLoss) error {
	path := filepath.Join(outputDir, "train_results.csv")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	return errors.Wrapf(gocsv.MarshalFile(&history, f), "writing %s", path)
}
