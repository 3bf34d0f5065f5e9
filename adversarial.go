package main

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
)

// ===========================================================================
// WHAT'S GOING ON HERE: Adversarial Training
// ===========================================================================
//
// Two models are trained against each other:
//
//   - the predictor learns to pick the right ending;
//   - the adversary learns to recover the protected attribute from the
//     verb-phrase encoding of whichever ending the predictor picked.
//
// The coupled objective is L = L_pred - alpha * L_adv: the predictor is
// rewarded when the adversary fails, the adversary is trained on its own
// loss alone. Each batch runs two ordered update phases over one shared
// forward pass:
//
//   1. Predictor phase. The combined loss is backpropagated and the
//      predictor's optimizer steps. The adversary's parameters never
//      move in this phase. Selection hands the adversary integer token
//      IDs, so no gradient flows from L_adv back into the predictor
//      here; the -alpha term shapes the loss surface the schedules see,
//      not the predictor's per-step direction.
//   2. Adversary phase. L_adv alone is backpropagated through the
//      cached adversary forward and the adversary's optimizer steps.
//
// Each side's grad buffers are zeroed only after its own optimizer
// step, so both sides accumulate over the full accumulation window.
//
// The adversary's training-time input is the selected choice's VP
// encoding with one extra leading token: the predictor's confidence,
// quantized to an integer in [0,100] and fed directly as a token ID.
//
// Gradients accumulate across gradAccumSteps batches before either
// optimizer steps; per-batch losses are divided accordingly.
//
// ===========================================================================

// TrainConfig holds the adversarial fine-tuning hyperparameters.
type TrainConfig struct {
	Alpha            float64 // Weight of the adversary loss in the coupled objective
	BatchSize        int
	GradAccumSteps   int
	LearningRate     float64
	Epochs           int
	WarmupProportion float64
	Seed             int64
}

// StepLoss is one row of the training history, written to
// train_results.csv after the run.
type StepLoss struct {
	PredLoss float64 `csv:"pred_loss"`
	AdvLoss  float64 `csv:"adv_loss"`
}

// AdversarialTrainer drives the two-phase minimax updates.
type AdversarialTrainer struct {
	predictor *MultipleChoice
	adversary *SequenceClassifier

	predParams []*Tensor
	advParams  []*Tensor

	optPred  *AdamOptimizer
	optAdv   *AdamOptimizer
	schedule *WarmupLinearSchedule

	cfg TrainConfig

	globalStep int // optimizer steps taken, shared by both phases
	batchCount int // batches seen, for gradient accumulation

	History []StepLoss
}

// NewAdversarialTrainer wires both models to their optimizers.
// totalSteps is the number of optimizer steps the whole run will take;
// the warmup-linear schedule needs it up front.
func NewAdversarialTrainer(predictor *MultipleChoice, adversary *SequenceClassifier, cfg TrainConfig, totalSteps int) *AdversarialTrainer {
	predParams := predictor.Parameters()
	advParams := adversary.Parameters()

	// BERT fine-tuning defaults: beta1=0.9, beta2=0.999, eps=1e-6, wd=0.01
	return &AdversarialTrainer{
		predictor:  predictor,
		adversary:  adversary,
		predParams: predParams,
		advParams:  advParams,
		optPred:    NewAdamOptimizer(predParams, 0.9, 0.999, 1e-6, 0.01),
		optAdv:     NewAdamOptimizer(advParams, 0.9, 0.999, 1e-6, 0.01),
		schedule:   NewWarmupLinearSchedule(cfg.LearningRate, cfg.WarmupProportion, totalSteps),
		cfg:        cfg,
	}
}

// GlobalStep returns the number of optimizer steps taken so far.
func (t *AdversarialTrainer) GlobalStep() int {
	return t.globalStep
}

// selectChoice picks the predictor's answer and quantizes its confidence.
// The confidence is the max softmax probability scaled to [0,100] and
// truncated, reusable directly as a token ID.
func selectChoice(logits []float64) (choice, confidence int) {
	probs := softmaxSlice(logits)
	choice = argmax(probs)
	return choice, int(math.Floor(100 * probs[choice]))
}

// adversaryInputs builds the adversary's input for one selected choice.
// During training the confidence token is prepended with mask 1; at
// evaluation time the bare VP encoding is used.
func adversaryInputs(enc *EncodedChoice, confidence int, training bool) (ids, mask []int) {
	if !training {
		return enc.VPInputIDs, enc.VPInputMask
	}

	ids = make([]int, 0, len(enc.VPInputIDs)+1)
	ids = append(ids, confidence)
	ids = append(ids, enc.VPInputIDs...)

	mask = make([]int, 0, len(enc.VPInputMask)+1)
	mask = append(mask, 1)
	mask = append(mask, enc.VPInputMask...)

	return ids, mask
}

// TrainStep runs both update phases on one batch and returns the batch's
// predictor and adversary losses (before accumulation scaling).
func (t *AdversarialTrainer) TrainStep(batch []*Feature) (predLoss, advLoss float64) {
	n := len(batch)
	if n == 0 {
		panic("trainer: empty batch")
	}

	// Shared forward pass
	batchLogits := NewTensor(n, NumChoices)
	labels := make([]int, n)
	predCaches := make([]*ChoiceCache, n)

	genders := make([]int, n)
	advLogits := NewTensor(n, NumProtectedClasses)
	advCaches := make([]*ClassifierCache, n)

	for i, feat := range batch {
		logits, cache := t.predictor.ForwardWithCache(feat)
		predCaches[i] = cache
		for c := 0; c < NumChoices; c++ {
			batchLogits.Set(logits[c], i, c)
		}
		labels[i] = *feat.Label

		choice, confidence := selectChoice(logits)
		ids, mask := adversaryInputs(&feat.Choices[choice], confidence, true)

		aLogits, aCache := t.adversary.ForwardWithCache(ids, mask)
		advCaches[i] = aCache
		for c := 0; c < NumProtectedClasses; c++ {
			advLogits.Set(aLogits[c], i, c)
		}
		genders[i] = *feat.Gender
	}

	predLoss = CrossEntropyLoss(batchLogits, labels)
	advLoss = CrossEntropyLoss(advLogits, genders)

	accumScale := 1.0 / float64(t.cfg.GradAccumSteps)
	stepNow := (t.batchCount+1)%t.cfg.GradAccumSteps == 0
	t.batchCount++

	// Phase 1: predictor update from the combined loss. Selection hands
	// the adversary integer token IDs, so the coupled backward below
	// touches predictor parameters only; the adversary's accumulating
	// buffers stay intact across the whole window.
	gradPredLogits := CrossEntropyBackward(batchLogits, labels)
	gradPredLogits = Scale(gradPredLogits, accumScale)
	for i := range batch {
		rowGrad := make([]float64, NumChoices)
		for c := 0; c < NumChoices; c++ {
			rowGrad[c] = gradPredLogits.At(i, c)
		}
		t.predictor.Backward(rowGrad, predCaches[i])
	}

	if stepNow {
		lr := t.schedule.LR(t.globalStep)
		t.optPred.Step(t.predParams, lr)
		t.optPred.ZeroGrad(t.predParams)
	}

	// Phase 2: adversary update from its own loss, reusing the cached
	// forward pass. Gradients accumulate across the window just like the
	// predictor's.
	gradAdvLogits := CrossEntropyBackward(advLogits, genders)
	gradAdvLogits = Scale(gradAdvLogits, accumScale)
	for i := range batch {
		rowGrad := make([]float64, NumProtectedClasses)
		for c := 0; c < NumProtectedClasses; c++ {
			rowGrad[c] = gradAdvLogits.At(i, c)
		}
		t.adversary.Backward(rowGrad, advCaches[i])
	}

	if stepNow {
		lr := t.schedule.LR(t.globalStep)
		t.optAdv.Step(t.advParams, lr)
		t.optAdv.ZeroGrad(t.advParams)
		t.globalStep++
	}

	t.History = append(t.History, StepLoss{PredLoss: predLoss, AdvLoss: advLoss})

	return predLoss, advLoss
}

// Run trains over the feature set for the configured number of epochs,
// reshuffling each epoch. Returns the mean predictor and adversary loss
// of the final epoch.
func (t *AdversarialTrainer) Run(features []*Feature) (meanPredLoss, meanAdvLoss float64) {
	rng := rand.New(rand.NewSource(t.cfg.Seed))
	log := Logger()

	order := make([]int, len(features))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		numBatches := (len(features) + t.cfg.BatchSize - 1) / t.cfg.BatchSize
		epochPred, epochAdv := 0.0, 0.0

		err := tqdm.With(iterators.Interval(0, numBatches), fmt.Sprintf("Epoch %d/%d", epoch+1, t.cfg.Epochs), func(v interface{}) (brk bool) {
			b := v.(int)
			lo := b * t.cfg.BatchSize
			hi := lo + t.cfg.BatchSize
			if hi > len(features) {
				hi = len(features)
			}

			batch := make([]*Feature, 0, hi-lo)
			for _, idx := range order[lo:hi] {
				batch = append(batch, features[idx])
			}

			predLoss, advLoss := t.TrainStep(batch)
			epochPred += predLoss
			epochAdv += advLoss
			return
		})
		if err != nil {
			log.Warnw("progress bar failed", "epoch", epoch+1, "error", err)
		}

		meanPredLoss = epochPred / float64(numBatches)
		meanAdvLoss = epochAdv / float64(numBatches)

		log.Infow("epoch complete",
			"epoch", epoch+1,
			"loss", meanPredLoss-t.cfg.Alpha*meanAdvLoss,
			"loss_pred", meanPredLoss,
			"loss_adv", meanAdvLoss,
			"global_step", t.globalStep,
		)
	}

	return meanPredLoss, meanAdvLoss
}
