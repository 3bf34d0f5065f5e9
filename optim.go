package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Optimizers and the learning-rate schedule for adversarial fine-tuning.
//
// The trainer keeps TWO optimizer instances - one over the predictor's
// parameters, one over the adversary's. They never share state: the two
// backward phases of a step mutate disjoint parameter sets, and each
// optimizer only ever sees its own set.
//
// The schedule is the BERT fine-tuning ramp: linear warmup from 0 to the
// base rate over the first warmup fraction of total steps, then linear
// decay back to 0.
//
// ===========================================================================

import (
	"math"
)

// Optimizer is implemented by the optimization algorithms below.
type Optimizer interface {
	// Step performs a single optimization step.
	// Updates parameters using their gradients.
	Step(params []*Tensor, lr float64)

	// ZeroGrad clears all gradients.
	ZeroGrad(params []*Tensor)
}

// SGDOptimizer implements Stochastic Gradient Descent.
type SGDOptimizer struct {
	weightDecay float64
}

// NewSGDOptimizer creates an SGD optimizer.
func NewSGDOptimizer(weightDecay float64) *SGDOptimizer {
	return &SGDOptimizer{
		weightDecay: weightDecay,
	}
}

// Step updates parameters using SGD: param -= lr * (grad + weightDecay * param).
func (opt *SGDOptimizer) Step(params []*Tensor, lr float64) {
	for _, p := range params {
		for i := range p.data {
			grad := p.grad[i] + opt.weightDecay*p.data[i]
			p.data[i] -= lr * grad
		}
	}
}

// ZeroGrad clears gradients.
func (opt *SGDOptimizer) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// AdamOptimizer implements the Adam optimization algorithm.
//
// Adam combines:
//   - Momentum (moving average of gradients)
//   - RMSProp (moving average of squared gradients)
//   - Bias correction (accounts for initialization at zero)
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1 - beta1) * grad
//	v_t = beta2 * v_{t-1} + (1 - beta2) * grad²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param -= lr * m_hat / (sqrt(v_hat) + epsilon)
type AdamOptimizer struct {
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64
	maxGradNorm float64 // global-norm clip applied before each step; 0 disables

	// State (one per parameter)
	m []*Tensor // First moment (momentum)
	v []*Tensor // Second moment (variance)
	t int       // Time step (for bias correction)
}

// NewAdamOptimizer creates an Adam optimizer with moment buffers matching
// the given parameter shapes.
func NewAdamOptimizer(params []*Tensor, beta1, beta2, epsilon, weightDecay float64) *AdamOptimizer {
	m := make([]*Tensor, len(params))
	v := make([]*Tensor, len(params))

	for i, p := range params {
		m[i] = NewTensor(p.shape...)
		v[i] = NewTensor(p.shape...)
	}

	return &AdamOptimizer{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		maxGradNorm: 1.0,
		m:           m,
		v:           v,
		t:           0,
	}
}

// Step performs an Adam update over params. params must be the same slice,
// in the same order, as the one the optimizer was created with.
func (opt *AdamOptimizer) Step(params []*Tensor, lr float64) {
	opt.t++

	if opt.maxGradNorm > 0 {
		clipGradients(params, opt.maxGradNorm)
	}

	// Bias correction factors
	bias1 := 1.0 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1.0 - math.Pow(opt.beta2, float64(opt.t))

	for i, p := range params {
		for j := range p.data {
			// Gradient with weight decay
			grad := p.grad[j] + opt.weightDecay*p.data[j]

			opt.m[i].data[j] = opt.beta1*opt.m[i].data[j] + (1.0-opt.beta1)*grad
			opt.v[i].data[j] = opt.beta2*opt.v[i].data[j] + (1.0-opt.beta2)*grad*grad

			mHat := opt.m[i].data[j] / bias1
			vHat := opt.v[i].data[j] / bias2

			p.data[j] -= lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}

// ZeroGrad clears gradients.
func (opt *AdamOptimizer) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// clipGradients clips gradients by global norm.
func clipGradients(params []*Tensor, maxNorm float64) {
	globalNorm := 0.0
	for _, p := range params {
		for _, g := range p.grad {
			globalNorm += g * g
		}
	}
	globalNorm = math.Sqrt(globalNorm)

	if globalNorm > maxNorm {
		scale := maxNorm / globalNorm
		for _, p := range params {
			for i := range p.grad {
				p.grad[i] *= scale
			}
		}
	}
}

// WarmupLinearSchedule is the warmup-then-linear-decay learning-rate ramp
// used for BERT fine-tuning. Both optimizers in an adversarial run share
// one schedule so the predictor and adversary always see the same rate.
type WarmupLinearSchedule struct {
	baseLR     float64
	warmup     float64 // warmup proportion of total steps, e.g. 0.1
	totalSteps int
}

// NewWarmupLinearSchedule creates a schedule over totalSteps optimization
// steps with the given warmup proportion.
func NewWarmupLinearSchedule(baseLR, warmup float64, totalSteps int) *WarmupLinearSchedule {
	return &WarmupLinearSchedule{
		baseLR:     baseLR,
		warmup:     warmup,
		totalSteps: totalSteps,
	}
}

// LR returns the learning rate for the given global step.
func (s *WarmupLinearSchedule) LR(step int) float64 {
	if s.totalSteps <= 0 {
		return s.baseLR
	}
	return s.baseLR * warmupLinear(float64(step)/float64(s.totalSteps), s.warmup)
}

// warmupLinear ramps linearly from 0 to 1 over the first warmup fraction
// of progress, then decays linearly from 1 back to 0.
func warmupLinear(progress, warmup float64) float64 {
	if warmup > 0 && progress < warmup {
		return progress / warmup
	}
	decayed := 1.0 - progress
	if decayed < 0 {
		return 0
	}
	return decayed
}

// CrossEntropyLoss computes the cross-entropy loss for classification.
//
// Given:
//   - logits: (batch, classes) - unnormalized scores
//   - targets: (batch) - target class indices
//
// Computes loss = -log(softmax(logits)[target]), averaged over batch.
func CrossEntropyLoss(logits *Tensor, targets []int) float64 {
	if len(logits.shape) != 2 {
		panic("CrossEntropyLoss expects 2D logits")
	}

	batchSize := logits.shape[0]
	classes := logits.shape[1]

	if len(targets) != batchSize {
		panic("CrossEntropyLoss: target length does not match batch size")
	}

	totalLoss := 0.0

	for b := 0; b < batchSize; b++ {
		// Find max logit for numerical stability
		maxLogit := logits.At(b, 0)
		for c := 1; c < classes; c++ {
			if logit := logits.At(b, c); logit > maxLogit {
				maxLogit = logit
			}
		}

		sumExp := 0.0
		for c := 0; c < classes; c++ {
			sumExp += math.Exp(logits.At(b, c) - maxLogit)
		}
		logSumExp := maxLogit + math.Log(sumExp)

		targetLogit := logits.At(b, targets[b])
		totalLoss += logSumExp - targetLogit
	}

	return totalLoss / float64(batchSize)
}
