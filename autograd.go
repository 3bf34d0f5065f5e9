package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the backward halves of the tensor operations used by
// the two encoders. Each forward operation in tensor.go has a matching
// gradient computation here, applied via the chain rule during the two
// ordered backward phases of an adversarial step (predictor update, then
// adversary update).
//
// EXAMPLE: Matrix Multiplication
//
// Forward: C = A @ B
// Backward:
//   - ∂L/∂A = ∂L/∂C @ B^T
//   - ∂L/∂B = A^T @ ∂L/∂C
//
// ===========================================================================

import (
	"math"
)

// MatMulBackward computes gradients for matrix multiplication.
//
// Given:
//   - C = A @ B
//   - gradC = ∂L/∂C (gradient flowing back from loss)
//
// Compute:
//   - gradA = ∂L/∂A = gradC @ B^T
//   - gradB = ∂L/∂B = A^T @ gradC
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	bT := Transpose(b)
	gradA = MatMul(gradC, bT)

	aT := Transpose(a)
	gradB = MatMul(aT, gradC)

	return gradA, gradB
}

// GELUBackward computes gradient for GELU activation.
//
// GELU(x) = 0.5 * x * (1 + tanh(√(2/π) * (x + 0.044715 * x³)))
//
// The derivative is computed analytically from the tanh approximation.
func GELUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)

	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)

	for i := range x.data {
		v := x.data[i]

		inner := sqrt2OverPi * (v + coeff*v*v*v)
		tanhInner := math.Tanh(inner)

		tanhDeriv := 1.0 - tanhInner*tanhInner // sech²(inner)
		innerDeriv := sqrt2OverPi * (1.0 + 3.0*coeff*v*v)
		geluDeriv := 0.5*(1.0+tanhInner) + 0.5*v*tanhDeriv*innerDeriv

		gradX.data[i] = gradY.data[i] * geluDeriv
	}

	return gradX
}

// SoftmaxBackward computes gradient for softmax.
//
// Given Y = softmax(X) and gradY = ∂L/∂Y:
//
//	gradX[i] = Y[i] * (gradY[i] - Σ_j gradY[j] * Y[j])
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.shape) != 2 {
		panic("SoftmaxBackward: requires 2D tensor")
	}

	rows := y.shape[0]
	features := y.shape[1]

	gradX := NewTensor(y.shape...)

	for b := 0; b < rows; b++ {
		// Dot product: Σ_j gradY[j] * Y[j]
		dot := 0.0
		for f := 0; f < features; f++ {
			dot += gradY.At(b, f) * y.At(b, f)
		}

		for f := 0; f < features; f++ {
			gradX.Set(y.At(b, f)*(gradY.At(b, f)-dot), b, f)
		}
	}

	return gradX
}

// LayerNormBackward computes gradients for layer normalization.
//
// LayerNorm: y = gamma * (x - mean) / std + beta
//
// Gradients:
//   - ∂L/∂x involves the chain rule through mean and variance
//   - ∂L/∂gamma = Σ ∂L/∂y * (x - mean) / std
//   - ∂L/∂beta = Σ ∂L/∂y
func LayerNormBackward(x, gamma, beta, gradY *Tensor, epsilon float64) (gradX, gradGamma, gradBeta *Tensor) {
	if len(x.shape) != 2 {
		panic("LayerNormBackward: requires 2D tensor")
	}

	rows := x.shape[0]
	features := x.shape[1]

	gradX = NewTensor(x.shape...)
	gradGamma = NewTensor(gamma.shape...)
	gradBeta = NewTensor(beta.shape...)

	n := float64(features)

	for b := 0; b < rows; b++ {
		// Recompute statistics (needed for backward pass)
		mean := 0.0
		for f := 0; f < features; f++ {
			mean += x.At(b, f)
		}
		mean /= n

		variance := 0.0
		for f := 0; f < features; f++ {
			diff := x.At(b, f) - mean
			variance += diff * diff
		}
		variance /= n

		std := math.Sqrt(variance + epsilon)

		for f := 0; f < features; f++ {
			xNorm := (x.At(b, f) - mean) / std

			gradGamma.data[f] += gradY.At(b, f) * xNorm
			gradBeta.data[f] += gradY.At(b, f)
		}

		// Gradient for x through mean and variance, standard formula
		sumGradY := 0.0
		sumGradYXNorm := 0.0
		for f := 0; f < features; f++ {
			xNorm := (x.At(b, f) - mean) / std
			sumGradY += gradY.At(b, f) * gamma.data[f]
			sumGradYXNorm += gradY.At(b, f) * gamma.data[f] * xNorm
		}

		for f := 0; f < features; f++ {
			xNorm := (x.At(b, f) - mean) / std
			gradXNorm := gradY.At(b, f) * gamma.data[f]
			gradX.Set((n*gradXNorm-sumGradY-xNorm*sumGradYXNorm)/(n*std), b, f)
		}
	}

	return gradX, gradGamma, gradBeta
}

// CrossEntropyBackward computes the loss gradient for classification logits.
//
// Given:
//   - logits: (batch, classes)
//   - targets: (batch) - target class indices
//   - loss = -log(softmax(logits)[target]), averaged over batch
//
// The gradient simplifies to: softmax(logits) - one_hot(targets), divided
// by the batch size to match the averaged loss.
func CrossEntropyBackward(logits *Tensor, targets []int) *Tensor {
	if len(logits.shape) != 2 {
		panic("CrossEntropyBackward: requires 2D logits")
	}

	batchSize := logits.shape[0]
	classes := logits.shape[1]

	probs := Softmax(logits)

	gradLogits := NewTensor(batchSize, classes)

	for b := 0; b < batchSize; b++ {
		for c := 0; c < classes; c++ {
			if c == targets[b] {
				gradLogits.Set((probs.At(b, c)-1.0)/float64(batchSize), b, c)
			} else {
				gradLogits.Set(probs.At(b, c)/float64(batchSize), b, c)
			}
		}
	}

	return gradLogits
}

// AccumulateGrad adds gradient to a tensor's gradient buffer.
// Used when a tensor is used multiple times in the forward pass (the
// predictor's encoder sees all four choices before its backward runs).
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if !shapeEqual(t.shape, grad.shape) {
		panic("AccumulateGrad: shape mismatch")
	}

	for i := range t.grad {
		t.grad[i] += grad.data[i]
	}
}
