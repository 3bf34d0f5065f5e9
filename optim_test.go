package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWarmupLinear(t *testing.T) {
	// Ramp up during warmup
	assert.InDelta(t, 0.0, warmupLinear(0.0, 0.1), 1e-12)
	assert.InDelta(t, 0.5, warmupLinear(0.05, 0.1), 1e-12)

	// Decay after warmup
	assert.InDelta(t, 0.9, warmupLinear(0.1, 0.1), 1e-12)
	assert.InDelta(t, 0.5, warmupLinear(0.5, 0.1), 1e-12)
	assert.InDelta(t, 0.0, warmupLinear(1.0, 0.1), 1e-12)

	// Never negative past the end
	assert.Zero(t, warmupLinear(1.5, 0.1))
}

func TestWarmupLinearScheduleLR(t *testing.T) {
	s := NewWarmupLinearSchedule(1e-3, 0.1, 100)

	assert.Zero(t, s.LR(0))
	assert.InDelta(t, 5e-4, s.LR(5), 1e-12)
	assert.InDelta(t, 5e-4, s.LR(50), 1e-12)
	assert.Greater(t, s.LR(20), s.LR(90))
}

func TestSGDStep(t *testing.T) {
	p := NewTensor(2)
	p.data[0], p.data[1] = 1.0, -1.0
	p.grad[0], p.grad[1] = 0.5, -0.5

	opt := NewSGDOptimizer(0)
	opt.Step([]*Tensor{p}, 0.1)

	assert.InDelta(t, 0.95, p.data[0], 1e-12)
	assert.InDelta(t, -0.95, p.data[1], 1e-12)
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	// Minimize f(x) = (x - 3)^2 with Adam; grad = 2(x - 3)
	p := NewTensor(1)
	p.data[0] = 0.0

	opt := NewAdamOptimizer([]*Tensor{p}, 0.9, 0.999, 1e-8, 0)
	for i := 0; i < 500; i++ {
		p.grad[0] = 2 * (p.data[0] - 3)
		opt.Step([]*Tensor{p}, 0.05)
		opt.ZeroGrad([]*Tensor{p})
	}

	assert.InDelta(t, 3.0, p.data[0], 0.1)
}

func TestClipGradients(t *testing.T) {
	p := NewTensor(2)
	p.grad[0], p.grad[1] = 3.0, 4.0 // norm 5

	clipGradients([]*Tensor{p}, 1.0)

	assert.InDelta(t, 0.6, p.grad[0], 1e-12)
	assert.InDelta(t, 0.8, p.grad[1], 1e-12)

	// Under the cap, gradients pass through untouched
	p.grad[0], p.grad[1] = 0.1, 0.1
	clipGradients([]*Tensor{p}, 1.0)
	assert.Equal(t, 0.1, p.grad[0])
}

func TestCrossEntropyLossAndBackward(t *testing.T) {
	logits := NewTensor(1, 2)
	logits.Set(0, 0, 0)
	logits.Set(0, 0, 1)

	// Uniform logits over two classes: loss = ln 2
	assert.InDelta(t, 0.6931, CrossEntropyLoss(logits, []int{0}), 1e-4)

	grad := CrossEntropyBackward(logits, []int{0})
	assert.InDelta(t, -0.5, grad.At(0, 0), 1e-9)
	assert.InDelta(t, 0.5, grad.At(0, 1), 1e-9)
}
