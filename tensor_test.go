package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatMul(t *testing.T) {
	a := NewTensor(2, 3)
	b := NewTensor(3, 2)

	// a = [[1,2,3],[4,5,6]]
	for i := 0; i < 6; i++ {
		a.data[i] = float64(i + 1)
	}
	// b = [[7,8],[9,10],[11,12]]
	for i := 0; i < 6; i++ {
		b.data[i] = float64(i + 7)
	}

	c := MatMul(a, b)
	require.Equal(t, []int{2, 2}, c.Shape())

	assert.Equal(t, 58.0, c.At(0, 0))
	assert.Equal(t, 64.0, c.At(0, 1))
	assert.Equal(t, 139.0, c.At(1, 0))
	assert.Equal(t, 154.0, c.At(1, 1))
}

func TestMatMulParallelMatchesSequential(t *testing.T) {
	m := parallelRowThreshold * 2
	a := NewTensorRand(m, 31)
	b := NewTensorRand(31, 17)

	seq := NewTensor(m, 17)
	matMulRows(a, b, seq, 0, m)

	par := MatMulParallel(a, b, 4)

	require.Equal(t, seq.Shape(), par.Shape())
	for i := range seq.data {
		assert.InDelta(t, seq.data[i], par.data[i], 1e-12)
	}
}

func TestMatMulShapeMismatchPanics(t *testing.T) {
	a := NewTensor(2, 3)
	b := NewTensor(4, 2)
	assert.Panics(t, func() { MatMul(a, b) })
}

func TestTranspose(t *testing.T) {
	a := NewTensor(2, 3)
	for i := 0; i < 6; i++ {
		a.data[i] = float64(i)
	}

	at := Transpose(a)
	require.Equal(t, []int{3, 2}, at.Shape())
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, a.At(i, j), at.At(j, i))
		}
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x := NewTensorRand(4, 7)
	p := Softmax(x)

	for i := 0; i < 4; i++ {
		sum := 0.0
		for j := 0; j < 7; j++ {
			v := p.At(i, j)
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestSoftmaxSlice(t *testing.T) {
	probs := softmaxSlice([]float64{0, 0, 0, 0})
	for _, p := range probs {
		assert.InDelta(t, 0.25, p, 1e-12)
	}

	probs = softmaxSlice([]float64{100, 0})
	assert.InDelta(t, 1.0, probs[0], 1e-9)
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, argmax([]float64{0.1, 0.3, 0.9, 0.2}))
	assert.Equal(t, 0, argmax([]float64{5}))
}

func TestReshapeSharesData(t *testing.T) {
	a := NewTensor(2, 6)
	b := a.Reshape(3, 4)

	b.Set(42, 0, 0)
	assert.Equal(t, 42.0, a.At(0, 0))

	assert.Panics(t, func() { a.Reshape(5, 5) })
}

func TestZeroGrad(t *testing.T) {
	a := NewTensor(2, 2)
	for i := range a.grad {
		a.grad[i] = 1.5
	}
	a.ZeroGrad()
	for _, g := range a.grad {
		assert.Zero(t, g)
	}
}
