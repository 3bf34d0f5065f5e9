package main

import (
	"runtime"
	"sync"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Row-parallel matrix multiplication. Every encoder forward and backward
// is dominated by MatMul calls over (seqLen, hiddenDim)-sized operands;
// with four choice encodings per example the predictor alone runs dozens
// of them per feature. Splitting output rows across goroutines gives a
// few-fold speedup on multi-core machines with no shared mutable state:
// each worker writes a disjoint row range of the output and only reads
// the inputs.
//
// MatMul (tensor.go) dispatches here automatically once the output has
// enough rows to amortize the goroutine overhead; small matrices stay on
// the sequential kernel.
//
// ===========================================================================

// parallelRowThreshold is the minimum number of output rows before
// row-parallel execution pays for its scheduling overhead.
const parallelRowThreshold = 64

// MatMulParallel computes C = A @ B with output rows split across
// numWorkers goroutines (0 means runtime.NumCPU()).
func MatMulParallel(a, b *Tensor, numWorkers int) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMulParallel requires 2D tensors")
	}

	m, k := a.shape[0], a.shape[1]
	k2, n := b.shape[0], b.shape[1]
	if k != k2 {
		panic("tensor: incompatible dimensions for matmul")
	}

	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > m {
		numWorkers = m
	}

	out := NewTensor(m, n)

	rowsPerWorker := m / numWorkers
	remainder := m % numWorkers

	var wg sync.WaitGroup
	start := 0
	for w := 0; w < numWorkers; w++ {
		rows := rowsPerWorker
		if w < remainder {
			rows++
		}
		end := start + rows

		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			matMulRows(a, b, out, lo, hi)
		}(start, end)

		start = end
	}
	wg.Wait()

	return out
}

// matMulRows computes output rows [lo, hi) of C = A @ B.
func matMulRows(a, b, out *Tensor, lo, hi int) {
	k := a.shape[1]
	n := b.shape[1]

	for i := lo; i < hi; i++ {
		for kk := 0; kk < k; kk++ {
			av := a.data[i*k+kk]
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				out.data[i*n+j] += av * b.data[kk*n+j]
			}
		}
	}
}
