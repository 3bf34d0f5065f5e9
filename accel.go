package main

import "github.com/pkg/errors"

// This build is CPU-only. Mixed-precision arithmetic and multi-process
// data parallelism both need an accelerator runtime that is not linked
// in, so the corresponding flags are rejected up front with an
// explanation instead of being silently ignored.

// ValidateAcceleratorFlags rejects accelerator-dependent flag settings.
func ValidateAcceleratorFlags(fp16 bool, localRank int) error {
	if fp16 {
		return errors.New("fp16 requested, but this binary is built without half-precision support; " +
			"all arithmetic runs in float64 on the CPU, so drop -fp16 (and -loss-scale)")
	}
	if localRank != -1 {
		return errors.New("-local-rank set, but this binary is built without distributed training support; " +
			"run a single process and drop -local-rank")
	}
	return nil
}
