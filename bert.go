package main

import (
	"fmt"
	"math"
)

// ===========================================================================
// WHAT'S GOING ON HERE: Bidirectional Encoder
// ===========================================================================
//
// This file implements a BERT-style bidirectional transformer encoder, the
// shared backbone of both models in an adversarial debiasing run:
//
//   - the predictor encodes "[CLS] context [SEP] ending [SEP]" once per
//     answer choice and scores the [CLS] state;
//   - the adversary encodes the short "[CLS] ending [SEP]" verb-phrase
//     sequence of whichever choice the predictor picked.
//
// Unlike a GPT-style decoder there is no causal mask: every position
// attends to every non-padding position. The only masking is the additive
// key-padding mask derived from the attention mask that the feature
// encoder builds (1 for real tokens, 0 for padding).
//
// Three embedding tables are summed at the input: token, learned absolute
// position, and segment (0 for the context side of a pair, 1 for the
// ending side; the adversary's single-segment input uses all zeros).
//
// Every layer has a ForwardWithCache/Backward pair. The caches hold the
// activations the two ordered backward phases of an adversarial step need;
// a cache is built once per forward and may be consumed by at most one
// backward (the step never recomputes a forward between its two updates).
//
// RECOMMENDED READING:
//
// - "BERT: Pre-training of Deep Bidirectional Transformers" by Devlin et
//   al. (2018) https://arxiv.org/abs/1810.04805
// - "Attention Is All You Need" by Vaswani et al. (2017)
//   https://arxiv.org/abs/1706.03762
//
// ===========================================================================

// EncoderConfig holds hyperparameters for the bidirectional encoder.
type EncoderConfig struct {
	VocabSize   int // Size of vocabulary
	MaxSeqLen   int // Maximum sequence length
	HiddenDim   int // Hidden dimension (d_model)
	NumLayers   int // Number of transformer layers
	NumHeads    int // Number of attention heads
	FFHidden    int // Feed-forward hidden dimension (typically 4 * HiddenDim)
	NumSegments int // Number of segment/type embeddings (2 for sentence pairs)
}

// DefaultEncoderConfig returns a small encoder configuration, sized for
// CPU fine-tuning rather than the full BERT-Base dimensions.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		VocabSize:   512,
		MaxSeqLen:   128,
		HiddenDim:   128,
		NumLayers:   2,
		NumHeads:    2,
		FFHidden:    512,
		NumSegments: 2,
	}
}

const layerNormEps = 1e-5

// LayerNorm implements layer normalization: y = γ*(x-μ)/σ + β, with μ, σ
// computed per position and γ, β learned.
type LayerNorm struct {
	dim   int
	gamma *Tensor // Scale parameter
	beta  *Tensor // Shift parameter
}

// NewLayerNorm creates a layer normalization layer initialized to the
// identity transform (gamma=1, beta=0).
func NewLayerNorm(dim int) *LayerNorm {
	gamma := NewTensor(dim)
	beta := NewTensor(dim)

	for i := 0; i < dim; i++ {
		gamma.data[i] = 1.0
	}

	return &LayerNorm{
		dim:   dim,
		gamma: gamma,
		beta:  beta,
	}
}

// Forward applies layer normalization.
// x shape: (seqLen, features)
func (ln *LayerNorm) Forward(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("encoder: LayerNorm input must be 2D")
	}

	seqLen, features := x.shape[0], x.shape[1]
	out := NewTensor(seqLen, features)

	for i := 0; i < seqLen; i++ {
		mean := 0.0
		for j := 0; j < features; j++ {
			mean += x.At(i, j)
		}
		mean /= float64(features)

		variance := 0.0
		for j := 0; j < features; j++ {
			diff := x.At(i, j) - mean
			variance += diff * diff
		}
		variance /= float64(features)

		std := math.Sqrt(variance + layerNormEps)
		for j := 0; j < features; j++ {
			normalized := (x.At(i, j) - mean) / std
			out.Set(normalized*ln.gamma.data[j]+ln.beta.data[j], i, j)
		}
	}

	return out
}

// BidirAttention implements multi-head bidirectional self-attention with
// a key-padding mask.
type BidirAttention struct {
	hiddenDim int
	numHeads  int
	headDim   int

	// Linear projections
	wq, wk, wv, wo *Tensor
}

// NewBidirAttention creates an attention layer.
func NewBidirAttention(hiddenDim, numHeads int) *BidirAttention {
	if hiddenDim%numHeads != 0 {
		panic(fmt.Sprintf("encoder: hiddenDim (%d) must be divisible by numHeads (%d)", hiddenDim, numHeads))
	}

	// Xavier/Glorot initialization scaled for transformers
	scale := math.Sqrt(2.0 / float64(hiddenDim))

	wq := NewTensorRand(hiddenDim, hiddenDim)
	wk := NewTensorRand(hiddenDim, hiddenDim)
	wv := NewTensorRand(hiddenDim, hiddenDim)
	wo := NewTensorRand(hiddenDim, hiddenDim)

	for i := range wq.data {
		wq.data[i] *= scale
		wk.data[i] *= scale
		wv.data[i] *= scale
		wo.data[i] *= scale
	}

	return &BidirAttention{
		hiddenDim: hiddenDim,
		numHeads:  numHeads,
		headDim:   hiddenDim / numHeads,
		wq:        wq,
		wk:        wk,
		wv:        wv,
		wo:        wo,
	}
}

// AttentionCache stores activations for the attention backward pass.
type AttentionCache struct {
	input *Tensor

	// Full projections (seqLen, hiddenDim)
	q, k, v *Tensor

	// Per-head attention weights after masking and softmax
	headWeights []*Tensor

	// Concatenated head outputs before the output projection
	context *Tensor

	// Key-padding mask, 1 for attendable positions
	attnMask []int
}

// ForwardWithCache computes attention over x, masking padded key positions.
// x: (seqLen, hiddenDim); attnMask: len seqLen, 1 for real tokens.
func (a *BidirAttention) ForwardWithCache(x *Tensor, attnMask []int) (*Tensor, *AttentionCache) {
	if len(x.shape) != 2 {
		panic("encoder: attention input must be 2D (seqLen, hiddenDim)")
	}

	seqLen := x.shape[0]
	if len(attnMask) != seqLen {
		panic(fmt.Sprintf("encoder: attention mask length %d != seqLen %d", len(attnMask), seqLen))
	}

	cache := &AttentionCache{
		input:       x.Clone(),
		attnMask:    attnMask,
		headWeights: make([]*Tensor, a.numHeads),
	}

	cache.q = MatMul(x, a.wq)
	cache.k = MatMul(x, a.wk)
	cache.v = MatMul(x, a.wv)

	scale := 1.0 / math.Sqrt(float64(a.headDim))
	output := NewTensor(seqLen, a.hiddenDim)

	for h := 0; h < a.numHeads; h++ {
		qHead, kHead, vHead := a.sliceHead(cache.q, h, seqLen), a.sliceHead(cache.k, h, seqLen), a.sliceHead(cache.v, h, seqLen)

		// Scores: Q @ K^T / sqrt(d_k), padded keys pushed to -inf
		scores := Scale(MatMul(qHead, Transpose(kHead)), scale)
		for i := 0; i < seqLen; i++ {
			for j := 0; j < seqLen; j++ {
				if attnMask[j] == 0 {
					scores.Set(-1e9, i, j)
				}
			}
		}

		weights := Softmax(scores)
		cache.headWeights[h] = weights

		context := MatMul(weights, vHead)
		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				output.Set(context.At(i, d), i, h*a.headDim+d)
			}
		}
	}

	cache.context = output.Clone()

	return MatMul(output, a.wo), cache
}

// Backward propagates gradients through the attention layer, accumulating
// into the projection weights and returning the gradient for the input.
func (a *BidirAttention) Backward(gradOutput *Tensor, cache *AttentionCache) *Tensor {
	seqLen := cache.input.shape[0]
	scale := 1.0 / math.Sqrt(float64(a.headDim))

	// Output projection: output = context @ wo
	gradContext, gradWo := MatMulBackward(cache.context, a.wo, gradOutput)
	a.wo.AccumulateGrad(gradWo)

	gradQ := NewTensor(seqLen, a.hiddenDim)
	gradK := NewTensor(seqLen, a.hiddenDim)
	gradV := NewTensor(seqLen, a.hiddenDim)

	for h := 0; h < a.numHeads; h++ {
		qHead, kHead, vHead := a.sliceHead(cache.q, h, seqLen), a.sliceHead(cache.k, h, seqLen), a.sliceHead(cache.v, h, seqLen)
		weights := cache.headWeights[h]

		gradContextHead := NewTensor(seqLen, a.headDim)
		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				gradContextHead.Set(gradContext.At(i, h*a.headDim+d), i, d)
			}
		}

		// context = weights @ V
		gradWeights, gradVHead := MatMulBackward(weights, vHead, gradContextHead)

		// weights = softmax(scores); masked columns carry ~0 weight so the
		// softmax gradient correctly vanishes there
		gradScores := SoftmaxBackward(weights, gradWeights)
		gradScores = Scale(gradScores, scale)

		// scores = Q @ K^T
		kT := Transpose(kHead)
		gradQHead, gradKT := MatMulBackward(qHead, kT, gradScores)
		gradKHead := Transpose(gradKT)

		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				gradQ.Set(gradQHead.At(i, d), i, h*a.headDim+d)
				gradK.Set(gradKHead.At(i, d), i, h*a.headDim+d)
				gradV.Set(gradVHead.At(i, d), i, h*a.headDim+d)
			}
		}
	}

	// All three projections share the input, so input gradients add up
	gradInput := NewTensor(cache.input.shape...)

	gradInputQ, gradWq := MatMulBackward(cache.input, a.wq, gradQ)
	a.wq.AccumulateGrad(gradWq)
	gradInput = Add(gradInput, gradInputQ)

	gradInputK, gradWk := MatMulBackward(cache.input, a.wk, gradK)
	a.wk.AccumulateGrad(gradWk)
	gradInput = Add(gradInput, gradInputK)

	gradInputV, gradWv := MatMulBackward(cache.input, a.wv, gradV)
	a.wv.AccumulateGrad(gradWv)
	gradInput = Add(gradInput, gradInputV)

	return gradInput
}

// sliceHead copies head h out of a full (seqLen, hiddenDim) projection.
func (a *BidirAttention) sliceHead(full *Tensor, h, seqLen int) *Tensor {
	head := NewTensor(seqLen, a.headDim)
	for i := 0; i < seqLen; i++ {
		for d := 0; d < a.headDim; d++ {
			head.Set(full.At(i, h*a.headDim+d), i, d)
		}
	}
	return head
}

// FeedForward implements the position-wise feed-forward network:
// FFN(x) = GELU(x @ W1 + b1) @ W2 + b2.
type FeedForward struct {
	w1, b1 *Tensor
	w2, b2 *Tensor
}

// NewFeedForward creates a feed-forward layer.
func NewFeedForward(hiddenDim, ffHidden int) *FeedForward {
	return &FeedForward{
		w1: NewTensorRand(hiddenDim, ffHidden),
		b1: NewTensor(ffHidden),
		w2: NewTensorRand(ffHidden, hiddenDim),
		b2: NewTensor(hiddenDim),
	}
}

// FFCache stores activations for the feed-forward backward pass.
type FFCache struct {
	input         *Tensor // Input to the layer
	hidden        *Tensor // After first linear + activation
	preActivation *Tensor // Before activation (needed for GELU gradient)
}

// ForwardWithCache applies the feed-forward network, caching activations.
func (ff *FeedForward) ForwardWithCache(x *Tensor) (*Tensor, *FFCache) {
	cache := &FFCache{input: x.Clone()}

	hidden := MatMul(x, ff.w1)
	for i := range hidden.data {
		hidden.data[i] += ff.b1.data[i%ff.b1.Size()]
	}
	cache.preActivation = hidden.Clone()

	hidden = GELU(hidden)
	cache.hidden = hidden.Clone()

	output := MatMul(hidden, ff.w2)
	for i := range output.data {
		output.data[i] += ff.b2.data[i%ff.b2.Size()]
	}

	return output, cache
}

// Backward propagates gradients through the feed-forward layer.
func (ff *FeedForward) Backward(gradOutput *Tensor, cache *FFCache) *Tensor {
	// Second linear: output = hidden @ W2 + b2
	gradHidden, gradW2 := MatMulBackward(cache.hidden, ff.w2, gradOutput)
	ff.w2.AccumulateGrad(gradW2)

	for i := range gradOutput.data {
		ff.b2.grad[i%ff.b2.Size()] += gradOutput.data[i]
	}

	gradPreActivation := GELUBackward(cache.preActivation, gradHidden)

	// First linear: hidden = x @ W1 + b1
	gradInput, gradW1 := MatMulBackward(cache.input, ff.w1, gradPreActivation)
	ff.w1.AccumulateGrad(gradW1)

	for i := range gradPreActivation.data {
		ff.b1.grad[i%ff.b1.Size()] += gradPreActivation.data[i]
	}

	return gradInput
}

// EncoderBlock combines attention, layer norms, and the feed-forward net.
//
// Architecture (post-norm residual):
//
//	x = x + LayerNorm(Attention(x))
//	x = x + LayerNorm(FeedForward(x))
type EncoderBlock struct {
	attn *BidirAttention
	ln1  *LayerNorm
	ff   *FeedForward
	ln2  *LayerNorm
}

// NewEncoderBlock creates an encoder block.
func NewEncoderBlock(config EncoderConfig) *EncoderBlock {
	return &EncoderBlock{
		attn: NewBidirAttention(config.HiddenDim, config.NumHeads),
		ln1:  NewLayerNorm(config.HiddenDim),
		ff:   NewFeedForward(config.HiddenDim, config.FFHidden),
		ln2:  NewLayerNorm(config.HiddenDim),
	}
}

// BlockCache stores activations for one encoder block.
type BlockCache struct {
	attnCache *AttentionCache
	attnOut   *Tensor // input to ln1
	ffInput   *Tensor // input to the feed-forward sub-layer
	ffCache   *FFCache
	ffOut     *Tensor // input to ln2
}

// ForwardWithCache applies the block, caching every sub-layer input.
func (b *EncoderBlock) ForwardWithCache(x *Tensor, attnMask []int) (*Tensor, *BlockCache) {
	cache := &BlockCache{}

	attnOut, attnCache := b.attn.ForwardWithCache(x, attnMask)
	cache.attnCache = attnCache
	cache.attnOut = attnOut

	x = Add(x, b.ln1.Forward(attnOut))
	cache.ffInput = x.Clone()

	ffOut, ffCache := b.ff.ForwardWithCache(x)
	cache.ffCache = ffCache
	cache.ffOut = ffOut

	x = Add(x, b.ln2.Forward(ffOut))

	return x, cache
}

// Backward propagates gradients through the block in reverse order.
func (b *EncoderBlock) Backward(gradOut *Tensor, cache *BlockCache) *Tensor {
	// x2 = x1 + ln2(ff(x1)): gradient splits between the residual path
	// and the feed-forward path
	gradFFOut, gradGamma2, gradBeta2 := LayerNormBackward(cache.ffOut, b.ln2.gamma, b.ln2.beta, gradOut, layerNormEps)
	b.ln2.gamma.AccumulateGrad(gradGamma2)
	b.ln2.beta.AccumulateGrad(gradBeta2)

	gradX1 := Add(gradOut, b.ff.Backward(gradFFOut, cache.ffCache))

	// x1 = x + ln1(attn(x))
	gradAttnOut, gradGamma1, gradBeta1 := LayerNormBackward(cache.attnOut, b.ln1.gamma, b.ln1.beta, gradX1, layerNormEps)
	b.ln1.gamma.AccumulateGrad(gradGamma1)
	b.ln1.beta.AccumulateGrad(gradBeta1)

	return Add(gradX1, b.attn.Backward(gradAttnOut, cache.attnCache))
}

// Encoder is the bidirectional transformer encoder shared by the predictor
// and the adversary.
type Encoder struct {
	config EncoderConfig

	// Embeddings
	tokenEmbed *Tensor // (vocabSize, hiddenDim)
	posEmbed   *Tensor // (maxSeqLen, hiddenDim)
	segEmbed   *Tensor // (numSegments, hiddenDim)

	blocks []*EncoderBlock

	lnFinal *LayerNorm
}

// NewEncoder creates an encoder with randomly initialized weights.
func NewEncoder(config EncoderConfig) *Encoder {
	blocks := make([]*EncoderBlock, config.NumLayers)
	for i := range blocks {
		blocks[i] = NewEncoderBlock(config)
	}

	return &Encoder{
		config:     config,
		tokenEmbed: NewTensorRand(config.VocabSize, config.HiddenDim),
		posEmbed:   NewTensorRand(config.MaxSeqLen, config.HiddenDim),
		segEmbed:   NewTensorRand(config.NumSegments, config.HiddenDim),
		blocks:     blocks,
		lnFinal:    NewLayerNorm(config.HiddenDim),
	}
}

// EncoderCache stores everything the encoder backward pass needs.
type EncoderCache struct {
	inputIDs    []int
	segmentIDs  []int
	blockCaches []*BlockCache
	lnFinalIn   *Tensor
}

// ForwardWithCache encodes a token sequence.
//
// inputIDs, segmentIDs, attnMask must have equal length ≤ MaxSeqLen.
// Returns per-position hidden states (seqLen, hiddenDim); position 0 is
// the [CLS] state the classification heads consume.
func (e *Encoder) ForwardWithCache(inputIDs, segmentIDs, attnMask []int) (*Tensor, *EncoderCache) {
	seqLen := len(inputIDs)
	if seqLen == 0 || seqLen > e.config.MaxSeqLen {
		panic(fmt.Sprintf("encoder: sequence length %d outside (0,%d]", seqLen, e.config.MaxSeqLen))
	}
	if len(segmentIDs) != seqLen || len(attnMask) != seqLen {
		panic("encoder: inputIDs, segmentIDs, attnMask must have equal length")
	}

	cache := &EncoderCache{
		inputIDs:    inputIDs,
		segmentIDs:  segmentIDs,
		blockCaches: make([]*BlockCache, e.config.NumLayers),
	}

	// Sum of token, position, and segment embeddings
	x := NewTensor(seqLen, e.config.HiddenDim)
	for i, tokenID := range inputIDs {
		if tokenID < 0 || tokenID >= e.config.VocabSize {
			panic(fmt.Sprintf("encoder: token ID %d out of vocabulary range [0,%d)", tokenID, e.config.VocabSize))
		}
		seg := segmentIDs[i]
		if seg < 0 || seg >= e.config.NumSegments {
			panic(fmt.Sprintf("encoder: segment ID %d out of range [0,%d)", seg, e.config.NumSegments))
		}
		for d := 0; d < e.config.HiddenDim; d++ {
			x.Set(e.tokenEmbed.At(tokenID, d)+e.posEmbed.At(i, d)+e.segEmbed.At(seg, d), i, d)
		}
	}

	for layer, block := range e.blocks {
		x, cache.blockCaches[layer] = block.ForwardWithCache(x, attnMask)
	}

	cache.lnFinalIn = x.Clone()
	x = e.lnFinal.Forward(x)

	return x, cache
}

// Backward propagates the gradient of the hidden states back through the
// encoder, accumulating into every parameter's grad buffer.
func (e *Encoder) Backward(gradHidden *Tensor, cache *EncoderCache) {
	gradX, gradGamma, gradBeta := LayerNormBackward(cache.lnFinalIn, e.lnFinal.gamma, e.lnFinal.beta, gradHidden, layerNormEps)
	e.lnFinal.gamma.AccumulateGrad(gradGamma)
	e.lnFinal.beta.AccumulateGrad(gradBeta)

	for layer := e.config.NumLayers - 1; layer >= 0; layer-- {
		gradX = e.blocks[layer].Backward(gradX, cache.blockCaches[layer])
	}

	// Embedding gradients; a repeated token accumulates from every position
	for i, tokenID := range cache.inputIDs {
		seg := cache.segmentIDs[i]
		for d := 0; d < e.config.HiddenDim; d++ {
			g := gradX.At(i, d)
			e.tokenEmbed.grad[tokenID*e.config.HiddenDim+d] += g
			e.posEmbed.grad[i*e.config.HiddenDim+d] += g
			e.segEmbed.grad[seg*e.config.HiddenDim+d] += g
		}
	}
}

// Parameters returns all trainable tensors in a fixed declaration order.
// Checkpoint serialization depends on this ordering staying stable.
func (e *Encoder) Parameters() []*Tensor {
	params := []*Tensor{e.tokenEmbed, e.posEmbed, e.segEmbed}

	for _, block := range e.blocks {
		params = append(params, block.attn.wq, block.attn.wk, block.attn.wv, block.attn.wo)
		params = append(params, block.ln1.gamma, block.ln1.beta)
		params = append(params, block.ff.w1, block.ff.b1, block.ff.w2, block.ff.b2)
		params = append(params, block.ln2.gamma, block.ln2.beta)
	}

	params = append(params, e.lnFinal.gamma, e.lnFinal.beta)

	return params
}
