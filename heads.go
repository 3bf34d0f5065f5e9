package main

import "fmt"

// ===========================================================================
// WHAT'S GOING ON HERE: Classification Heads
// ===========================================================================
//
// Two models sit on top of the bidirectional encoder:
//
//   MultipleChoice (the predictor): encodes each of the four candidate
//   endings paired with the context, scores each [CLS] state with a
//   shared linear scorer, and softmaxes the four scores against each
//   other. This mirrors the BertForMultipleChoice head.
//
//   SequenceClassifier (the adversary): encodes a single short sequence
//   (the chosen ending's verb-phrase encoding, with a confidence token
//   prepended during training) and maps the [CLS] state to three
//   protected-attribute logits.
//
// Each model owns its encoder; the two never share weights. Both expose
// Parameters() so the trainer can hand the full list to an optimizer and
// the checkpoint writer can serialize it in a stable order.
//
// ===========================================================================

// NumChoices is the number of candidate endings per example.
const NumChoices = 4

// NumProtectedClasses is the cardinality of the protected attribute.
const NumProtectedClasses = 3

// MultipleChoice scores candidate endings against each other.
type MultipleChoice struct {
	config  EncoderConfig
	encoder *Encoder

	// Scorer: one scalar per choice from its [CLS] state
	scoreW *Tensor // (hiddenDim, 1)
	scoreB *Tensor // (1)
}

// NewMultipleChoice creates a predictor with a fresh encoder.
func NewMultipleChoice(config EncoderConfig) *MultipleChoice {
	return &MultipleChoice{
		config:  config,
		encoder: NewEncoder(config),
		scoreW:  NewTensorRand(config.HiddenDim, 1),
		scoreB:  NewTensor(1),
	}
}

// ChoiceCache stores per-choice activations for the predictor backward.
type ChoiceCache struct {
	encoderCaches [NumChoices]*EncoderCache
	clsStates     [NumChoices][]float64
}

// ForwardWithCache scores the four choices of one feature.
// Returns logits of length NumChoices.
func (m *MultipleChoice) ForwardWithCache(feat *Feature) ([]float64, *ChoiceCache) {
	cache := &ChoiceCache{}
	logits := make([]float64, NumChoices)

	for c := 0; c < NumChoices; c++ {
		enc := feat.Choices[c]
		hidden, encCache := m.encoder.ForwardWithCache(enc.InputIDs, enc.SegmentIDs, enc.InputMask)
		cache.encoderCaches[c] = encCache

		cls := make([]float64, m.config.HiddenDim)
		score := m.scoreB.data[0]
		for d := 0; d < m.config.HiddenDim; d++ {
			cls[d] = hidden.At(0, d)
			score += cls[d] * m.scoreW.data[d]
		}
		cache.clsStates[c] = cls
		logits[c] = score
	}

	return logits, cache
}

// Forward scores the four choices without building a backward cache.
func (m *MultipleChoice) Forward(feat *Feature) []float64 {
	logits, _ := m.ForwardWithCache(feat)
	return logits
}

// Backward propagates per-choice logit gradients through the scorer and
// the shared encoder.
func (m *MultipleChoice) Backward(gradLogits []float64, cache *ChoiceCache) {
	if len(gradLogits) != NumChoices {
		panic(fmt.Sprintf("predictor: expected %d logit gradients, got %d", NumChoices, len(gradLogits)))
	}

	for c := 0; c < NumChoices; c++ {
		g := gradLogits[c]
		if g == 0 {
			continue
		}

		cls := cache.clsStates[c]
		encCache := cache.encoderCaches[c]
		seqLen := len(encCache.inputIDs)

		// score = cls . w + b; only the [CLS] row of the hidden states
		// receives gradient
		gradHidden := NewTensor(seqLen, m.config.HiddenDim)
		for d := 0; d < m.config.HiddenDim; d++ {
			gradHidden.Set(g*m.scoreW.data[d], 0, d)
			m.scoreW.grad[d] += g * cls[d]
		}
		m.scoreB.grad[0] += g

		m.encoder.Backward(gradHidden, encCache)
	}
}

// Parameters returns all trainable tensors of the predictor.
func (m *MultipleChoice) Parameters() []*Tensor {
	return append(m.encoder.Parameters(), m.scoreW, m.scoreB)
}

// SequenceClassifier maps a single sequence to class logits.
type SequenceClassifier struct {
	config     EncoderConfig
	numClasses int
	encoder    *Encoder

	clsW *Tensor // (hiddenDim, numClasses)
	clsB *Tensor // (numClasses)
}

// NewSequenceClassifier creates a classifier with a fresh encoder.
func NewSequenceClassifier(config EncoderConfig, numClasses int) *SequenceClassifier {
	return &SequenceClassifier{
		config:     config,
		numClasses: numClasses,
		encoder:    NewEncoder(config),
		clsW:       NewTensorRand(config.HiddenDim, numClasses),
		clsB:       NewTensor(numClasses),
	}
}

// ClassifierCache stores activations for the classifier backward.
type ClassifierCache struct {
	encoderCache *EncoderCache
	clsState     []float64
}

// ForwardWithCache classifies one token sequence. Segment IDs are all
// zero; the adversary's input is a single span, not a pair.
func (s *SequenceClassifier) ForwardWithCache(inputIDs, inputMask []int) ([]float64, *ClassifierCache) {
	segmentIDs := make([]int, len(inputIDs))
	hidden, encCache := s.encoder.ForwardWithCache(inputIDs, segmentIDs, inputMask)

	cls := make([]float64, s.config.HiddenDim)
	for d := 0; d < s.config.HiddenDim; d++ {
		cls[d] = hidden.At(0, d)
	}

	logits := make([]float64, s.numClasses)
	for c := 0; c < s.numClasses; c++ {
		score := s.clsB.data[c]
		for d := 0; d < s.config.HiddenDim; d++ {
			score += cls[d] * s.clsW.At(d, c)
		}
		logits[c] = score
	}

	return logits, &ClassifierCache{encoderCache: encCache, clsState: cls}
}

// Forward classifies without building a backward cache.
func (s *SequenceClassifier) Forward(inputIDs, inputMask []int) []float64 {
	logits, _ := s.ForwardWithCache(inputIDs, inputMask)
	return logits
}

// Backward propagates logit gradients through the head and encoder.
func (s *SequenceClassifier) Backward(gradLogits []float64, cache *ClassifierCache) {
	if len(gradLogits) != s.numClasses {
		panic(fmt.Sprintf("adversary: expected %d logit gradients, got %d", s.numClasses, len(gradLogits)))
	}

	seqLen := len(cache.encoderCache.inputIDs)
	gradHidden := NewTensor(seqLen, s.config.HiddenDim)

	for c := 0; c < s.numClasses; c++ {
		g := gradLogits[c]
		s.clsB.grad[c] += g
		for d := 0; d < s.config.HiddenDim; d++ {
			s.clsW.grad[d*s.numClasses+c] += g * cache.clsState[d]
			gradHidden.data[d] += g * s.clsW.At(d, c) // row 0 only
		}
	}

	s.encoder.Backward(gradHidden, cache.encoderCache)
}

// Parameters returns all trainable tensors of the classifier.
func (s *SequenceClassifier) Parameters() []*Tensor {
	return append(s.encoder.Parameters(), s.clsW, s.clsB)
}
