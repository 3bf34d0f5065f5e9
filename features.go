package main

import (
	"fmt"
	"strings"
)

// ===========================================================================
// WHAT'S GOING ON HERE: Feature Encoding
// ===========================================================================
//
// Each example becomes one Feature holding four EncodedChoices. Every
// choice carries two encodings of fixed width:
//
//   Full pair (len = maxSeqLen):
//       [CLS] context [SEP] prefix+ending [SEP] [PAD]...
//     with segment IDs 0 over the context side (including [CLS] and the
//     first [SEP]) and 1 over the ending side. The predictor consumes
//     this one.
//
//   Verb phrase (len = maxSeqLen/2):
//       [CLS] ending [SEP] [PAD]...
//     single segment, no context and no prefix. The adversary consumes
//     the VP encoding of whichever choice the predictor picks, so it
//     only ever sees the bare ending.
//
// Over-long pairs are truncated token by token from whichever side is
// currently longer; ties drop from the ending side. This keeps as much
// of both sides as possible and is deterministic.
//
// The fixed widths are invariants, not soft limits. The padding loops
// below cannot produce a wrong-length buffer unless the truncation logic
// is broken, so a violation panics rather than returning an error.
//
// ===========================================================================

// EncodedChoice is the fixed-width encoding of one candidate ending.
type EncodedChoice struct {
	InputIDs   []int // len = maxSeqLen
	InputMask  []int // 1 for real tokens, 0 for padding
	SegmentIDs []int // 0 = context side, 1 = ending side

	VPInputIDs  []int // len = maxSeqLen/2
	VPInputMask []int
}

// Feature is a fully encoded example.
type Feature struct {
	ID      string
	Choices [NumChoices]EncodedChoice
	Label   *int
	Gender  *int
}

// truncateSeqPair trims a token pair to maxLen total, popping from the
// longer side; a tie pops from the ending side.
func truncateSeqPair(ctxTokens, endTokens []string, maxLen int) ([]string, []string) {
	for len(ctxTokens)+len(endTokens) > maxLen {
		if len(ctxTokens) > len(endTokens) {
			ctxTokens = ctxTokens[:len(ctxTokens)-1]
		} else {
			endTokens = endTokens[:len(endTokens)-1]
		}
	}
	return ctxTokens, endTokens
}

// padTo appends zeros until ids has length width. [PAD] is ID 0, so the
// padded tail is both padding tokens and a zeroed mask/segment region.
func padTo(ids []int, width int) []int {
	for len(ids) < width {
		ids = append(ids, 0)
	}
	return ids
}

// encodeChoice builds both encodings for a single ending. The pair's
// ending side is the shared prefix plus the ending; the verb-phrase
// encoding covers the ending alone.
func encodeChoice(tok *Tokenizer, context, prefix, ending string, maxSeqLen int) EncodedChoice {
	ctxTokens := tok.Tokenize(context)
	vpTokens := tok.Tokenize(ending)

	endTokens := append(tok.Tokenize(prefix), vpTokens...)

	// Three special tokens in the full pair: [CLS] a [SEP] b [SEP]
	ctxTokens, endTokens = truncateSeqPair(ctxTokens, endTokens, maxSeqLen-3)

	ids := []int{ClsTokenID}
	ids = append(ids, tok.ConvertTokensToIDs(ctxTokens)...)
	ids = append(ids, SepTokenID)
	segBoundary := len(ids)
	ids = append(ids, tok.ConvertTokensToIDs(endTokens)...)
	ids = append(ids, SepTokenID)

	if len(ids) > maxSeqLen {
		panic(fmt.Sprintf("features: encoded pair length %d exceeds %d", len(ids), maxSeqLen))
	}

	mask := make([]int, len(ids))
	segs := make([]int, len(ids))
	for i := range ids {
		mask[i] = 1
		if i >= segBoundary {
			segs[i] = 1
		}
	}

	// Verb-phrase encoding: [CLS] ending [SEP], half width. Over-long
	// endings lose their tail so the encoding stays well formed.
	vpWidth := maxSeqLen / 2
	vpEnd := vpTokens
	if len(vpEnd) > vpWidth-2 {
		vpEnd = vpEnd[:vpWidth-2]
	}
	vpIDs := []int{ClsTokenID}
	vpIDs = append(vpIDs, tok.ConvertTokensToIDs(vpEnd)...)
	vpIDs = append(vpIDs, SepTokenID)

	if len(vpIDs) > vpWidth {
		panic(fmt.Sprintf("features: encoded verb phrase length %d exceeds %d", len(vpIDs), vpWidth))
	}

	vpMask := make([]int, len(vpIDs))
	for i := range vpIDs {
		vpMask[i] = 1
	}

	choice := EncodedChoice{
		InputIDs:    padTo(ids, maxSeqLen),
		InputMask:   padTo(mask, maxSeqLen),
		SegmentIDs:  padTo(segs, maxSeqLen),
		VPInputIDs:  padTo(vpIDs, vpWidth),
		VPInputMask: padTo(vpMask, vpWidth),
	}

	if len(choice.InputIDs) != maxSeqLen || len(choice.InputMask) != maxSeqLen || len(choice.SegmentIDs) != maxSeqLen {
		panic("features: full encoding width invariant violated")
	}
	if len(choice.VPInputIDs) != vpWidth || len(choice.VPInputMask) != vpWidth {
		panic("features: verb phrase width invariant violated")
	}

	return choice
}

// ConvertExamplesToFeatures encodes every example at fixed width. The
// first few features are logged for spot-checking the encoding.
func ConvertExamplesToFeatures(examples []*Example, tok *Tokenizer, maxSeqLen int) []*Feature {
	features := make([]*Feature, 0, len(examples))

	for idx, ex := range examples {
		feat := &Feature{
			ID:     ex.ID,
			Label:  ex.Label,
			Gender: ex.Gender,
		}

		endings := [NumChoices]string{ex.Ending0, ex.Ending1, ex.Ending2, ex.Ending3}
		for c := 0; c < NumChoices; c++ {
			feat.Choices[c] = encodeChoice(tok, ex.Context, ex.Prefix, endings[c], maxSeqLen)
		}

		if idx < 5 {
			logFeature(idx, ex, feat)
		}

		features = append(features, feat)
	}

	return features
}

func logFeature(idx int, ex *Example, feat *Feature) {
	log := Logger()
	log.Infow("encoded example",
		"index", idx,
		"id", feat.ID,
		"context", ex.Context,
	)
	for c := 0; c < NumChoices; c++ {
		log.Infow("choice encoding",
			"choice", c,
			"input_ids", previewInts(feat.Choices[c].InputIDs),
			"input_mask", previewInts(feat.Choices[c].InputMask),
			"segment_ids", previewInts(feat.Choices[c].SegmentIDs),
			"vp_input_ids", previewInts(feat.Choices[c].VPInputIDs),
		)
	}
	if feat.Label != nil {
		log.Infow("labels", "label", *feat.Label, "gender", derefOr(feat.Gender, -1))
	}
}

func previewInts(ids []int) string {
	n := len(ids)
	if n > 24 {
		n = 24
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%d", ids[i])
	}
	s := strings.Join(parts, " ")
	if len(ids) > n {
		s += " ..."
	}
	return s
}

func derefOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
