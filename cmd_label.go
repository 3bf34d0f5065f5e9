package main

import (
	"encoding/csv"
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Word lists for heuristic protected-attribute labeling of the noun
// phrase. Matching is exact per word, so common casings are spelled out.
var (
	feminineWords = map[string]bool{
		"she": true, "She": true, "SHE": true,
		"her": true, "Her": true, "HER": true,
		"woman": true, "Woman": true, "WOMAN": true,
		"women": true, "Women": true,
		"girl": true, "girls": true,
		"lady": true, "ladys": true,
	}
	masculineWords = map[string]bool{
		"he": true, "He": true, "HE": true,
		"his": true, "His": true, "HIS": true,
		"man": true, "Man": true, "MAN": true,
		"men": true, "Men": true,
		"boy": true, "boys": true,
	}
)

// labelGender scans the noun phrase word by word. The last matching word
// wins; rows with no match are dropped from the labeled output.
func labelGender(nounPhrase string) (label int, ok bool) {
	for _, word := range strings.Split(nounPhrase, " ") {
		switch {
		case feminineWords[word]:
			label, ok = 1, true
		case masculineWords[word]:
			label, ok = 0, true
		}
	}
	return label, ok
}

// RunLabelCommand appends a heuristic gender column to a dataset CSV.
//
// Rows pass through untouched apart from the appended column; rows whose
// noun phrase matches neither word list are dropped, since the adversary
// cannot train on an unlabeled row.
func RunLabelCommand(args []string) error {
	fs := flag.NewFlagSet("label", flag.ExitOnError)
	inPath := fs.String("in", "", "Input dataset CSV")
	outPath := fs.String("out", "", "Output CSV with gender column appended")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" || *outPath == "" {
		return errors.New("label requires -in and -out")
	}

	in, err := os.Open(*inPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", *inPath)
	}
	defer in.Close()

	out, err := os.Create(*outPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", *outPath)
	}
	defer out.Close()

	reader := csv.NewReader(in)
	writer := csv.NewWriter(out)

	header, err := reader.Read()
	if err != nil {
		return errors.Wrapf(err, "reading header of %s", *inPath)
	}

	npCol := -1
	for i, name := range header {
		if name == "sent2" {
			npCol = i
		}
	}
	if npCol == -1 {
		return errors.Errorf("%s has no sent2 column", *inPath)
	}

	if err := writer.Write(append(header, "gender")); err != nil {
		return errors.Wrap(err, "writing header")
	}

	total, labeled := 0, 0
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		total++

		label, ok := labelGender(row[npCol])
		if !ok {
			continue
		}
		labeled++

		if err := writer.Write(append(row, strconv.Itoa(label))); err != nil {
			return errors.Wrap(err, "writing row")
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.Wrapf(err, "flushing %s", *outPath)
	}

	Logger().Infow("labeled dataset",
		"in", *inPath,
		"out", *outPath,
		"rows", total,
		"labeled", labeled,
		"dropped", total-labeled,
	)

	return nil
}
