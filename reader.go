package main

import (
	"os"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// Example is one multiple-choice item from a debiasing dataset CSV.
//
// The CSV follows the SWAG column layout: a fold identifier, a context
// sentence, a shared sentence-two prefix, four candidate endings, the
// gold ending index, and the protected-attribute label appended by the
// label command. Label and Gender are pointers so an evaluation-only
// file without those columns still parses.
type Example struct {
	ID      string `csv:"fold-ind"`
	Context string `csv:"sent1"`
	Prefix  string `csv:"sent2"`
	Ending0 string `csv:"ending0"`
	Ending1 string `csv:"ending1"`
	Ending2 string `csv:"ending2"`
	Ending3 string `csv:"ending3"`
	Label   *int   `csv:"label"`
	Gender  *int   `csv:"gender"`
}

// Endings returns the four candidate endings, each prefixed with the
// shared sentence-two prefix.
func (e *Example) Endings() [NumChoices]string {
	join := func(ending string) string {
		if e.Prefix == "" {
			return ending
		}
		return e.Prefix + " " + ending
	}
	return [NumChoices]string{join(e.Ending0), join(e.Ending1), join(e.Ending2), join(e.Ending3)}
}

// ReadExamples parses a dataset CSV. When isTraining is true every row
// must carry a gold label and a protected-attribute label; a file missing
// either is a configuration error, reported before any compute happens.
func ReadExamples(path string, isTraining bool) ([]*Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening dataset %s", path)
	}
	defer f.Close()

	var examples []*Example
	if err := gocsv.UnmarshalFile(f, &examples); err != nil {
		return nil, errors.Wrapf(err, "parsing dataset %s", path)
	}

	for i, ex := range examples {
		if isTraining {
			if ex.Label == nil {
				return nil, errors.Errorf("dataset %s row %d: training requires a label column", path, i+1)
			}
			if ex.Gender == nil {
				return nil, errors.Errorf("dataset %s row %d: training requires a gender column (run the label command first)", path, i+1)
			}
		}
		if ex.Label != nil && (*ex.Label < 0 || *ex.Label >= NumChoices) {
			return nil, errors.Errorf("dataset %s row %d: label %d outside [0,%d)", path, i+1, *ex.Label, NumChoices)
		}
		if ex.Gender != nil && (*ex.Gender < 0 || *ex.Gender >= NumProtectedClasses) {
			return nil, errors.Errorf("dataset %s row %d: gender %d outside [0,%d)", path, i+1, *ex.Gender, NumProtectedClasses)
		}
	}

	return examples, nil
}
