package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Checkpoints are a weights blob plus a JSON config sidecar. The blob is
// little-endian: for each parameter tensor, an int32 rank, the int32
// dimensions, then the float64 data. Tensors appear in Parameters()
// order, and the shape headers let Load reject a blob written for a
// different architecture instead of silently misreading it.

const (
	predictorWeightsFile = "predictor_weights.bin"
	predictorConfigFile  = "predictor_config.json"
	adversaryWeightsFile = "adversary_weights.bin"
	adversaryConfigFile  = "adversary_config.json"
)

func writeWeights(path string, params []*Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range params {
		if err := binary.Write(w, binary.LittleEndian, int32(len(p.shape))); err != nil {
			return errors.Wrap(err, "writing tensor rank")
		}
		for _, dim := range p.shape {
			if err := binary.Write(w, binary.LittleEndian, int32(dim)); err != nil {
				return errors.Wrap(err, "writing tensor shape")
			}
		}
		if err := binary.Write(w, binary.LittleEndian, p.data); err != nil {
			return errors.Wrap(err, "writing tensor data")
		}
	}

	return errors.Wrapf(w.Flush(), "flushing %s", path)
}

func readWeights(path string, params []*Tensor) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for i, p := range params {
		var rank int32
		if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
			return errors.Wrapf(err, "reading tensor %d rank", i)
		}
		if int(rank) != len(p.shape) {
			return errors.Errorf("%s: tensor %d has rank %d, want %d", path, i, rank, len(p.shape))
		}
		for d := 0; d < int(rank); d++ {
			var dim int32
			if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
				return errors.Wrapf(err, "reading tensor %d shape", i)
			}
			if int(dim) != p.shape[d] {
				return errors.Errorf("%s: tensor %d dim %d is %d, want %d", path, i, d, dim, p.shape[d])
			}
		}
		if err := binary.Read(r, binary.LittleEndian, p.data); err != nil {
			return errors.Wrapf(err, "reading tensor %d data", i)
		}
	}

	return nil
}

func writeConfig(path string, config interface{}) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing %s", path)
}

func readConfig(path string, config interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	return errors.Wrapf(json.Unmarshal(data, config), "parsing %s", path)
}

// Save writes the predictor's weights and config into dir.
func (m *MultipleChoice) Save(dir string) error {
	if err := writeConfig(filepath.Join(dir, predictorConfigFile), m.config); err != nil {
		return err
	}
	return writeWeights(filepath.Join(dir, predictorWeightsFile), m.Parameters())
}

// LoadMultipleChoice restores a predictor checkpoint from dir.
func LoadMultipleChoice(dir string) (*MultipleChoice, error) {
	var config EncoderConfig
	if err := readConfig(filepath.Join(dir, predictorConfigFile), &config); err != nil {
		return nil, err
	}

	m := NewMultipleChoice(config)
	if err := readWeights(filepath.Join(dir, predictorWeightsFile), m.Parameters()); err != nil {
		return nil, err
	}
	return m, nil
}

type adversaryConfig struct {
	Encoder    EncoderConfig `json:"encoder"`
	NumClasses int           `json:"num_classes"`
}

// Save writes the adversary's weights and config into dir.
func (s *SequenceClassifier) Save(dir string) error {
	cfg := adversaryConfig{Encoder: s.config, NumClasses: s.numClasses}
	if err := writeConfig(filepath.Join(dir, adversaryConfigFile), cfg); err != nil {
		return err
	}
	return writeWeights(filepath.Join(dir, adversaryWeightsFile), s.Parameters())
}

// LoadSequenceClassifier restores an adversary checkpoint from dir.
func LoadSequenceClassifier(dir string) (*SequenceClassifier, error) {
	var cfg adversaryConfig
	if err := readConfig(filepath.Join(dir, adversaryConfigFile), &cfg); err != nil {
		return nil, err
	}

	s := NewSequenceClassifier(cfg.Encoder, cfg.NumClasses)
	if err := readWeights(filepath.Join(dir, adversaryWeightsFile), s.Parameters()); err != nil {
		return nil, err
	}
	return s, nil
}
