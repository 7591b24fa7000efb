package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jrade/jrboost/boost"
	"github.com/jrade/jrboost/predictor"
)

type Model struct {
	Pred     predictor.Predictor
	VarNames []string
	fitTime  time.Duration
	opt      *boost.Options
	nSample  int
}

func (m *Model) Fit(ctx context.Context, d *parsedInput, opt *boost.Options, workers int) error {
	start := time.Now()

	trainer, err := boost.NewTrainer(d.X, d.Y, nil, nil)
	if err != nil {
		return err
	}

	pred, err := trainer.Train(ctx, opt, workers)
	if err != nil {
		return err
	}

	m.Pred = pred
	m.fitTime = time.Since(start)
	m.VarNames = d.VarNames
	m.nSample = d.X.Rows()
	m.opt = opt
	return nil
}

func (m *Model) Predict(d *parsedInput, workers int) ([]string, error) {
	probs, err := m.Pred.Predict(d.X, workers)
	if err != nil {
		return nil, err
	}

	pStr := make([]string, len(probs))
	for i, p := range probs {
		pStr[i] = strconv.FormatFloat(p, 'f', -1, 64)
	}
	return pStr, nil
}

func (m *Model) Report(w io.Writer) {
	fmt.Fprintf(w, "Fit %d boosting iterations using %d examples in %.2f seconds\n",
		m.opt.IterationCount(), m.nSample, m.fitTime.Seconds())
	fmt.Fprintf(w, "\n")

	m.ReportVarImp(w, 20)
}

// ReportVarImp writes the n most important variables.
func (m *Model) ReportVarImp(w io.Writer, n int) {
	weights := m.Pred.VariableWeights()

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return weights[order[a]] > weights[order[b]]
	})

	fmt.Fprintf(w, "Variable Importance\n")
	fmt.Fprintf(w, "-------------------\n")
	if n > len(order) {
		n = len(order)
	}
	for _, j := range order[:n] {
		name := fmt.Sprintf("X%d", j+1)
		if j < len(m.VarNames) {
			name = m.VarNames[j]
		}
		fmt.Fprintf(w, "%-14s %f\n", name, weights[j])
	}
	fmt.Fprintf(w, "\n")
}

// SaveVarImp writes every variable's importance as csv.
func (m *Model) SaveVarImp(w io.Writer) error {
	for j, imp := range m.Pred.VariableWeights() {
		name := fmt.Sprintf("X%d", j+1)
		if j < len(m.VarNames) {
			name = m.VarNames[j]
		}
		if _, err := fmt.Fprintf(w, "%s,%f\n", name, imp); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) Save(w io.Writer) error {
	return m.Pred.Save(w)
}

func (m *Model) Load(r io.Reader) error {
	pred, err := predictor.Load(r)
	if err != nil {
		return err
	}
	m.Pred = pred
	return nil
}

//----------------------------------------------------------------------

// optionRecord is one entry of a yaml option grid.
type optionRecord struct {
	Iterations        *int     `yaml:"iterations"`
	Eta               *float64 `yaml:"eta"`
	Gamma             *float64 `yaml:"gamma"`
	MaxDepth          *int     `yaml:"max_depth"`
	ForestSize        *int     `yaml:"forest_size"`
	UsedSampleRatio   *float64 `yaml:"used_sample_ratio"`
	UsedVariableRatio *float64 `yaml:"used_variable_ratio"`
	TopVariableCount  *int     `yaml:"top_variable_count"`
	MinNodeSize       *int     `yaml:"min_node_size"`
	MinNodeWeight     *float64 `yaml:"min_node_weight"`
	PruneFactor       *float64 `yaml:"prune_factor"`
	FastExp           *bool    `yaml:"fast_exp"`
	Stratified        *bool    `yaml:"stratified"`
}

func (r *optionRecord) toOptions() (*boost.Options, error) {
	opt := boost.NewOptions()
	steps := []func() error{
		func() error {
			if r.Iterations == nil {
				return nil
			}
			return opt.SetIterationCount(*r.Iterations)
		},
		func() error {
			if r.Eta == nil {
				return nil
			}
			return opt.SetEta(*r.Eta)
		},
		func() error {
			if r.Gamma == nil {
				return nil
			}
			return opt.SetGamma(*r.Gamma)
		},
		func() error {
			if r.MaxDepth == nil {
				return nil
			}
			return opt.SetMaxDepth(*r.MaxDepth)
		},
		func() error {
			if r.ForestSize == nil {
				return nil
			}
			return opt.SetForestSize(*r.ForestSize)
		},
		func() error {
			if r.UsedSampleRatio == nil {
				return nil
			}
			return opt.SetUsedSampleRatio(*r.UsedSampleRatio)
		},
		func() error {
			if r.UsedVariableRatio == nil {
				return nil
			}
			return opt.SetUsedVariableRatio(*r.UsedVariableRatio)
		},
		func() error {
			if r.TopVariableCount == nil {
				return nil
			}
			return opt.SetTopVariableCount(*r.TopVariableCount)
		},
		func() error {
			if r.MinNodeSize == nil {
				return nil
			}
			return opt.SetMinNodeSize(*r.MinNodeSize)
		},
		func() error {
			if r.MinNodeWeight == nil {
				return nil
			}
			return opt.SetMinNodeWeight(*r.MinNodeWeight)
		},
		func() error {
			if r.PruneFactor == nil {
				return nil
			}
			return opt.SetPruneFactor(*r.PruneFactor)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	if r.FastExp != nil {
		opt.SetFastExp(*r.FastExp)
	}
	if r.Stratified != nil {
		opt.SetStratified(*r.Stratified)
	}
	return opt, nil
}

// loadOptionGrid reads a yaml list of option records.
func loadOptionGrid(path string) ([]*boost.Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening option grid")
	}
	defer f.Close()

	var records []optionRecord
	if err := yaml.NewDecoder(f).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "parsing option grid")
	}

	opts := make([]*boost.Options, len(records))
	for i := range records {
		opt, err := records[i].toOptions()
		if err != nil {
			return nil, errors.Wrapf(err, "option grid entry %d", i)
		}
		opts[i] = opt
	}
	return opts, nil
}
