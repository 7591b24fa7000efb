package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	"github.com/davecheney/profile"
	log "github.com/sirupsen/logrus"

	flag "github.com/docker/docker/pkg/mflag"

	"github.com/jrade/jrboost/boost"
)

var (
	// model/prediction files
	dataFile    = flag.String([]string{"d", "-data"}, "", "example data")
	predictFile = flag.String([]string{"p", "-predictions"}, "", "file to output predictions")
	modelFile   = flag.String([]string{"f", "-final_model"}, "jrboost.model", "file to output fitted model")
	impFile     = flag.String([]string{"-var_importance"}, "", "file to output variable importance estimates")
	gridFile    = flag.String([]string{"-grid"}, "", "yaml file with an option grid to evaluate in parallel")
	// model params
	nIter       = flag.Int([]string{"-iterations"}, 1000, "number of boosting iterations")
	eta         = flag.Float64([]string{"-eta"}, 0.1, "learning rate")
	gamma       = flag.Float64([]string{"-gamma"}, 1.0, "gradient family: 1 = ada, 0 = logit, in between = regularized logit")
	maxDepth    = flag.Int([]string{"-depth"}, 1, "tree depth per boosting iteration")
	sampleRatio = flag.Float64([]string{"-sample_ratio"}, 1.0, "fraction of samples drawn per tree")
	varRatio    = flag.Float64([]string{"-variable_ratio"}, 1.0, "fraction of variables drawn per tree")
	minNodeSize = flag.Int([]string{"-min_node_size"}, 1, "minimum number of samples in newly created leaves")
	pruneFactor = flag.Float64([]string{"-prune"}, 0.0, "prune splits gaining less than this fraction of the root gain")
	fastExp     = flag.Bool([]string{"-fast_exp"}, false, "use the approximate exponential in the re-weighting pass")
	seed        = flag.Int64([]string{"-seed"}, 0, "random seed, 0 seeds non-deterministically")
	// runtime params
	nWorkers   = flag.Int([]string{"-workers"}, 1, "number of workers for fitting trees")
	runProfile = flag.Bool([]string{"-profile"}, false, "cpu profile")
	verbose    = flag.Bool([]string{"v", "-verbose"}, false, "log per-configuration progress")
)

func parseModelOpts() (*boost.Options, error) {
	opt := boost.NewOptions()
	if err := opt.SetIterationCount(*nIter); err != nil {
		return nil, err
	}
	if err := opt.SetEta(*eta); err != nil {
		return nil, err
	}
	if err := opt.SetGamma(*gamma); err != nil {
		return nil, err
	}
	if err := opt.SetMaxDepth(*maxDepth); err != nil {
		return nil, err
	}
	if err := opt.SetUsedSampleRatio(*sampleRatio); err != nil {
		return nil, err
	}
	if err := opt.SetUsedVariableRatio(*varRatio); err != nil {
		return nil, err
	}
	if err := opt.SetMinNodeSize(*minNodeSize); err != nil {
		return nil, err
	}
	if err := opt.SetPruneFactor(*pruneFactor); err != nil {
		return nil, err
	}
	opt.SetFastExp(*fastExp)
	opt.SetSeed(uint64(*seed))
	return opt, nil
}

func main() {
	flag.Parse()

	log.SetLevel(log.InfoLevel)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if *nWorkers > 1 {
		runtime.GOMAXPROCS(runtime.NumCPU())
	}

	if *runProfile {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	// make sure user specified csv file w/ data
	if *dataFile == "" {
		fmt.Fprintf(os.Stderr, "Usage of jrboost:\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	f, err := os.Open(*dataFile)
	if err != nil {
		fatal("error opening data file", err.Error())
	}
	defer f.Close()

	d, err := parseCSV(f)
	if err != nil {
		fatal("error parsing input data", err.Error())
	}

	switch {
	case *predictFile != "":
		m, err := loadModel(*modelFile)
		if err != nil {
			fatal("error opening model file", err.Error())
		}

		pred, err := m.Predict(d, *nWorkers)
		if err != nil {
			fatal(err.Error())
		}

		// write the predictions to file
		o, err := os.Create(*predictFile)
		if err != nil {
			fatal("error creating", *predictFile, err.Error())
		}
		defer o.Close()

		if err := writePred(o, pred); err != nil {
			fatal("error writing predictions", err.Error())
		}

	case *gridFile != "":
		// evaluate an option grid against the training data
		opts, err := loadOptionGrid(*gridFile)
		if err != nil {
			fatal(err.Error())
		}

		trainer, err := boost.NewTrainer(d.X, d.Y, nil, nil)
		if err != nil {
			fatal("error building trainer", err.Error())
		}

		scores, err := boost.ParallelTrainAndEval(ctx, trainer, opts, boost.LogLoss, d.X, d.Y, nil, *nWorkers)
		if err != nil {
			fatal("error evaluating option grid", err.Error())
		}

		fmt.Fprintf(os.Stderr, "%-8s %-12s %s\n", "option", "log-loss", "cost")
		for i, score := range scores {
			fmt.Fprintf(os.Stderr, "%-8d %-12.5f %.0f\n", i, score, opts[i].Cost())
		}

	default:
		// must be model fitting
		opt, err := parseModelOpts()
		if err != nil {
			fatal("invalid model option", err.Error())
		}

		// fit model
		m := new(Model)
		if err := m.Fit(ctx, d, opt, *nWorkers); err != nil {
			fatal("error fitting model", err.Error())
		}

		// save model to disk
		o, err := os.Create(*modelFile)
		if err != nil {
			fatal("error saving model", err.Error())
		}
		defer o.Close()

		if err := m.Save(o); err != nil {
			fatal("error saving model", err.Error())
		}

		// write var importance to file
		if *impFile != "" {
			f, err := os.Create(*impFile)
			if err != nil {
				fatal("error saving variable importance", err.Error())
			}
			defer f.Close()
			if err := m.SaveVarImp(f); err != nil {
				fatal("error saving variable importance", err.Error())
			}
		}

		m.Report(os.Stderr)
	}
}

func loadModel(fName string) (*Model, error) {
	f, err := os.Open(fName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := new(Model)
	err = m.Load(f)
	return m, err
}

func fatal(a ...interface{}) {
	fmt.Fprintln(os.Stderr, a...)
	os.Exit(1)
}

func writePred(w io.Writer, prediction []string) error {
	wtr := bufio.NewWriter(w)

	for _, pred := range prediction {
		_, err := wtr.WriteString(pred)
		if err != nil {
			return err
		}

		err = wtr.WriteByte('\n')
		if err != nil {
			return err
		}
	}

	return wtr.Flush()
}
