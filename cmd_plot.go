package main

import (
	"flag"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	chart "github.com/wcharczuk/go-chart"
)

// RunPlotCommand renders the per-batch loss curves from a training run's
// train_results.csv as a PNG.
func RunPlotCommand(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	inPath := fs.String("in", "train_results.csv", "Training history CSV")
	outPath := fs.String("out", "train_losses.png", "Output PNG path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in, err := os.Open(*inPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", *inPath)
	}
	defer in.Close()

	var history []StepLoss
	if err := gocsv.UnmarshalFile(in, &history); err != nil {
		return errors.Wrapf(err, "parsing %s", *inPath)
	}
	if len(history) == 0 {
		return errors.Errorf("%s holds no training steps", *inPath)
	}

	steps := make([]float64, len(history))
	predLosses := make([]float64, len(history))
	advLosses := make([]float64, len(history))
	for i, row := range history {
		steps[i] = float64(i)
		predLosses[i] = row.PredLoss
		advLosses[i] = row.AdvLoss
	}

	graph := chart.Chart{
		Title:      "Adversarial training losses",
		TitleStyle: chart.StyleShow(),
		XAxis: chart.XAxis{
			Name:      "batch",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		YAxis: chart.YAxis{
			Name:      "loss",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "predictor",
				XValues: steps,
				YValues: predLosses,
				Style: chart.Style{
					Show:        true,
					StrokeColor: chart.ColorBlue,
				},
			},
			chart.ContinuousSeries{
				Name:    "adversary",
				XValues: steps,
				YValues: advLosses,
				Style: chart.Style{
					Show:        true,
					StrokeColor: chart.ColorRed,
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	out, err := os.Create(*outPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", *outPath)
	}
	defer out.Close()

	if err := graph.Render(chart.PNG, out); err != nil {
		return errors.Wrapf(err, "rendering %s", *outPath)
	}

	Logger().Infow("rendered loss curves", "in", *inPath, "out", *outPath, "steps", len(history))
	return nil
}
