// Command histonet trains and evaluates the BACH histology classifier.
//
//	histonet train --epochs 25 --save model.pt
//	histonet test --load data/models/model.pt
//	histonet visualize --load data/models/model.pt --num-images 6
//	histonet serve --addr :8080 --epochs 25
package main

import (
	goflag "flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/bachhisto/histonet/config"
	"github.com/bachhisto/histonet/training"
)

// app holds the state shared by every subcommand
type app struct {
	v          *viper.Viper
	configFile string
	envFiles   []string
	device     string
	fineTune   bool
}

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	if err := newRootCmd().Execute(); err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "histonet",
		Short:         "Transfer learning for breast cancer histology patches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(a.envFiles...)
		},
	}

	flags := root.PersistentFlags()
	flags.AddGoFlagSet(goflag.CommandLine)
	flags.StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	flags.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "env files to load before reading settings")
	flags.StringVar(&a.device, "device", training.DefaultDevice(), "compute device (cpu or cpu:N)")
	flags.BoolVar(&a.fineTune, "fine-tune", false, "train the whole network instead of the head only")

	d := config.Default()
	flags.Int("batch-size", d.BatchSize, "samples per batch")
	flags.Int("num-workers", d.NumWorkers, "preprocessing goroutines per batch")
	flags.String("output-folder", d.OutputFolder, "dataset root holding train and test")
	flags.String("model-save-folder", d.ModelSaveFolder, "where checkpoints are written")
	flags.String("visualization-folder", d.VisualizationFolder, "where images and plots are written")
	flags.String("pretrained-weights", d.PretrainedWeights, "backbone checkpoint (.pt or .json)")
	flags.Bool("show-progress", d.ShowProgress, "draw a progress bar per phase")
	flags.Int("image-size", d.ImageSize, "side of the square network input")
	flags.String("validation-split", d.ValidationSplit, "dataset split used for validation")
	flags.String("optimizer", d.Optimizer, "sgd, adam or rmsprop")
	flags.String("scheduler", d.Scheduler, "step, exponential, cosine, plateau or constant")
	flags.Float64("learning-rate", d.LearningRate, "initial learning rate")
	flags.Float64("momentum", d.Momentum, "momentum (sgd and rmsprop)")
	for key, name := range map[string]string{
		config.KeyBatchSize:           "batch-size",
		config.KeyNumWorkers:          "num-workers",
		config.KeyOutputFolder:        "output-folder",
		config.KeyModelSaveFolder:     "model-save-folder",
		config.KeyVisualizationFolder: "visualization-folder",
		config.KeyPretrainedWeights:   "pretrained-weights",
		config.KeyShowProgress:        "show-progress",
		config.KeyImageSize:           "image-size",
		config.KeyValidationSplit:     "validation-split",
		config.KeyOptimizer:           "optimizer",
		config.KeyScheduler:           "scheduler",
		config.KeyLearningRate:        "learning-rate",
		config.KeyMomentum:            "momentum",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", name, err))
		}
	}

	root.AddCommand(
		a.trainCmd(),
		a.testCmd(),
		a.visualizeCmd(),
		a.plotGridCmd(),
		a.labelsCmd(),
		a.serveCmd(),
	)
	return root
}

// controller loads the settings and builds a controller, restoring a
// checkpoint when load is not empty
func (a *app) controller(load string) (*training.Controller, error) {
	settings, err := config.Load(a.v, a.configFile)
	if err != nil {
		return nil, err
	}
	c, err := training.New(training.Options{
		Device:   a.device,
		FineTune: a.fineTune,
		Settings: settings,
		Out:      os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	if load != "" {
		if err := c.Load(load); err != nil {
			return nil, err
		}
	}
	return c, nil
}
