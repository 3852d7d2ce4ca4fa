package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/bachhisto/histonet/dashboard"
	"github.com/bachhisto/histonet/labels"
	"github.com/bachhisto/histonet/training"
)

type trainFlags struct {
	epochs int
	save   string
	load   string
	curves string
}

func (f *trainFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.epochs, "epochs", 25, "number of epochs")
	cmd.Flags().StringVar(&f.save, "save", "model.pt", "checkpoint file name under the model save folder (empty to skip)")
	cmd.Flags().StringVar(&f.load, "load", "", "checkpoint to resume from")
	cmd.Flags().StringVar(&f.curves, "curves", "png", "format of the loss and accuracy plots (empty to skip)")
}

// runTraining trains, saves and plots according to f
func runTraining(c *training.Controller, f *trainFlags) error {
	training.PrintArchitecture(os.Stdout, c.Model())
	if _, err := c.Train(f.epochs); err != nil {
		return err
	}
	if f.save != "" {
		if err := c.Save(f.save); err != nil {
			return err
		}
		fmt.Printf("Saved model to %s\n", c.CheckpointPath(f.save))
	}
	if f.curves != "" {
		paths, err := c.SaveCurves(f.curves)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Printf("Wrote %s\n", p)
		}
	}
	return nil
}

func (a *app) trainCmd() *cobra.Command {
	var f trainFlags
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classification head (or the whole network with --fine-tune)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.controller(f.load)
			if err != nil {
				return err
			}
			return runTraining(c, &f)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) testCmd() *cobra.Command {
	var load string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Evaluate a checkpoint on the test split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.controller(load)
			if err != nil {
				return err
			}
			_, err = c.Test()
			return err
		},
	}
	cmd.Flags().StringVar(&load, "load", "", "checkpoint to evaluate")
	return cmd
}

func (a *app) visualizeCmd() *cobra.Command {
	var load string
	var numImages int
	cmd := &cobra.Command{
		Use:   "visualize",
		Short: "Render test images captioned with their predicted label",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.controller(load)
			if err != nil {
				return err
			}
			path, err := c.VisualizeModel(numImages)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&load, "load", "", "checkpoint to visualise")
	cmd.Flags().IntVar(&numImages, "num-images", 6, "number of test images")
	return cmd
}

func (a *app) plotGridCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plot-grid",
		Short: "Render one training batch with its ground-truth labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.controller("")
			if err != nil {
				return err
			}
			path, err := c.TrainingDataPlotGrid()
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func (a *app) labelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List the label registry",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), labels.DescribeAll())
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	var f trainFlags
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Train while serving progress on an HTTP dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.controller(f.load)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := dashboard.New()
			c.AddObserver(server)
			errc := make(chan error, 1)
			go func() { errc <- server.ListenAndServe(ctx, addr) }()

			if f.epochs > 0 {
				if err := runTraining(c, &f); err != nil {
					return err
				}
				if result, err := c.Test(); err == nil {
					server.RecordConfusionMatrix(result.Confusion.Matrix, labels.Names())
				} else {
					klog.Warningf("Test pass failed: %v", err)
				}
				if _, err := c.VisualizeModel(6); err != nil {
					klog.Warningf("Visualisation failed: %v", err)
				}
			}
			klog.Infof("Training done, serving on %s until interrupted", addr)
			return <-errc
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", ":8080", "dashboard listen address")
	return cmd
}
