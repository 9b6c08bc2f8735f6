package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Noofbiz/chestxray/datasets"
	"github.com/Noofbiz/chestxray/report"
)

func verifyCommand(a *app) *cobra.Command {
	var (
		splitName string
		maxBatch  int
		stride    int
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Load every batch of a split and report intensity statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newModule()
			if err != nil {
				return err
			}
			loader, err := a.loader(m, splitName)
			if err != nil {
				return err
			}

			total := loader.Len()
			if maxBatch > 0 {
				total = min(total, maxBatch)
			}
			stats := report.NewIntensityStats(stride)
			pbar := progressbar.Default(int64(total), "Loading "+splitName)
			var (
				bytes   uint64
				batches int
			)
			for batches < total {
				b, err := loader.Next(cmd.Context())
				if err != nil {
					return err
				}
				flat, err := b.Flat()
				if err != nil {
					return err
				}
				bytes += flat.Bytes()
				stats.Add(b)
				batches++
				_ = pbar.Add(1)
			}
			_ = pbar.Finish()

			sum := stats.Summary()
			a.logger.Info("verified split",
				zap.String("split", splitName),
				zap.Int("batches", batches),
				zap.Int("samples", sum.Samples),
				zap.String("tensor_bytes", humanize.Bytes(bytes)))
			printSummary(cmd, splitName, loader, sum, bytes)
			return nil
		},
	}
	cmd.Flags().StringVar(&splitName, "split", "train", "Split to load: train, valid or test")
	cmd.Flags().IntVar(&maxBatch, "max-batches", 0, "Stop after this many batches, 0 loads the whole split")
	cmd.Flags().IntVar(&stride, "stride", report.DefaultStride, "Pixel subsampling stride for the statistics")
	return cmd
}

func printSummary(cmd *cobra.Command, split string, loader *datasets.Loader, sum report.Summary, bytes uint64) {
	out := cmd.OutOrStdout()
	lc := loader.Config()
	fmt.Fprintf(out, "split %s: %d samples, batch size %d, shuffle %v, %s of tensors\n",
		split, sum.Samples, lc.BatchSize, lc.Shuffle, humanize.Bytes(bytes))
	fmt.Fprintf(out, "samples with opacities: %d (%s)\n", sum.Masked, percent(sum.Masked, sum.Samples))
	fmt.Fprintf(out, "intensity: %s\n", sum)
	fmt.Fprintf(out, "mean label: %v\n", sum.LabelMean)
}

func percent(n, total int) string {
	if total == 0 {
		return "n/a"
	}
	return humanize.FtoaWithDigits(100*float64(n)/float64(total), 1) + "%"
}
