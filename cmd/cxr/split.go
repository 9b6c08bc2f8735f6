package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Noofbiz/chestxray/report"
	"github.com/Noofbiz/chestxray/studies"
)

func splitCommand(a *app) *cobra.Command {
	var manifestPath, plotPath string
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Build the cross-validation split and report its statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			images, studyRows, err := studies.ReadDir(a.cfg.DataDir)
			if err != nil {
				return err
			}
			split, err := studies.Build(images, studyRows, a.cfg.StudyOptions(a.logger))
			if err != nil {
				return err
			}
			printSplit(cmd, split, a.cfg.NumFolds)

			if manifestPath != "" {
				if err := writeManifest(manifestPath, split, a.cfg.FoldIndex); err != nil {
					return err
				}
				a.logger.Info("wrote manifest", zap.String("path", manifestPath))
			}
			if plotPath != "" {
				if err := report.PlotFolds(split, a.cfg.NumFolds, plotPath); err != nil {
					return err
				}
				a.logger.Info("wrote fold plot", zap.String("path", plotPath))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Write the per-image fold assignment to this CSV file")
	cmd.Flags().StringVar(&plotPath, "plot", "", "Write a class balance chart per fold to this image file")
	return cmd
}

func printSplit(cmd *cobra.Command, split *studies.Split, numFolds int) {
	s := split.Stats
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "image rows:         %d\n", s.ImageRows)
	fmt.Fprintf(out, "study rows:         %d\n", s.StudyRows)
	fmt.Fprintf(out, "ambiguous studies:  %d (%d rows)\n", s.AmbiguousStudies, s.AmbiguousRows)
	fmt.Fprintf(out, "unmatched rows:     %d\n", s.Unmatched)
	fmt.Fprintf(out, "joined:             %d\n", s.Joined)
	fmt.Fprintf(out, "train / valid:      %d / %d\n", s.Train, s.Valid)
	fmt.Fprintf(out, "seed:               %d\n", s.Seed)

	fmt.Fprintf(out, "\n%-6s", "fold")
	for _, c := range studies.Classes {
		fmt.Fprintf(out, " %14s", c)
	}
	fmt.Fprintln(out)
	for f, counts := range report.FoldClassCounts(split.All, numFolds) {
		fmt.Fprintf(out, "%-6d", f)
		for _, n := range counts {
			fmt.Fprintf(out, " %14d", n)
		}
		fmt.Fprintln(out)
	}
}

func writeManifest(path string, split *studies.Split, foldIndex int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create manifest")
	}
	if err := studies.WriteManifest(f, split, foldIndex); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "failed to close manifest")
}
