package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Noofbiz/chestxray/report"
)

func previewCommand(a *app) *cobra.Command {
	var (
		splitName string
		outDir    string
		count     int
		width     int
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render samples of a split, after augmentation, with their opacity masks",
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
			written := 0
			for written < count {
				b, err := loader.Next(cmd.Context())
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				for _, s := range b.Samples {
					if written == count {
						break
					}
					name := strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
					path := filepath.Join(outDir, fmt.Sprintf("%s_%03d_%s.png", splitName, written, name))
					if err := report.Preview(s, path, width); err != nil {
						return err
					}
					a.logger.Debug("wrote preview", zap.String("path", path))
					written++
				}
			}
			a.logger.Info("wrote previews", zap.Int("count", written), zap.String("dir", outDir))
			return nil
		},
	}
	cmd.Flags().StringVar(&splitName, "split", "train", "Split to preview: train, valid or test")
	cmd.Flags().StringVarP(&outDir, "out", "o", "previews", "Output directory")
	cmd.Flags().IntVarP(&count, "count", "n", 8, "Number of samples to render")
	cmd.Flags().IntVar(&width, "width", 512, "Width of the rendered images, 0 keeps the model size")
	return cmd
}
