package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Noofbiz/chestxray/simple"
)

func probeCommand(a *app) *cobra.Command {
	var (
		grid   int
		hidden []int
		epochs int
		lr     float64
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Train a small classifier on pooled images to check the labels are learnable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if epochs < 1 || grid < 1 {
				return errors.Errorf("epochs and grid must be >= 1, got %d and %d", epochs, grid)
			}
			m, err := a.newModule()
			if err != nil {
				return err
			}
			trainLoader, err := m.TrainLoader()
			if err != nil {
				return err
			}
			validLoader, err := m.ValidLoader()
			if err != nil {
				return err
			}
			train, err := simple.NewPooledDataset(cmd.Context(), trainLoader, grid)
			if err != nil {
				return err
			}
			valid, err := simple.NewPooledDataset(cmd.Context(), validLoader, grid)
			if err != nil {
				return err
			}
			a.logger.Info("pooled features ready",
				zap.Int("train", train.Len()), zap.Int("valid", valid.Len()), zap.Int("dim", grid*grid))

			model, err := simple.NewModel(simple.Config{
				InputDim:     grid * grid,
				HiddenSizes:  hidden,
				LearningRate: lr,
				Epochs:       epochs,
				BatchSize:    a.cfg.BatchSize,
				Seed:         a.cfg.Seed,
				ClipNorm:     5,
				Logger:       a.logger,
			})
			if err != nil {
				return err
			}
			history, err := model.TrainWithDataset(train)
			if err != nil {
				return err
			}
			met, err := model.Evaluate(valid)
			if err != nil {
				return err
			}
			a.logger.Info("probe finished",
				zap.Float64("final_train_loss", history[len(history)-1]),
				zap.Float64("valid_loss", met.Loss),
				zap.Float64("valid_accuracy", met.Accuracy))
			fmt.Fprintf(cmd.OutOrStdout(), "valid: %d examples, loss %.4f, accuracy %.3f\n",
				met.Examples, met.Loss, met.Accuracy)
			return nil
		},
	}
	cmd.Flags().IntVar(&grid, "grid", 8, "Pool images onto a grid x grid lattice")
	cmd.Flags().IntSliceVar(&hidden, "hidden", []int{32}, "Hidden layer sizes")
	cmd.Flags().IntVar(&epochs, "epochs", 20, "Training epochs")
	cmd.Flags().Float64Var(&lr, "lr", 0.05, "Learning rate")
	return cmd
}
