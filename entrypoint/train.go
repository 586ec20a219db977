package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"lssvm.dev/trainer/comm"
	"lssvm.dev/trainer/data"
	"lssvm.dev/trainer/logger"
	"lssvm.dev/trainer/ml/svm"
	"lssvm.dev/trainer/redis"
	"lssvm.dev/trainer/types"
	"lssvm.dev/trainer/worker"
)

// runTraining trains on the data set at dataPath. Launched rank processes
// join the Redis group of config.RunID, otherwise ranks goroutines share the
// work inside this process. Only rank 0 writes the model.
func runTraining(ctx context.Context, config Config, trainConfig types.TrainConfig, dataPath, modelPath string, ranks int) error {
	trainLogger := logger.NewLogger("Train")

	ds, err := data.LoadFile(dataPath)
	if err != nil {
		return err
	}
	param, err := trainConfig.Parameter(ds.NumFeatures)
	if err != nil {
		return err
	}
	trainer, err := svm.NewTrainer(param, trainConfig.Options())
	if err != nil {
		return err
	}

	start := time.Now()
	var model *svm.Model
	if config.Rank >= 0 {
		model, err = trainRank(ctx, config, trainer, ds)
	} else {
		model, err = trainer.TrainLocal(ctx, ds, ranks)
	}
	if err != nil {
		return err
	}
	if config.Rank > comm.Root {
		return nil
	}

	accuracy, err := model.Accuracy(ds)
	if err != nil {
		return err
	}
	trainLogger.Info().
		Int("points", ds.NumPoints()).
		Int("iterations", model.Iterations).
		Float64("residual", model.Residual).
		Bool("converged", model.Converged).
		Float64("training_accuracy", accuracy).
		Dur("elapsed", time.Since(start)).
		Msg("Training finished")
	return writeModel(model, modelPath)
}

func trainRank(ctx context.Context, config Config, trainer *svm.Trainer, ds *data.Dataset) (*svm.Model, error) {
	if config.RunID == "" {
		return nil, fmt.Errorf("%s is required for rank %d", runIDEnv, config.Rank)
	}
	client, err := redis.NewClient(worker.CommDB)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	group, err := comm.NewRedisGroup(
		client,
		config.RunID,
		config.Rank,
		config.WorldSize,
		time.Duration(config.CommTimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, err
	}
	defer group.Close()
	return trainer.Train(ctx, ds, group)
}

func writeModel(model *svm.Model, modelPath string) (err error) {
	var w io.Writer = os.Stdout
	if modelPath != "" {
		file, createErr := os.Create(modelPath)
		if createErr != nil {
			return createErr
		}
		defer func() {
			if closeErr := file.Close(); err == nil {
				err = closeErr
			}
		}()
		w = file
	}
	_, err = model.WriteTo(w)
	return err
}

func runPrediction(modelPath, dataPath string) error {
	if modelPath == "" {
		return fmt.Errorf("-predict needs -model")
	}
	file, err := os.Open(modelPath)
	if err != nil {
		return err
	}
	defer file.Close()
	model, err := svm.ReadModel(file)
	if err != nil {
		return fmt.Errorf("%s: %w", modelPath, err)
	}
	ds, err := data.LoadFile(dataPath)
	if err != nil {
		return err
	}
	accuracy, err := model.Accuracy(ds)
	if err != nil {
		return err
	}
	predictLogger := logger.NewLogger("Predict")
	predictLogger.Info().
		Int("points", ds.NumPoints()).
		Float64("accuracy", accuracy).
		Msg("Evaluated model")
	return nil
}
