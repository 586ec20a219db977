package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"lssvm.dev/trainer/api"
	"lssvm.dev/trainer/logger"
	"lssvm.dev/trainer/types"
	"lssvm.dev/trainer/worker"
)

type Config struct {
	ConfigPath    string `envconfig:"LSSVM_CONFIG_PATH"`
	RestAPIActive bool   `envconfig:"LSSVM_REST_API_ACTIVE" default:"false"`
	RestAPIPort   string `envconfig:"LSSVM_REST_API_PORT" default:"10000"`
	// Rank is set by the launcher for every child process, -1 outside of it.
	Rank               int    `envconfig:"LSSVM_RANK" default:"-1"`
	WorldSize          int    `envconfig:"LSSVM_WORLD_SIZE" default:"1"`
	RunID              string `envconfig:"LSSVM_RUN_ID"`
	CommTimeoutSeconds int    `envconfig:"LSSVM_COMM_TIMEOUT_SECONDS" default:"300"`
}

const runIDEnv = "LSSVM_RUN_ID"

func main() {
	logger.SetupLogging()
	mainLogger := logger.NewLogger("Main")
	fatalErrLogger := mainLogger.Fatal().Caller()

	trainPath := flag.String("train", "", "LIBSVM data set to train on")
	predictPath := flag.String("predict", "", "LIBSVM data set to evaluate a trained model on")
	modelPath := flag.String("model", "", "model file to write after training or to read for -predict")
	paramsPath := flag.String("params", "", "yaml training configuration, defaults are used when empty")
	ranks := flag.Int("ranks", 1, "number of ranks to train with inside this process")
	launch := flag.Int("launch", 0, "number of rank processes to launch, they communicate through Redis")
	flag.Parse()

	var config Config
	if err := envconfig.Process("", &config); err != nil {
		fatalErrLogger.Err(err).Msg("Failed to read environment")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *launch > 1 && config.Rank < 0:
		if config.RunID == "" {
			runID := fmt.Sprintf("local-%d", time.Now().UnixNano())
			if err := os.Setenv(runIDEnv, runID); err != nil {
				fatalErrLogger.Err(err).Msg("Failed to set run id")
				os.Exit(1)
			}
		}
		executable, err := os.Executable()
		if err != nil {
			fatalErrLogger.Err(err).Msg("Failed to locate executable")
			os.Exit(1)
		}
		logger.WrapRanks(*launch, executable, forwardedFlags("launch")...)
	case *trainPath != "":
		trainConfig, err := loadTrainConfig(*paramsPath)
		if err != nil {
			fatalErrLogger.Err(err).Msg("Failed to load training configuration")
			os.Exit(1)
		}
		if err = runTraining(ctx, config, trainConfig, *trainPath, *modelPath, *ranks); err != nil {
			fatalErrLogger.Err(err).Msg("Training failed")
			os.Exit(1)
		}
	case *predictPath != "":
		if err := runPrediction(*modelPath, *predictPath); err != nil {
			fatalErrLogger.Err(err).Msg("Prediction failed")
			os.Exit(1)
		}
	default:
		runWorker(config)
	}
}

func loadTrainConfig(paramsPath string) (types.TrainConfig, error) {
	if paramsPath == "" {
		return types.DefaultTrainConfig(), nil
	}
	return types.LoadConfiguration(paramsPath)
}

// forwardedFlags renders every flag set on the command line, except skip,
// for the launched rank processes.
func forwardedFlags(skip string) []string {
	var args []string
	flag.Visit(func(f *flag.Flag) {
		if f.Name == skip {
			return
		}
		args = append(args, fmt.Sprintf("-%s=%s", f.Name, f.Value.String()))
	})
	return args
}

func runWorker(config Config) {
	mainLogger := logger.NewLogger("Main")

	configs := map[string]types.TrainConfig{}
	if config.ConfigPath != "" {
		var err error
		configs, err = types.LoadConfigurations(config.ConfigPath)
		if err != nil {
			mainLogger.Fatal().Err(err).Msg("Failed to load configurations")
			os.Exit(1)
		}
	}
	mainLogger.Info().Msgf("Loaded %d configurations", len(configs))

	if config.RestAPIActive {
		go func() {
			mainLogger.Info().Msg("Starting API service")
			apiRequest := &api.Request{
				Configs: configs,
			}
			http.HandleFunc("/", apiRequest.ProcessData)
			host := fmt.Sprintf(":%s", config.RestAPIPort)
			mainLogger.Info().Msgf("REST API on %s", host)
			err := http.ListenAndServe(host, nil)
			mainLogger.Fatal().Err(err).Msg("REST API stopped with error")
		}()
	}

	mainLogger.Info().Msg("Start training worker")
	for {
		rmqWorker, err := worker.New(configs, worker.Train)
		if err != nil {
			mainLogger.Fatal().Err(err).Msg("Could not initialize RMQ worker")
			os.Exit(1)
		}
		err = rmqWorker.StartWorker()
		if err != nil {
			mainLogger.Err(err).Msg("Worker returned with error. Launching new in 5 seconds")
			time.Sleep(5 * time.Second)
		}
	}
}
