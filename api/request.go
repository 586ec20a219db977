package api

import (
	"errors"
	"net/http"

	"lssvm.dev/trainer/comm"
	"lssvm.dev/trainer/data"
	"lssvm.dev/trainer/ml/svm"
	"lssvm.dev/trainer/types"
)

// ConfigQueryKey selects a named configuration, e.g. POST /?config=rbf.
const ConfigQueryKey = "config"

// Request trains a model on the LIBSVM data set posted in the body, in the
// calling process, and answers with the model document.
type Request struct {
	Configs map[string]types.TrainConfig
}

func (req *Request) ProcessData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	logger := makeRequestLogger(r)

	if r.Method != http.MethodPost {
		logger.Err(nil).Int("status", http.StatusMethodNotAllowed).Msg("Only 'POST' method is allowed here")
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	config, ok := req.config(r.URL.Query().Get(ConfigQueryKey))
	if !ok {
		logger.Error().Int("status", http.StatusNotFound).Msg("Unknown configuration")
		http.Error(w, "unknown configuration", http.StatusNotFound)
		return
	}

	ds, err := data.ParseLIBSVM(r.Body)
	if err != nil {
		logger.Err(err).Int("status", http.StatusBadRequest).Msg("Could not parse request body")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	param, err := config.Parameter(ds.NumFeatures)
	if err != nil {
		logger.Err(err).Int("status", http.StatusBadRequest).Msg("Invalid configuration")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trainer, err := svm.NewTrainer(param, config.Options())
	if err != nil {
		logger.Err(err).Int("status", http.StatusBadRequest).Msg("Invalid configuration")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger.Info().
		Str("config", config.Name).
		Int("points", ds.NumPoints()).
		Msg("Starting training for request from API")
	model, err := trainer.Train(r.Context(), ds, comm.Single())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, data.ErrNotBinary) {
			status = http.StatusBadRequest
		}
		logger.Err(err).Int("status", status).Msg("Training failed")
		http.Error(w, err.Error(), status)
		return
	}
	if _, err = model.WriteTo(w); err != nil {
		logger.Err(err).Msg("Could not write response")
		return
	}
	logger.Info().Int("status", http.StatusOK).Msg("Finished processing request")
}

func (req *Request) config(name string) (types.TrainConfig, bool) {
	if name == "" {
		return types.DefaultTrainConfig(), true
	}
	config, ok := req.Configs[name]
	return config, ok
}
