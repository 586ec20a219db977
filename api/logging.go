package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"lssvm.dev/trainer/logger"
)

var defaultLogger = logger.NewLogger("API")

// trainRequestFields describes a training request in every log line written
// while it is served.
type trainRequestFields struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	Config        string `json:"config"`
	ContentLength int64  `json:"content_length"`
}

const RequestInfoFieldsKey = "train_request"

func makeRequestLogger(request *http.Request) zerolog.Logger {
	return withRequestInfo(defaultLogger, request)
}

func withRequestInfo(base zerolog.Logger, request *http.Request) zerolog.Logger {
	config := request.URL.Query().Get(ConfigQueryKey)
	if config == "" {
		config = "default"
	}
	fields := trainRequestFields{
		Method:        request.Method,
		Path:          request.URL.Path,
		Config:        config,
		ContentLength: request.ContentLength,
	}
	return base.With().Interface(RequestInfoFieldsKey, fields).Logger()
}
