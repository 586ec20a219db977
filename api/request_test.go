package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lssvm.dev/trainer/ml/svm"
	"lssvm.dev/trainer/types"
)

const sampleDataset = `1 1:0 2:1
-1 1:1 2:0.5
1 1:2 2:2
-1 1:-1 2:0.5
-1 1:0.5 2:-1
1 1:3 2:1.5
`

func newRequest() *Request {
	rbf := types.DefaultTrainConfig()
	rbf.Name = "rbf"
	rbf.Kernel = svm.KernelTypeRbf.String()
	rbf.Cost = 10
	return &Request{Configs: map[string]types.TrainConfig{"rbf": rbf}}
}

func serve(method, target, body string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	newRequest().ProcessData(recorder, httptest.NewRequest(method, target, strings.NewReader(body)))
	return recorder
}

func TestProcessData(t *testing.T) {
	recorder := serve(http.MethodPost, "/", sampleDataset)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	model, err := svm.ReadModel(recorder.Body)
	require.NoError(t, err)
	assert.Equal(t, svm.KernelTypeLinear, model.Param.KernelType)
	assert.Len(t, model.Alpha, 6)
	assert.Len(t, model.Weights, 2)
}

func TestProcessDataNamedConfig(t *testing.T) {
	recorder := serve(http.MethodPost, "/?config=rbf", sampleDataset)
	require.Equal(t, http.StatusOK, recorder.Code)

	model, err := svm.ReadModel(recorder.Body)
	require.NoError(t, err)
	assert.Equal(t, svm.KernelTypeRbf, model.Param.KernelType)
	assert.Equal(t, 10.0, model.Param.Cost)
	assert.Equal(t, 0.5, model.Param.Gamma)
}

func TestProcessDataErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"wrong method", http.MethodGet, "/", "", http.StatusMethodNotAllowed},
		{"unknown config", http.MethodPost, "/?config=missing", sampleDataset, http.StatusNotFound},
		{"malformed body", http.MethodPost, "/", "1 x:y\n-1 1:1\n", http.StatusBadRequest},
		{"single point", http.MethodPost, "/", "1 1:1\n", http.StatusBadRequest},
		{"one class", http.MethodPost, "/", "1 1:1\n1 1:2\n", http.StatusBadRequest},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.status, serve(test.method, test.target, test.body).Code)
		})
	}
}
