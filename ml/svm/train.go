package svm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"lssvm.dev/trainer/comm"
	"lssvm.dev/trainer/data"
	"lssvm.dev/trainer/logger"
)

// Options selects how the system is evaluated and solved. The zero value uses
// the cpu backend with one worker per CPU, the root reducer and n iterations.
type Options struct {
	Backend         string
	Threads         int
	BlockSize       int
	Reducer         string
	MaxIterations   int
	ResidualRefresh int
}

func DefaultOptions() Options {
	return Options{
		Backend:   BackendCPU,
		BlockSize: DefaultBlockSize,
		Reducer:   comm.ReducerRoot,
	}
}

// Trainer fits LS-SVM models. One Trainer may be shared by all ranks of an
// in-process group.
type Trainer struct {
	param   Parameter
	opts    Options
	backend Backend
	reducer comm.Reducer
	logger  zerolog.Logger
}

func NewTrainer(param Parameter, opts Options) (*Trainer, error) {
	if err := param.Validate(); err != nil {
		return nil, err
	}
	backend, err := NewBackend(opts.Backend, opts.Threads, opts.BlockSize)
	if err != nil {
		return nil, err
	}
	reducer, err := comm.NewReducer(opts.Reducer)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		param:   param,
		opts:    opts,
		backend: backend,
		reducer: reducer,
		logger:  logger.NewLogger("SVM"),
	}, nil
}

// Train solves the LS-SVM system of ds as one rank of group. Every rank must
// call Train with the same data set and receives the same model.
func (t *Trainer) Train(ctx context.Context, ds *data.Dataset, group comm.Communicator) (*Model, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	y, classes, err := ds.BinaryLabels()
	if err != nil {
		return nil, err
	}
	problem, err := NewProblem(ds.Points, t.param)
	if err != nil {
		return nil, err
	}
	op := NewOperator(problem, t.backend, group, t.reducer)
	n := problem.Dim()

	log := t.logger.With().Int("rank", group.Rank()).Int("world_size", group.Size()).Logger()
	log.Debug().
		Int("points", ds.NumPoints()).
		Int("features", ds.NumFeatures).
		Int("row_lower", op.Rows().Lower).
		Int("row_upper", op.Rows().Upper).
		Str("kernel", t.param.KernelType.String()).
		Str("backend", t.backend.Name()).
		Msg("Problem set up")

	b := make([]float64, n)
	for i := range b {
		b[i] = y[i] - y[n]
	}

	if err := group.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("rank %d: %w", group.Rank(), err)
	}

	res, err := SolveCG(ctx, op, b, CGOptions{
		Epsilon:         t.param.Epsilon,
		MaxIterations:   t.opts.MaxIterations,
		ResidualRefresh: t.opts.ResidualRefresh,
		OnIteration: func(it int, residual float64) {
			log.Debug().Int("iteration", it).Float64("residual", residual).Msg("CG iteration")
		},
	})
	if err != nil {
		return nil, err
	}
	if res.Converged {
		log.Info().Int("iterations", res.Iterations).Float64("residual", res.Residual).Msg("CG converged")
	} else {
		log.Warn().Int("iterations", res.Iterations).Float64("residual", res.Residual).Msg("CG stopped without reaching epsilon")
	}

	alpha := make([]float64, n+1)
	copy(alpha, res.X)
	alpha[n] = -floats.Sum(res.X)
	bias := y[n] - floats.Dot(problem.Q, alpha[:n]) - problem.QACost*alpha[n]

	model := &Model{
		Param:      t.param,
		Labels:     classes,
		Alpha:      alpha,
		Bias:       bias,
		SV:         copyRows(ds.Points),
		Iterations: res.Iterations,
		Residual:   res.Residual,
		Converged:  res.Converged,
	}
	if t.param.KernelType == KernelTypeLinear {
		model.Weights = linearWeights(model.SV, alpha)
	}
	return model, nil
}

// TrainLocal runs a group of ranks goroutines in this process and returns the
// model of rank 0. The first failing rank aborts the others.
func (t *Trainer) TrainLocal(ctx context.Context, ds *data.Dataset, ranks int) (*Model, error) {
	if ranks <= 1 {
		return t.Train(ctx, ds, comm.Single())
	}
	group, err := comm.NewLocalGroup(ranks)
	if err != nil {
		return nil, err
	}

	models := make([]*Model, ranks)
	errs := make([]error, ranks)
	var wg sync.WaitGroup
	for rank, endpoint := range group.Endpoints() {
		wg.Add(1)
		go func(rank int, endpoint comm.Communicator) {
			defer wg.Done()
			models[rank], errs[rank] = t.Train(ctx, ds, endpoint)
			if errs[rank] != nil {
				group.Abort()
			}
		}(rank, endpoint)
	}
	wg.Wait()

	// Ranks aborted by a peer only report ErrGroupClosed, return the cause.
	var cause error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if cause == nil || (errors.Is(cause, comm.ErrGroupClosed) && !errors.Is(err, comm.ErrGroupClosed)) {
			cause = err
		}
	}
	if cause != nil {
		return nil, cause
	}
	return models[comm.Root], nil
}

func linearWeights(sv [][]float64, alpha []float64) []float64 {
	if len(sv) == 0 || len(sv[0]) == 0 {
		return nil
	}
	x := mat.NewDense(len(sv), len(sv[0]), nil)
	for i, row := range sv {
		x.SetRow(i, row)
	}
	var w mat.VecDense
	w.MulVec(x.T(), mat.NewVecDense(len(alpha), alpha))
	return append([]float64(nil), w.RawVector().Data...)
}

func copyRows(rows [][]float64) [][]float64 {
	if len(rows) == 0 {
		return nil
	}
	dim := len(rows[0])
	flat := make([]float64, len(rows)*dim)
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
		copy(out[i], row)
	}
	return out
}
