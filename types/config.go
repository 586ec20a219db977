package types

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"lssvm.dev/trainer/comm"
	"lssvm.dev/trainer/logger"
	"lssvm.dev/trainer/ml/svm"
)

// TrainConfig is one named training configuration. Gamma is optional and
// defaults to 1/num_features of the data set it is applied to.
type TrainConfig struct {
	Name            string   `yaml:"-" json:"name,omitempty"`
	FilePath        string   `yaml:"-" json:"file_path,omitempty"`
	Kernel          string   `yaml:"kernel" json:"kernel"`
	Degree          int      `yaml:"degree" json:"degree"`
	Gamma           *float64 `yaml:"gamma" json:"gamma,omitempty"`
	Coef0           float64  `yaml:"coef0" json:"coef0"`
	Cost            float64  `yaml:"cost" json:"cost"`
	Epsilon         float64  `yaml:"epsilon" json:"epsilon"`
	MaxIterations   int      `yaml:"max_iterations" json:"max_iterations"`
	ResidualRefresh int      `yaml:"residual_refresh" json:"residual_refresh"`
	Backend         string   `yaml:"backend" json:"backend"`
	Threads         int      `yaml:"threads" json:"threads"`
	BlockSize       int      `yaml:"block_size" json:"block_size"`
	Reducer         string   `yaml:"reducer" json:"reducer"`
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Name:      "default",
		Kernel:    svm.KernelTypeLinear.String(),
		Degree:    3,
		Cost:      1,
		Epsilon:   1e-3,
		Backend:   svm.BackendCPU,
		BlockSize: svm.DefaultBlockSize,
		Reducer:   comm.ReducerRoot,
	}
}

// Parameter resolves the kernel parameters for a data set with numFeatures
// features.
func (cfg TrainConfig) Parameter(numFeatures int) (svm.Parameter, error) {
	kernel, err := svm.ParseKernelType(cfg.Kernel)
	if err != nil {
		return svm.Parameter{}, err
	}
	param := svm.Parameter{
		KernelType: kernel,
		Degree:     cfg.Degree,
		Coef0:      cfg.Coef0,
		Cost:       cfg.Cost,
		Epsilon:    cfg.Epsilon,
	}
	switch {
	case cfg.Gamma != nil:
		param.Gamma = *cfg.Gamma
	case numFeatures > 0:
		param.Gamma = 1 / float64(numFeatures)
	}
	if err := param.Validate(); err != nil {
		return svm.Parameter{}, err
	}
	return param, nil
}

func (cfg TrainConfig) Options() svm.Options {
	return svm.Options{
		Backend:         cfg.Backend,
		Threads:         cfg.Threads,
		BlockSize:       cfg.BlockSize,
		Reducer:         cfg.Reducer,
		MaxIterations:   cfg.MaxIterations,
		ResidualRefresh: cfg.ResidualRefresh,
	}
}

// Validate checks everything that does not depend on the data set.
func (cfg TrainConfig) Validate() error {
	param, err := cfg.Parameter(1)
	if err != nil {
		return err
	}
	_, err = svm.NewTrainer(param, cfg.Options())
	return err
}

// LoadConfiguration reads one yaml file on top of DefaultTrainConfig.
func LoadConfiguration(filePath string) (TrainConfig, error) {
	cfg := DefaultTrainConfig()
	cfg.Name = strings.TrimSuffix(path.Base(filePath), path.Ext(filePath))
	cfg.FilePath = filePath

	buf, err := os.ReadFile(filePath)
	if err != nil {
		return TrainConfig{}, err
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return TrainConfig{}, fmt.Errorf("%s: %w", filePath, err)
	}
	if err := cfg.Validate(); err != nil {
		return TrainConfig{}, fmt.Errorf("%s: %w", filePath, err)
	}
	return cfg, nil
}

// LoadConfigurations loads every *.yaml file of dirPath concurrently. Files
// that fail to load are logged and skipped.
func LoadConfigurations(dirPath string) (map[string]TrainConfig, error) {
	cfgLogger := logger.NewLogger("LoadConfigurations")

	files, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	configChan := make(chan TrainConfig, len(files))
	for _, f := range files {
		// Skip dirs and non-yaml files
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".yaml") {
			continue
		}

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			cfg, err := LoadConfiguration(path.Join(dirPath, name))
			if err != nil {
				cfgLogger.Err(err).Str("file", name).Msg("Skipping configuration")
				return
			}
			configChan <- cfg
		}(f.Name())
	}

	go func() {
		wg.Wait()
		close(configChan)
	}()

	configs := make(map[string]TrainConfig, len(files))
	for cfg := range configChan {
		configs[cfg.Name] = cfg
	}
	return configs, nil
}
