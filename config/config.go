// Package config loads histonet settings from defaults, an optional config
// file, a .env file and HISTONET_ environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

// EnvPrefix is prepended to every environment variable, e.g. HISTONET_BATCH_SIZE
const EnvPrefix = "HISTONET"

// Configuration keys
const (
	KeyBatchSize           = "batch_size"
	KeyNumWorkers          = "num_workers"
	KeyOutputFolder        = "output_folder"
	KeyModelSaveFolder     = "model_save_folder"
	KeyVisualizationFolder = "visualization_folder"
	KeyImageSize           = "image_size"
	KeyValidationSplit     = "validation_split"
	KeyCacheSize           = "cache_size"
	KeySeed                = "seed"
	KeyPretrainedWeights   = "pretrained_weights"
	KeyShowProgress        = "show_progress"
	KeyOptimizer           = "optimizer"
	KeyScheduler           = "scheduler"
	KeyLearningRate        = "learning_rate"
	KeyMomentum            = "momentum"
)

// Settings are the values the training controller and CLI read
type Settings struct {
	BatchSize           int     `mapstructure:"batch_size"`
	NumWorkers          int     `mapstructure:"num_workers"`
	OutputFolder        string  `mapstructure:"output_folder"`
	ModelSaveFolder     string  `mapstructure:"model_save_folder"`
	VisualizationFolder string  `mapstructure:"visualization_folder"`
	ImageSize           int     `mapstructure:"image_size"`
	ValidationSplit     string  `mapstructure:"validation_split"`
	CacheSize           int     `mapstructure:"cache_size"`
	Seed                int64   `mapstructure:"seed"`
	PretrainedWeights   string  `mapstructure:"pretrained_weights"`
	ShowProgress        bool    `mapstructure:"show_progress"`
	Optimizer           string  `mapstructure:"optimizer"`
	Scheduler           string  `mapstructure:"scheduler"`
	LearningRate        float64 `mapstructure:"learning_rate"`
	Momentum            float64 `mapstructure:"momentum"`
}

// Default returns the settings used when nothing else is configured
func Default() Settings {
	return Settings{
		BatchSize:           4,
		NumWorkers:          0,
		OutputFolder:        "data/output",
		ModelSaveFolder:     "data/models",
		VisualizationFolder: "data/visualization",
		ImageSize:           224,
		ValidationSplit:     "test",
		CacheSize:           1000,
		Seed:                1,
		PretrainedWeights:   "",
		ShowProgress:        false,
		Optimizer:           "sgd",
		Scheduler:           "step",
		LearningRate:        0.001,
		Momentum:            0.9,
	}
}

// Validate checks that the settings can drive a training run
func (s Settings) Validate() error {
	var errs []error
	if s.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyBatchSize, s.BatchSize))
	}
	if s.NumWorkers < 0 {
		errs = append(errs, fmt.Errorf("%s cannot be negative, got %d", KeyNumWorkers, s.NumWorkers))
	}
	if s.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyImageSize, s.ImageSize))
	}
	for _, kv := range [][2]string{
		{KeyOutputFolder, s.OutputFolder},
		{KeyModelSaveFolder, s.ModelSaveFolder},
		{KeyVisualizationFolder, s.VisualizationFolder},
		{KeyValidationSplit, s.ValidationSplit},
	} {
		if strings.TrimSpace(kv[1]) == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", kv[0]))
		}
	}
	if ratio, ok := s.ValidationRatio(); ok && (ratio <= 0 || ratio >= 1) {
		errs = append(errs, fmt.Errorf("%s ratio must be in (0, 1), got %g", KeyValidationSplit, ratio))
	}
	if s.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %g", KeyLearningRate, s.LearningRate))
	}
	if s.Momentum < 0 {
		errs = append(errs, fmt.Errorf("%s cannot be negative, got %g", KeyMomentum, s.Momentum))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}

// ValidationRatio reports whether ValidationSplit is a number rather than a
// directory name. A ratio carves the validation feed out of the train split.
func (s Settings) ValidationRatio() (float64, bool) {
	ratio, err := strconv.ParseFloat(strings.TrimSpace(s.ValidationSplit), 64)
	if err != nil {
		return 0, false
	}
	return ratio, true
}

// SetDefaults registers Default() on v
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyBatchSize, d.BatchSize)
	v.SetDefault(KeyNumWorkers, d.NumWorkers)
	v.SetDefault(KeyOutputFolder, d.OutputFolder)
	v.SetDefault(KeyModelSaveFolder, d.ModelSaveFolder)
	v.SetDefault(KeyVisualizationFolder, d.VisualizationFolder)
	v.SetDefault(KeyImageSize, d.ImageSize)
	v.SetDefault(KeyValidationSplit, d.ValidationSplit)
	v.SetDefault(KeyCacheSize, d.CacheSize)
	v.SetDefault(KeySeed, d.Seed)
	v.SetDefault(KeyPretrainedWeights, d.PretrainedWeights)
	v.SetDefault(KeyShowProgress, d.ShowProgress)
	v.SetDefault(KeyOptimizer, d.Optimizer)
	v.SetDefault(KeyScheduler, d.Scheduler)
	v.SetDefault(KeyLearningRate, d.LearningRate)
	v.SetDefault(KeyMomentum, d.Momentum)
}

// New returns a viper instance with defaults and environment binding.
// It does not read any file.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			klog.V(2).Infof("no env file at %s", f)
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
		klog.V(1).Infof("loaded env file %s", f)
	}
	return nil
}

// Load reads settings from v, first merging configFile when it is not empty
func Load(v *viper.Viper, configFile string) (Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		klog.V(1).Infof("using config file %s", v.ConfigFileUsed())
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
