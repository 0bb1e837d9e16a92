// Package config loads config.yaml and applies defaults and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"CropDetServer/engine"
	iface "CropDetServer/interface"
	"CropDetServer/llm"
	"CropDetServer/logger"
)

type Config struct {
	HTTPPort      int    `yaml:"httpPort" validate:"min=1,max=65535"`
	RPCPort       int    `yaml:"RPCPort" validate:"min=0,max=65535"`
	AdhocPort     int    `yaml:"AdhocPort" validate:"min=0,max=65535"`
	WorkersNum    int    `yaml:"workersNum" validate:"min=1"`
	UseRegServer  bool   `yaml:"UseRegServer"`
	RegServerHost string `yaml:"RegServerHost" validate:"required_if=UseRegServer true"`
	RegServerPort int    `yaml:"RegServerPort" validate:"required_if=UseRegServer true,max=65535"`

	UploadDir      string `yaml:"uploadDir" validate:"required"`
	MaxUploadMB    int    `yaml:"maxUploadMB" validate:"min=1"`
	ModelStateFile string `yaml:"modelStateFile" validate:"required"`
	LLMStateFile   string `yaml:"llmStateFile" validate:"required"`
	// FallbackModel names the classifier used when the active detector fails.
	FallbackModel string `yaml:"fallbackModel"`
	VideoStride   int    `yaml:"videoStride" validate:"min=1"`

	Engine engine.Options          `yaml:"engine"`
	LLM    llm.Options             `yaml:"llm"`
	Models []iface.ModelDescriptor `yaml:"models" validate:"min=1,dive"`
	LLMs   []llm.Info              `yaml:"llms" validate:"min=1,dive"`
	Log    logger.Options          `yaml:"log"`
}

// DefaultModels is the built-in catalog: a detector plus a legacy classifier.
func DefaultModels() []iface.ModelDescriptor {
	return []iface.ModelDescriptor{
		{
			ID:          "auraa-fs-2.1",
			Name:        "Auraa fs - 2.1 (Wheat/Pest)",
			Version:     "2.1",
			Kind:        iface.KindPrimary,
			Runtime:     iface.RuntimeMock,
			Path:        "model/best_wheat_yolo.onnx",
			Description: "Latest high-performance model for wheat diseases and pests. Uses YOLOv8/v11 architecture.",
			Enabled:     true,
		},
		{
			ID:          "auraa-fs-1.3",
			Name:        "Auraa fs - 1.3 (Legacy)",
			Version:     "1.3",
			Kind:        iface.KindSecondary,
			Runtime:     iface.RuntimeMock,
			Path:        "model/model_new.tflite",
			Description: "Legacy TensorFlow Lite model. Lower accuracy but works as a stable backup.",
			Enabled:     true,
		},
	}
}

func Default() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.HTTPPort == 0 {
		c.HTTPPort = 5000
	}
	if c.WorkersNum <= 0 {
		c.WorkersNum = 1
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 50
	}
	if c.ModelStateFile == "" {
		c.ModelStateFile = "models.json"
	}
	if c.LLMStateFile == "" {
		c.LLMStateFile = "llm_config.json"
	}
	if c.VideoStride <= 0 {
		c.VideoStride = 2
	}
	if len(c.Models) == 0 {
		c.Models = DefaultModels()
	}
	for i := range c.Models {
		if c.Models[i].Runtime == "" {
			c.Models[i].Runtime = iface.RuntimeMock
		}
		if c.Models[i].Kind == "" {
			c.Models[i].Kind = iface.KindPrimary
		}
	}
	if len(c.LLMs) == 0 {
		c.LLMs = llm.DefaultCatalog()
	}
	if c.FallbackModel == "" {
		for _, m := range c.Models {
			if m.Kind == iface.KindSecondary && m.Enabled {
				c.FallbackModel = m.ID
				break
			}
		}
	}
}

// applyEnv lets a handful of environment variables win over the file.
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.HTTPPort = port
	}
	if v := os.Getenv("YOLO_CONF_THRESH"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("YOLO_CONF_THRESH: %w", err)
		}
		c.Engine.ConfThreshold = float32(f)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges and catalog consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	enabled := 0
	for _, m := range c.Models {
		if m.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return errors.New("invalid config: every model is disabled")
	}
	if c.FallbackModel != "" {
		found := false
		for _, m := range c.Models {
			if m.ID == c.FallbackModel {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("invalid config: fallbackModel %q is not in the catalog", c.FallbackModel)
		}
	}
	return nil
}

// Load reads path. A missing file yields the built-in defaults.
func Load(path string) (Config, error) {
	c := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.S().Warnf("config file %s not found, using defaults", path)
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyDefaults()
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	if cpu := runtime.NumCPU(); c.WorkersNum > cpu {
		logger.S().Warnf("workersNum %d exceeds %d CPU cores, which may lead to performance degradation", c.WorkersNum, cpu)
	}
	return c, nil
}
