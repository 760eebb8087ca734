// config_loader.go: Configuration loading from multiple sources
//
// Precedence mirrors the rest of the AGILira tooling: defaults, then a YAML
// options file, then MLPD_* environment variables. Size-valued options
// accept human units ("64KB", "1MiB") via datasize. There is deliberately no
// hot reload: the delta bases of in-flight buffers make mid-trace option
// flips unsound.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of an options file.
type fileConfig struct {
	Filename        string   `yaml:"filename"`
	Zip             bool     `yaml:"zip"`
	MaxCallDepth    int32    `yaml:"maxcalldepth"`
	MaxFrames       int      `yaml:"maxframes"`
	NoCalls         bool     `yaml:"nocalls"`
	NoTraces        bool     `yaml:"notraces"`
	HeapShot        string   `yaml:"heapshot"`
	Sampling        bool     `yaml:"sample"`
	Counters        bool     `yaml:"counters"`
	Coverage        bool     `yaml:"coverage"`
	CoverageFilters []string `yaml:"covfilter"`
	CommandPort     int      `yaml:"port"`
	QueueCapacity   string   `yaml:"queuesize"`
}

// validateFilePath rejects empty paths and directory traversal.
func validateFilePath(filename string) error {
	if filename == "" {
		return errors.New(ErrCodeInvalidConfig, "empty file path")
	}
	if strings.Contains(filepath.Clean(filename), "..") {
		return errors.New(ErrCodeInvalidConfig, "path contains directory traversal: "+filename)
	}
	return nil
}

// LoadConfigFromYAML loads profiler options from a YAML file.
func LoadConfigFromYAML(filename string) (*Config, error) {
	config := Config{}

	if err := validateFilePath(filename); err != nil {
		return &config, err
	}

	data, err := os.ReadFile(filename) // #nosec G304 -- path validated above
	if err != nil {
		return &config, errors.Wrap(err, ErrCodeInvalidConfig, "failed to read options file")
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return &config, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse options file")
	}

	applyFileConfig(&config, &fc)
	return &config, nil
}

func applyFileConfig(config *Config, fc *fileConfig) {
	config.Filename = fc.Filename
	config.UseZip = fc.Zip
	config.MaxCallDepth = fc.MaxCallDepth
	config.MaxFrames = fc.MaxFrames
	config.NoCalls = fc.NoCalls
	config.NoTraces = fc.NoTraces
	config.Sampling = fc.Sampling
	config.Counters = fc.Counters
	config.Coverage = fc.Coverage
	config.CoverageFilters = fc.CoverageFilters
	config.CommandPort = fc.CommandPort
	applyHeapShotMode(config, fc.HeapShot)
	if fc.QueueCapacity != "" {
		var sz datasize.ByteSize
		if err := sz.UnmarshalText([]byte(fc.QueueCapacity)); err == nil && sz > 0 {
			config.QueueCapacity = nextPow2(int64(sz))
		}
	}
}

// applyHeapShotMode parses the heapshot mode string: "", "ondemand", "Nms"
// or "Ngc".
func applyHeapShotMode(config *Config, mode string) {
	if mode == "" {
		return
	}
	config.DoHeapShot = true
	switch {
	case mode == "ondemand":
		config.HeapShotOnDemand = true
	case strings.HasSuffix(mode, "ms"):
		if n, err := strconv.Atoi(strings.TrimSuffix(mode, "ms")); err == nil && n > 0 {
			config.HeapShotEveryMS = uint(n)
		}
	case strings.HasSuffix(mode, "gc"):
		if n, err := strconv.Atoi(strings.TrimSuffix(mode, "gc")); err == nil && n > 0 {
			config.HeapShotEveryGC = uint(n)
		}
	}
}

// LoadConfigFromEnv loads profiler options from MLPD_* environment
// variables.
func LoadConfigFromEnv() *Config {
	config := Config{}

	if v := os.Getenv("MLPD_OUTPUT"); v != "" {
		config.Filename = v
	}
	if v := os.Getenv("MLPD_ZIP"); v != "" {
		config.UseZip = parseBool(v)
	}
	if v := os.Getenv("MLPD_MAXCALLDEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxCallDepth = int32(n)
		}
	}
	if v := os.Getenv("MLPD_MAXFRAMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxFrames = n
		}
	}
	if v := os.Getenv("MLPD_NOCALLS"); v != "" {
		config.NoCalls = parseBool(v)
	}
	if v := os.Getenv("MLPD_NOTRACES"); v != "" {
		config.NoTraces = parseBool(v)
	}
	if v := os.Getenv("MLPD_HEAPSHOT"); v != "" {
		applyHeapShotMode(&config, v)
	}
	if v := os.Getenv("MLPD_SAMPLE"); v != "" {
		config.Sampling = parseBool(v)
	}
	if v := os.Getenv("MLPD_COUNTERS"); v != "" {
		config.Counters = parseBool(v)
	}
	if v := os.Getenv("MLPD_COVERAGE"); v != "" {
		config.Coverage = parseBool(v)
	}
	if v := os.Getenv("MLPD_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.CommandPort = n
		}
	}
	if v := os.Getenv("MLPD_QUEUESIZE"); v != "" {
		var sz datasize.ByteSize
		if err := sz.UnmarshalText([]byte(v)); err == nil && sz > 0 {
			config.QueueCapacity = nextPow2(int64(sz))
		}
	}

	return &config
}

// LoadConfigMultiSource loads configuration with precedence: environment
// variables over YAML file over defaults.
func LoadConfigMultiSource(yamlFile string) (*Config, error) {
	config := Config{}

	if yamlFile != "" {
		fileCfg, err := LoadConfigFromYAML(yamlFile)
		if err != nil {
			return &config, err
		}
		config = *fileCfg
	}

	env := LoadConfigFromEnv()
	if env.Filename != "" {
		config.Filename = env.Filename
	}
	if env.UseZip {
		config.UseZip = true
	}
	if env.MaxCallDepth > 0 {
		config.MaxCallDepth = env.MaxCallDepth
	}
	if env.MaxFrames > 0 {
		config.MaxFrames = env.MaxFrames
	}
	if env.NoCalls {
		config.NoCalls = true
	}
	if env.NoTraces {
		config.NoTraces = true
	}
	if env.DoHeapShot {
		config.DoHeapShot = true
		config.HeapShotOnDemand = env.HeapShotOnDemand
		config.HeapShotEveryMS = env.HeapShotEveryMS
		config.HeapShotEveryGC = env.HeapShotEveryGC
	}
	if env.Sampling {
		config.Sampling = true
	}
	if env.Counters {
		config.Counters = true
	}
	if env.Coverage {
		config.Coverage = true
	}
	if env.CommandPort != 0 {
		config.CommandPort = env.CommandPort
	}
	if env.QueueCapacity > 0 {
		config.QueueCapacity = env.QueueCapacity
	}

	return &config, nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func nextPow2(v int64) int64 {
	n := int64(1)
	for n < v {
		n <<= 1
	}
	return n
}
