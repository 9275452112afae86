// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


// Package config loads fusion settings from YAML files, falling back to defaults.
// Command line flags are layered on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
	"github.com/mlnoga/fuselight/internal/ops/align"
	"github.com/mlnoga/fuselight/internal/ops/ref"
	"github.com/mlnoga/fuselight/internal/register"
	"github.com/mlnoga/fuselight/internal/weight"
)

// Settings for one fusion scenario
type FuseConfig struct {
	Levels      int            `yaml:"levels"`
	Weights     weight.Params  `yaml:"weights"`
	Reference   ref.RefSelMode `yaml:"reference"`
	ReferenceID int            `yaml:"referenceID"`  // used with reference mode fileID
}

// ECC alignment settings
type AlignConfig struct {
	Enabled       bool                   `yaml:"enabled"`
	Eps           float64                `yaml:"eps"`
	MaxIter       int                    `yaml:"maxIter"`
	GaussFiltSize int                    `yaml:"gaussFiltSize"`
	Threshold     float32                `yaml:"threshold"`
	OutOfBounds   align.OutOfBoundsMode  `yaml:"outOfBounds"`
}

// Output and debug dump settings. Empty patterns disable the respective dump
type OutputConfig struct {
	Quality        int     `yaml:"quality"`
	HDRScale       float32 `yaml:"hdrScale"`
	AlignedPattern string  `yaml:"alignedPattern"`
	WeightPattern  string  `yaml:"weightPattern"`
	PyramidPattern string  `yaml:"pyramidPattern"`
}

// HTTP API settings
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Sandbox string `yaml:"sandbox"`  // directory to serve from, empty=current directory
}

// Application configuration loaded from YAML
type Config struct {
	Focus   FuseConfig   `yaml:"focus"`
	HDR     FuseConfig   `yaml:"hdr"`
	Align   AlignConfig  `yaml:"align"`
	Output  OutputConfig `yaml:"output"`
	Server  ServerConfig `yaml:"server"`
	Threads int          `yaml:"threads"`  // 0=auto
}

// Returns a configuration with default values
func DefaultConfig() *Config {
	cfg:=&Config{}

	cfg.Focus=FuseConfig{Levels: 3, Weights: weight.DefaultParams(weight.Focus), Reference: ref.RFMFirst}
	cfg.HDR  =FuseConfig{Levels: 5, Weights: weight.DefaultParams(weight.Exposure), Reference: ref.RFMMiddleExposure}

	p:=register.DefaultParams()
	cfg.Align=AlignConfig{
		Enabled       : true,
		Eps           : p.Eps,
		MaxIter       : p.MaxIter,
		GaussFiltSize : p.GaussFiltSize,
		Threshold     : 1,
		OutOfBounds   : align.OOBModeBlack,
	}

	cfg.Output=OutputConfig{Quality: 95, HDRScale: 255}
	cfg.Server=ServerConfig{Address: "localhost", Port: 8080}
	return cfg
}

// Loads configuration from a YAML file. If the file doesn't exist, returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg:=DefaultConfig()
	if configPath=="" { return cfg, nil }

	if _, err:=os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}
	data, err:=os.ReadFile(configPath)
	if err!=nil { return nil, fmt.Errorf("error reading config file: %w", err) }
	if err:=yaml.Unmarshal(data, cfg); err!=nil { return nil, fmt.Errorf("error parsing config file: %w", err) }
	if err:=cfg.Validate(); err!=nil { return nil, fmt.Errorf("invalid config file %s: %w", configPath, err) }
	return cfg, nil
}

// Saves the configuration to a YAML file, creating the directory if needed
func SaveConfig(cfg *Config, configPath string) error {
	if err:=os.MkdirAll(filepath.Dir(configPath), 0755); err!=nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err:=yaml.Marshal(cfg)
	if err!=nil { return fmt.Errorf("error marshaling config: %w", err) }
	if err:=os.WriteFile(configPath, data, 0644); err!=nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Checks all sections for consistency
func (cfg *Config) Validate() error {
	for name, f:=range map[string]FuseConfig{"focus": cfg.Focus, "hdr": cfg.HDR} {
		if f.Levels<0 { return fmt.Errorf("%s: negative levels %d", name, f.Levels) }
		if err:=f.Weights.Validate(); err!=nil { return fmt.Errorf("%s: %w", name, err) }
	}
	if err:=cfg.Align.Params().Validate(); err!=nil { return fmt.Errorf("align: %w", err) }
	if cfg.Output.Quality<1 || cfg.Output.Quality>100 { return fmt.Errorf("output: JPEG quality %d outside 1..100", cfg.Output.Quality) }
	if cfg.Threads<0 { return fmt.Errorf("negative threads %d", cfg.Threads) }
	return nil
}

// Returns the registration parameters of the alignment section
func (a AlignConfig) Params() register.Params {
	p:=register.DefaultParams()
	p.Eps, p.MaxIter, p.GaussFiltSize=a.Eps, a.MaxIter, a.GaussFiltSize
	return p
}
