package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBodies   = 512
	DefaultRanks    = 1
	DefaultTheta    = 0.5
	DefaultMaxMass  = 0.05
	DefaultLeafCap  = 8
	DefaultDt       = 0.01
	DefaultDuration = 1.0
	DefaultShape    = "sphere"
)

type Config struct {
	Shape    string  `yaml:"shape"`
	Bodies   int     `yaml:"bodies"`
	Ranks    int     `yaml:"ranks"`
	Workers  int     `yaml:"workers"`
	Theta    float64 `yaml:"theta"`
	MaxMass  float64 `yaml:"max_mass"`
	LeafCap  int     `yaml:"leaf_cap"`
	Dt       float64 `yaml:"dt"`
	Duration float64 `yaml:"duration"`
	Seed     int64   `yaml:"seed"`
}

func DefaultConfig() *Config {
	return &Config{
		Shape:    DefaultShape,
		Bodies:   DefaultBodies,
		Ranks:    DefaultRanks,
		Theta:    DefaultTheta,
		MaxMass:  DefaultMaxMass,
		LeafCap:  DefaultLeafCap,
		Dt:       DefaultDt,
		Duration: DefaultDuration,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Bodies < 1 {
		return fmt.Errorf("config: bodies must be at least 1, got %d", c.Bodies)
	}
	if c.Ranks < 1 {
		return fmt.Errorf("config: ranks must be at least 1, got %d", c.Ranks)
	}
	if c.Theta < 0 {
		return fmt.Errorf("config: theta must be non-negative, got %f", c.Theta)
	}
	if c.MaxMass <= 0 {
		return fmt.Errorf("config: max_mass must be positive, got %f", c.MaxMass)
	}
	if c.Dt <= 0 {
		return fmt.Errorf("config: dt must be positive, got %f", c.Dt)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("config: duration must be positive, got %f", c.Duration)
	}
	return nil
}
