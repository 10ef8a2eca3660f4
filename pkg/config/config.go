// Package config loads the two external configuration inputs: a YAML main
// configuration (pack geometry, transport endpoint/credentials, balancer
// and safety tuning overrides) and an INI slave-mapping file (physical
// slave hardware id -> logical module index plus optional measurer flags).
// Neither file format nor its loading is part of the in-memory pack model
// itself; this package is the narrow external collaborator the core is
// handed the result of.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TransportConfig carries the slave message-bus endpoint and credentials.
type TransportConfig struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// BalancerConfig overrides the balancer's built-in tuning defaults. Zero
// values mean "use the built-in default" and are filled in by
// ApplyDefaults.
type BalancerConfig struct {
	MinDiffForBalancing float64 `yaml:"min_diff_for_balancing"`
	MaxDiffForBalancing float64 `yaml:"max_diff_for_balancing"`
	RelaxTimeSeconds    float64 `yaml:"relax_time_seconds"`
}

// SafetyConfig holds debounce threshold values for the safety supervisor.
// They are parsed and defaulted here only: the supervisor uses its own
// CriticalCounterThreshold/ImplausibleCounterThreshold constants and does
// not read these fields.
type SafetyConfig struct {
	CriticalCounterThreshold    int `yaml:"critical_counter_threshold"`
	ImplausibleCounterThreshold int `yaml:"implausible_counter_threshold"`
}

// Config is the top-level YAML document.
type Config struct {
	NumberOfBatteryModules int `yaml:"number_of_battery_modules"`
	NumberOfSerialCells    int `yaml:"number_of_serial_cells"`

	Transport TransportConfig `yaml:"transport"`
	Balancer  BalancerConfig  `yaml:"balancer"`
	Safety    SafetyConfig    `yaml:"safety"`

	SlaveMappingPath string `yaml:"slave_mapping_path"`
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.NumberOfBatteryModules <= 0 || cfg.NumberOfSerialCells <= 0 {
		return nil, fmt.Errorf("config: %s must set number_of_battery_modules and number_of_serial_cells", path)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero-valued overrides with the built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.Balancer.MinDiffForBalancing == 0 {
		c.Balancer.MinDiffForBalancing = 0.003
	}
	if c.Balancer.MaxDiffForBalancing == 0 {
		c.Balancer.MaxDiffForBalancing = 0.5
	}
	if c.Balancer.RelaxTimeSeconds == 0 {
		c.Balancer.RelaxTimeSeconds = 20
	}
	if c.Safety.CriticalCounterThreshold == 0 {
		c.Safety.CriticalCounterThreshold = 4
	}
	if c.Safety.ImplausibleCounterThreshold == 0 {
		c.Safety.ImplausibleCounterThreshold = 20
	}
}
