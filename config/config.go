package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

// Seal mechanism selectors.
const (
	MechanismPoW = "pow"
	MechanismPoA = "poa"
)

// AppConfig is the node configuration for the chain.
type AppConfig struct {
	// How many leading zero bits to form a valid PoW seal.
	Difficulty uint `mapstructure:"difficulty" yaml:"difficulty"`
	// Which seal mechanism to run: "pow" or "poa".
	Mechanism string `mapstructure:"mechanism" yaml:"mechanism"`
	// Path to the authority's PEM key. PoA only.
	AuthorityKeyFile string `mapstructure:"authority_key_file" yaml:"authority_key_file"`
	// How many parallel nonce-search workers the miner runs.
	MinerWorkers int `mapstructure:"miner_workers" yaml:"miner_workers"`
	// Where the block store keeps its data.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// Listen address for the prometheus endpoint. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// Load reads the configuration from the given file, falling back to a
// toychain.yaml in the working directory, with TOYCHAIN_* environment
// variables overriding either.
func Load(path string) (AppConfig, error) {
	v := viper.New()
	v.SetDefault("difficulty", 16)
	v.SetDefault("mechanism", MechanismPoW)
	v.SetDefault("miner_workers", 4)
	v.SetDefault("data_dir", "toychain-data")
	v.SetDefault("metrics_addr", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("toychain")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("TOYCHAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return AppConfig{}, errors.Wrap(err, "read config")
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, errors.Wrap(err, "unmarshal config")
	}
	if cfg.Mechanism != MechanismPoW && cfg.Mechanism != MechanismPoA {
		return AppConfig{}, errors.Errorf("unknown mechanism %q", cfg.Mechanism)
	}
	return cfg, nil
}

// String renders the effective configuration as YAML.
func (c AppConfig) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(out)
}
