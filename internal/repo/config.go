package repo

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

const (
	// defaultPathName is the default config dir name
	defaultPathName = ".wasmcore"
	// defaultPathRoot is the path to the default config dir location.
	defaultPathRoot = "~/" + defaultPathName
	// envDir is the environment variable used to change the path root.
	envDir = "WASMCORE_PATH"
	// Config name
	configName = "wasmcore.toml"
)

type Config struct {
	RepoRoot string `json:"repo_root"`
	Title    string `json:"title"`
	Backend  `json:"backend"`
	Cache    `json:"cache"`
	Log      `json:"log"`
	Schedule gas.Schedule `toml:"schedule" json:"schedule"`
}

type Backend struct {
	Type string `toml:"type" json:"type"`
}

type Cache struct {
	Size           int           `toml:"size" json:"size"`
	CompileTimeout time.Duration `mapstructure:"compile_timeout" toml:"compile_timeout" json:"compile_timeout"`
}

type Log struct {
	Level        string    `toml:"level" json:"level"`
	Dir          string    `toml:"dir" json:"dir"`
	Filename     string    `toml:"filename" json:"filename"`
	ReportCaller bool      `mapstructure:"report_caller" json:"report_caller"`
	Module       LogModule `toml:"module" json:"module"`
}

type LogModule struct {
	Executor string `toml:"executor" json:"executor"`
	Cache    string `toml:"cache" json:"cache"`
	Backend  string `toml:"backend" json:"backend"`
	Host     string `toml:"host" json:"host"`
}

func (c *Config) Bytes() ([]byte, error) {
	ret, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}

	return ret, nil
}

func DefaultConfig() (*Config, error) {
	return &Config{
		Title: "WasmCore configuration file",
		Backend: Backend{
			Type: "wazero",
		},
		Cache: Cache{
			Size:           256,
			CompileTimeout: 10 * time.Second,
		},
		Log: Log{
			Level:    "info",
			Dir:      "logs",
			Filename: "wasmcore.log",
			Module: LogModule{
				Executor: "info",
				Cache:    "info",
				Backend:  "info",
				Host:     "info",
			},
		},
		Schedule: *gas.DefaultSchedule(),
	}, nil
}

func UnmarshalConfig(vip *viper.Viper, repoRoot string, configPath string) (*Config, error) {
	if len(configPath) == 0 {
		vip.SetConfigFile(filepath.Join(repoRoot, configName))
	} else {
		vip.SetConfigFile(configPath)
	}
	vip.SetConfigType("toml")
	vip.AutomaticEnv()
	vip.SetEnvPrefix("WASMCORE")
	replacer := strings.NewReplacer(".", "_")
	vip.SetEnvKeyReplacer(replacer)
	if err := vip.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("readInConfig error: %w", err)
	}

	config, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	if err := vip.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}

	if err := config.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	config.RepoRoot = repoRoot
	return config, nil
}
