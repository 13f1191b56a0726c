package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

type Repo struct {
	Config *Config
}

func Load(repoRoot string, configPath string) (*Repo, error) {
	config, err := UnmarshalConfig(viper.New(), repoRoot, configPath)
	if err != nil {
		return nil, err
	}

	return &Repo{Config: config}, nil
}

// PathRoot returns the configuration directory: the WASMCORE_PATH
// environment variable when set, ~/.wasmcore otherwise.
func PathRoot() (string, error) {
	dir := os.Getenv(envDir)
	var err error
	if len(dir) == 0 {
		dir, err = homedir.Expand(defaultPathRoot)
	}
	return dir, err
}

// PathRootWithDefault returns path when non-empty, the default root
// otherwise.
func PathRootWithDefault(path string) (string, error) {
	if len(path) == 0 {
		return PathRoot()
	}

	return path, nil
}

// Initialize creates the repo directory with a default config file.
func Initialize(repoRoot string) error {
	if err := os.MkdirAll(repoRoot, 0755); err != nil {
		return err
	}

	config, err := DefaultConfig()
	if err != nil {
		return err
	}

	return writeConfig(filepath.Join(repoRoot, configName), config)
}

// Initialized reports whether the repo directory holds a config file.
func Initialized(repoRoot string) bool {
	_, err := os.Stat(filepath.Join(repoRoot, configName))
	return err == nil
}

func writeConfig(path string, config *Config) error {
	s := config.Schedule
	content := fmt.Sprintf(`title = "%s"

[backend]
type = "%s"

[cache]
size = %d
compile_timeout = "%s"

[log]
level = "%s"
dir = "%s"
filename = "%s"
report_caller = %t

[log.module]
executor = "%s"
cache = "%s"
backend = "%s"
host = "%s"

[schedule]
version = %d
base_fee = %d
method_lookup_fee = %d
regular_op = %d
memory_grow_page = %d
stack_frame = %d
context_read = %d
max_memory_pages = %d
max_stack_depth = %d
`,
		config.Title,
		config.Backend.Type,
		config.Cache.Size, config.Cache.CompileTimeout,
		config.Log.Level, config.Log.Dir, config.Log.Filename, config.Log.ReportCaller,
		config.Log.Module.Executor, config.Log.Module.Cache, config.Log.Module.Backend, config.Log.Module.Host,
		s.Version, s.BaseFee, s.MethodLookupFee, s.RegularOp, s.MemoryGrowPage,
		s.StackFrame, s.ContextRead, s.MaxMemoryPages, s.MaxStackDepth,
	)

	return os.WriteFile(path, []byte(content), 0644)
}
