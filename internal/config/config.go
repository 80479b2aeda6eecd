// Package config loads the optimizer's environment-driven tunables: the
// heuristic's matvec/grouping constants and the tensor-core/debug toggles
// tinygrad itself exposes as env vars. Bound through viper the same way the
// rest of the stack binds its runtime settings, so a caller can override any
// of them with either a KOPTC_* env var or a config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the optimizer process's full tunable set.
type Config struct {
	Heuristic HeuristicConfig `mapstructure:"heuristic"`
	Debug     DebugConfig     `mapstructure:"debug"`
	LogLevel  string          `mapstructure:"log_level"`
}

// HeuristicConfig holds the constants hand_coded_optimizations reads to size
// its matvec GROUP/LOCAL/UPCAST triple and decide whether locals are used.
type HeuristicConfig struct {
	MatvecEnabled    bool `mapstructure:"matvec_enabled"`
	MatvecBlockSize  int  `mapstructure:"matvec_blocksize"`
	MatvecThreadsRow int  `mapstructure:"matvec_threads_per_row"`
	MatvecRowsThread int  `mapstructure:"matvec_rows_per_thread"`
	NoLocals         bool `mapstructure:"no_locals"`
}

// DebugConfig holds the tensor-core selection overrides and process-replay
// capture toggle.
type DebugConfig struct {
	Debug                int  `mapstructure:"debug"`
	TCSelect             int  `mapstructure:"tc_select"`
	TCOpt                int  `mapstructure:"tc_opt"`
	UseTC                int  `mapstructure:"use_tc"`
	AMX                  bool `mapstructure:"amx"`
	CaptureProcessReplay bool `mapstructure:"capture_process_replay"`
	Viz                  bool `mapstructure:"viz"`
}

// LoadOptions parametrizes Load the same way the rest of the stack's
// Cmd/ConfigFile/Defaults trio does.
type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// DefaultConfig mirrors tinygrad's own getenv() defaults for these knobs.
func DefaultConfig() Config {
	return Config{
		Heuristic: HeuristicConfig{
			MatvecEnabled:    true,
			MatvecBlockSize:  4,
			MatvecThreadsRow: 8,
			MatvecRowsThread: 4,
			NoLocals:         false,
		},
		Debug: DebugConfig{
			Debug:                0,
			TCSelect:             -1,
			TCOpt:                0,
			UseTC:                0,
			AMX:                  false,
			CaptureProcessReplay: false,
			Viz:                  false,
		},
		LogLevel: "info",
	}
}

// RegisterFlags wires every tunable as a pflag, so a CLI can override it
// positionally as well as through the environment.
func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.Bool("matvec", defaults.Heuristic.MatvecEnabled, "Enable the matvec GROUP/LOCAL/UPCAST heuristic")
	fs.Int("matvec-blocksize", defaults.Heuristic.MatvecBlockSize, "LOCAL block size the matvec heuristic assigns")
	fs.Int("matvec-threads-per-row", defaults.Heuristic.MatvecThreadsRow, "GROUP amount the matvec heuristic assigns")
	fs.Int("matvec-rows-per-thread", defaults.Heuristic.MatvecRowsThread, "UPCAST amount the matvec heuristic assigns")
	fs.Bool("no-locals", defaults.Heuristic.NoLocals, "Apply NOLOCALS in the heuristic's final locals step when no local axis has been assigned")
	fs.Int("debug", defaults.Debug.Debug, "Optimizer debug verbosity")
	fs.Int("tc-select", defaults.Debug.TCSelect, "Tensor-core index to force (-1 = try all)")
	fs.Int("tc-opt", defaults.Debug.TCOpt, "Tensor-core opt level (0, 1, or 2)")
	fs.Int("use-tc", defaults.Debug.UseTC, "Tensor-core usage mode (0=off, 1=WMMA, 2=shape-only, 3=emulated)")
	fs.Bool("amx", defaults.Debug.AMX, "Prefer AMX-style tensor cores where available")
	fs.Bool("capture-process-replay", defaults.Debug.CaptureProcessReplay, "Record every optimize() call to the process-replay store")
	fs.Bool("viz", defaults.Debug.Viz, "Emit intermediate kernel states for visualization")
	fs.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
}

// Load assembles the final Config. In descending precedence: flags, the
// environment (KOPTC_* or the legacy bare names), a config file, defaults.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v, opts.Defaults)
	registerAliases(v)

	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix("KOPTC")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := bindLegacyEnvAliases(v); err != nil {
		return Config{}, err
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("koptc")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// bindLegacyEnvAliases binds tinygrad's bare env-var names (MV, TC_SELECT,
// ...) alongside the KOPTC_-prefixed ones, so a config ported from the
// original tool keeps working unmodified.
func bindLegacyEnvAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"heuristic.matvec_enabled":     {"MV"},
		"heuristic.matvec_blocksize":   {"MV_BLOCKSIZE"},
		"heuristic.matvec_threads_per_row": {"MV_THREADS_PER_ROW"},
		"heuristic.matvec_rows_per_thread": {"MV_ROWS_PER_THREAD"},
		"heuristic.no_locals":          {"NOLOCALS"},
		"debug.debug":                  {"DEBUG"},
		"debug.tc_select":              {"TC_SELECT"},
		"debug.tc_opt":                 {"TC_OPT"},
		"debug.use_tc":                 {"USE_TC"},
		"debug.amx":                    {"AMX"},
		"debug.capture_process_replay": {"CAPTURE_PROCESS_REPLAY"},
		"debug.viz":                    {"VIZ"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("heuristic.matvec_enabled", c.Heuristic.MatvecEnabled)
	v.SetDefault("heuristic.matvec_blocksize", c.Heuristic.MatvecBlockSize)
	v.SetDefault("heuristic.matvec_threads_per_row", c.Heuristic.MatvecThreadsRow)
	v.SetDefault("heuristic.matvec_rows_per_thread", c.Heuristic.MatvecRowsThread)
	v.SetDefault("heuristic.no_locals", c.Heuristic.NoLocals)
	v.SetDefault("debug.debug", c.Debug.Debug)
	v.SetDefault("debug.tc_select", c.Debug.TCSelect)
	v.SetDefault("debug.tc_opt", c.Debug.TCOpt)
	v.SetDefault("debug.use_tc", c.Debug.UseTC)
	v.SetDefault("debug.amx", c.Debug.AMX)
	v.SetDefault("debug.capture_process_replay", c.Debug.CaptureProcessReplay)
	v.SetDefault("debug.viz", c.Debug.Viz)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("heuristic.matvec_enabled", "matvec")
	v.RegisterAlias("heuristic.matvec_blocksize", "matvec-blocksize")
	v.RegisterAlias("heuristic.matvec_threads_per_row", "matvec-threads-per-row")
	v.RegisterAlias("heuristic.matvec_rows_per_thread", "matvec-rows-per-thread")
	v.RegisterAlias("heuristic.no_locals", "no-locals")
	v.RegisterAlias("debug.debug", "debug")
	v.RegisterAlias("debug.tc_select", "tc-select")
	v.RegisterAlias("debug.tc_opt", "tc-opt")
	v.RegisterAlias("debug.use_tc", "use-tc")
	v.RegisterAlias("debug.amx", "amx")
	v.RegisterAlias("debug.capture_process_replay", "capture-process-replay")
	v.RegisterAlias("debug.viz", "viz")
	v.RegisterAlias("log_level", "log-level")
}
