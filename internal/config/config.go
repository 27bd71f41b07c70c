package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	clierr "github.com/solsweep/solsweep/internal/errors"
)

// GlobalFlags carries the raw command-line values before layering.
type GlobalFlags struct {
	ConfigPath  string
	RPCURL      string
	KeypairPath string
	JSON        bool
	Plain       bool
	Verbose     bool
	Timeout     string
	Retries     int
	SlippageBps int
}

// Settings is the effective configuration after defaults, file, environment
// and flags are layered in that order.
type Settings struct {
	RPCURL      string
	KeypairPath string

	OutputMode string
	Verbose    bool

	Timeout time.Duration
	Retries int

	// Pacing intervals between remote calls by weight class.
	PaceLight  time.Duration
	PaceMedium time.Duration
	PaceHeavy  time.Duration

	SlippageBps  int
	MinSwapWorth uint64

	JournalPath     string
	JournalLockPath string

	JupiterAPIKey string
}

type fileConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	Keypair string `yaml:"keypair"`
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Pacing  struct {
		Light  string `yaml:"light"`
		Medium string `yaml:"medium"`
		Heavy  string `yaml:"heavy"`
	} `yaml:"pacing"`
	Swap struct {
		SlippageBps  *int    `yaml:"slippage_bps"`
		MinWorthSOL  *string `yaml:"min_worth_sol"`
		MinWorthLamp *uint64 `yaml:"min_worth_lamports"`
	} `yaml:"swap"`
	Journal struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
	Providers struct {
		Jupiter struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"jupiter"`
	} `yaml:"providers"`
}

// Load resolves the effective settings. A missing config file is fine;
// a missing RPC URL or keypair is a configuration error because every
// command needs the chain.
func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "resolve default paths", err)
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "resolve config path", err)
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.SlippageBps <= 0 {
		settings.SlippageBps = 100
	}

	if strings.TrimSpace(settings.RPCURL) == "" {
		return Settings{}, clierr.New(clierr.CodeConfig, "rpc url is required (flag --rpc-url, env SOLSWEEP_RPC_URL, or config rpc_url)")
	}
	return settings, nil
}

// RequireSigner validates the keypair path for commands that submit
// transactions. Read-only commands skip this.
func (s Settings) RequireSigner() error {
	if strings.TrimSpace(s.KeypairPath) == "" {
		return clierr.New(clierr.CodeConfig, "wallet keypair is required (flag --keypair, env SOLSWEEP_KEYPAIR, or config keypair)")
	}
	if _, err := os.Stat(s.KeypairPath); err != nil {
		return clierr.Wrap(clierr.CodeConfig, "wallet keypair path", err)
	}
	return nil
}

func defaultSettings() (Settings, error) {
	journalPath, lockPath, err := defaultJournalPaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "plain",
		Timeout:         30 * time.Second,
		Retries:         2,
		PaceLight:       200 * time.Millisecond,
		PaceMedium:      500 * time.Millisecond,
		PaceHeavy:       time.Second,
		SlippageBps:     100,
		MinSwapWorth:    150_000_000,
		JournalPath:     journalPath,
		JournalLockPath: lockPath,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "solsweep", "config.yaml"), nil
}

func defaultJournalPaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "solsweep")
	return filepath.Join(dir, "runs.db"), filepath.Join(dir, "runs.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return clierr.Wrap(clierr.CodeConfig, "read config", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return clierr.Wrap(clierr.CodeConfig, "parse config yaml", err)
	}

	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.Keypair != "" {
		settings.KeypairPath = expandHome(cfg.Keypair)
	}
	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return clierr.Wrap(clierr.CodeConfig, "config timeout", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if err := applyPacing(cfg, settings); err != nil {
		return err
	}
	if cfg.Swap.SlippageBps != nil {
		settings.SlippageBps = *cfg.Swap.SlippageBps
	}
	if cfg.Swap.MinWorthLamp != nil {
		settings.MinSwapWorth = *cfg.Swap.MinWorthLamp
	}
	if cfg.Swap.MinWorthSOL != nil {
		sol, err := strconv.ParseFloat(*cfg.Swap.MinWorthSOL, 64)
		if err != nil || sol < 0 {
			return clierr.New(clierr.CodeConfig, "config swap.min_worth_sol must be a non-negative number")
		}
		settings.MinSwapWorth = uint64(sol * 1e9)
	}
	if cfg.Journal.Path != "" {
		settings.JournalPath = cfg.Journal.Path
	}
	if cfg.Journal.LockPath != "" {
		settings.JournalLockPath = cfg.Journal.LockPath
	}
	if cfg.Providers.Jupiter.APIKey != "" {
		settings.JupiterAPIKey = cfg.Providers.Jupiter.APIKey
	}
	if cfg.Providers.Jupiter.APIKeyEnv != "" {
		settings.JupiterAPIKey = os.Getenv(cfg.Providers.Jupiter.APIKeyEnv)
	}
	return nil
}

func applyPacing(cfg fileConfig, settings *Settings) error {
	parse := func(name, v string, dst *time.Duration) error {
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return clierr.New(clierr.CodeConfig, fmt.Sprintf("config pacing.%s must be a non-negative duration", name))
		}
		*dst = d
		return nil
	}
	if err := parse("light", cfg.Pacing.Light, &settings.PaceLight); err != nil {
		return err
	}
	if err := parse("medium", cfg.Pacing.Medium, &settings.PaceMedium); err != nil {
		return err
	}
	return parse("heavy", cfg.Pacing.Heavy, &settings.PaceHeavy)
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("SOLSWEEP_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("SOLSWEEP_KEYPAIR"); v != "" {
		settings.KeypairPath = expandHome(v)
	}
	if v := os.Getenv("SOLSWEEP_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SOLSWEEP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SOLSWEEP_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("SOLSWEEP_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := os.Getenv("SOLSWEEP_JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
	}
	if v := os.Getenv("SOLSWEEP_JOURNAL_LOCK_PATH"); v != "" {
		settings.JournalLockPath = v
	}
	if v := os.Getenv("SOLSWEEP_JUPITER_API_KEY"); v != "" {
		settings.JupiterAPIKey = v
	}
	if v := os.Getenv("SOLSWEEP_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Verbose = b
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return clierr.New(clierr.CodeUsage, "cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.Verbose {
		settings.Verbose = true
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = flags.RPCURL
	}
	if strings.TrimSpace(flags.KeypairPath) != "" {
		settings.KeypairPath = expandHome(flags.KeypairPath)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return clierr.Wrap(clierr.CodeUsage, "parse --timeout", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.SlippageBps > 0 {
		settings.SlippageBps = flags.SlippageBps
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return clierr.New(clierr.CodeUsage, "output must be json or plain")
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
