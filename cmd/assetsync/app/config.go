package app

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/reconciler"
	"github.com/agentstation/assetsync/pkg/tree"
)

// EnvPrefix prefixes every environment variable read into the config.
const EnvPrefix = "ASSETSYNC"

// Config holds the application configuration loaded from various sources
// including config files, environment variables, and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Sources
	Sources        []string
	EnvironmentDir string
	RequestTimeout time.Duration
	PageSize       int
	Headers        map[string]string

	// Reconciliation
	OnlySubmodels         bool
	ExposeSelfDescription bool
	DefaultAccessPolicy   string
	DefaultContractPolicy string
	PolicyBindings        map[string]tree.Policies
	DuplicatePolicy       string

	// Registry
	Registry     string
	RegistryPath string

	// Metrics
	MetricsAddr string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string

	v          *viper.Viper
	syncPeriod atomic.Int64
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables (ASSETSYNC_*)
// 3. .env files
// 4. Config file (~/.assetsync.yaml)
// 5. Defaults
func LoadConfig() (*Config, error) {
	return loadConfig(os.Getenv(EnvPrefix + "_CONFIG"))
}

func loadConfig(configFile string) (*Config, error) {
	// Load .env files first (before Viper env binding)
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".assetsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.NewConfigError("config", "failed to read "+configFile, err)
		}
	}

	config := &Config{
		ConfigFile: v.ConfigFileUsed(),
		v:          v,
	}
	if err := config.read(); err != nil {
		return nil, err
	}
	return config, nil
}

// setDefaults registers the default of every key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("sync_period", constants.DefaultSyncPeriod)
	v.SetDefault("only_submodels", true)
	v.SetDefault("expose_self_description", true)
	v.SetDefault("default_access_policy", constants.DefaultAccessPolicyID)
	v.SetDefault("default_contract_policy", constants.DefaultContractPolicyID)
	v.SetDefault("duplicate_policy", tree.LastWins.String())
	v.SetDefault("registry", constants.DefaultRegistry)
	v.SetDefault("registry_path", constants.DefaultRegistryPath)
	v.SetDefault("request_timeout", constants.DefaultHTTPTimeout)
	v.SetDefault("page_size", constants.DefaultPageSize)
	v.SetDefault("shutdown_timeout", constants.ShutdownTimeout)
	v.SetDefault("log_format", "auto")
	v.SetDefault("log_output", "stderr")
}

// read copies the viper state into c. It is called again when the config
// file changes.
func (c *Config) read() error {
	v := c.v

	period := v.GetDuration("sync_period")
	if period < constants.MinSyncPeriod {
		return &errors.ValidationError{
			Field:   "sync_period",
			Value:   period,
			Message: "must be at least " + constants.MinSyncPeriod.String(),
		}
	}
	c.syncPeriod.Store(int64(period))

	bindings, err := readBindings(v)
	if err != nil {
		return err
	}
	if _, err := tree.ParseDuplicatePolicy(v.GetString("duplicate_policy")); err != nil {
		return &errors.ValidationError{
			Field:   "duplicate_policy",
			Value:   v.GetString("duplicate_policy"),
			Message: err.Error(),
		}
	}

	logCfg := logging.Config{Format: v.GetString("log_format")}
	if err := logCfg.Validate(); err != nil {
		return err
	}

	c.Verbose = v.GetBool("verbose")
	c.Quiet = v.GetBool("quiet")
	c.NoColor = v.GetBool("no_color")
	c.Format = v.GetString("format")

	c.Sources = v.GetStringSlice("sources")
	c.EnvironmentDir = v.GetString("environment_files")
	c.RequestTimeout = v.GetDuration("request_timeout")
	c.PageSize = v.GetInt("page_size")
	c.Headers = v.GetStringMapString("headers")

	c.OnlySubmodels = v.GetBool("only_submodels")
	c.ExposeSelfDescription = v.GetBool("expose_self_description")
	c.DefaultAccessPolicy = v.GetString("default_access_policy")
	c.DefaultContractPolicy = v.GetString("default_contract_policy")
	c.PolicyBindings = bindings
	c.DuplicatePolicy = v.GetString("duplicate_policy")

	c.Registry = v.GetString("registry")
	c.RegistryPath = v.GetString("registry_path")
	c.MetricsAddr = v.GetString("metrics_addr")

	c.LogLevel = v.GetString("log_level")
	c.LogFormat = v.GetString("log_format")
	c.LogOutput = v.GetString("log_output")
	return nil
}

// bindingConfig is one entry of policy_bindings. A list is used instead of
// a map because viper lowercases map keys and chain keys are case sensitive.
type bindingConfig struct {
	Chain         string `mapstructure:"chain"`
	tree.Policies `mapstructure:",squash"`
}

// readBindings reads policy_bindings into a table keyed by chain key.
func readBindings(v *viper.Viper) (map[string]tree.Policies, error) {
	var entries []bindingConfig
	if err := v.UnmarshalKey("policy_bindings", &entries); err != nil {
		return nil, errors.NewConfigError("policy_bindings",
			"expected a list of chain, access_policy and contract_policy", err)
	}
	bindings := make(map[string]tree.Policies, len(entries))
	for _, e := range entries {
		chain, err := tree.ParseKey(e.Chain)
		if err != nil {
			return nil, &errors.ValidationError{
				Field:   "policy_bindings",
				Value:   e.Chain,
				Message: err.Error(),
			}
		}
		bindings[chain.Key()] = e.Policies
	}
	return bindings, nil
}

// SyncPeriod returns the current interval between periodic cycles. It
// follows config file reloads and is safe for concurrent use.
func (c *Config) SyncPeriod() time.Duration {
	return time.Duration(c.syncPeriod.Load())
}

// ShutdownTimeout returns how long to wait for running cycles on exit.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.v == nil {
		return constants.ShutdownTimeout
	}
	return c.v.GetDuration("shutdown_timeout")
}

// Reconciler returns the reconciliation settings.
func (c *Config) Reconciler() reconciler.Config {
	cfg := reconciler.DefaultConfig()
	cfg.OnlySubmodels = c.OnlySubmodels
	cfg.ExposeSelfDescription = c.ExposeSelfDescription
	if p, err := tree.ParseDuplicatePolicy(c.DuplicatePolicy); err == nil {
		cfg.Duplicates = p
	}
	cfg.Bindings = tree.NewStaticBindings(tree.Policies{
		AccessPolicyID:   c.DefaultAccessPolicy,
		ContractPolicyID: c.DefaultContractPolicy,
	}, c.PolicyBindings)
	return cfg
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// reloadSyncPeriod re-reads the live keys after the config file changed.
// Other keys apply on the next start.
func (c *Config) reloadSyncPeriod() (time.Duration, error) {
	period := c.v.GetDuration("sync_period")
	if period < constants.MinSyncPeriod {
		return c.SyncPeriod(), &errors.ValidationError{
			Field:   "sync_period",
			Value:   period,
			Message: "must be at least " + constants.MinSyncPeriod.String(),
		}
	}
	c.syncPeriod.Store(int64(period))
	return period, nil
}
