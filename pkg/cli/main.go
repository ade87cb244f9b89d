// Package cli builds the uowctl command tree: migrations, transactional
// statements, health probes and configuration inspection over one
// unit-of-work context.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	climigrate "github.com/nimburion/unitofwork/pkg/cli/migrate"
	"github.com/nimburion/unitofwork/pkg/config"
	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/version"
)

const (
	policiesAnnotationPrefix = "policies."
	defaultPolicyContext     = "run"
)

// CommandPolicy tells deployment tooling when a command may run.
type CommandPolicy string

const (
	PolicyAlways    CommandPolicy = "always"
	PolicyNever     CommandPolicy = "never"
	PolicyOnce      CommandPolicy = "once"
	PolicyMigration CommandPolicy = "migration"
	PolicyRun       CommandPolicy = "run"
	PolicyManual    CommandPolicy = "manual"
	PolicyOnDemand  CommandPolicy = "on_demand"
)

// Options configures the command tree.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: runs after the built-in validation.
	ValidateConfig func(cfg *config.Config) error

	// Optional: overrides store.NewDatabase.
	OpenDatabase DatabaseOpener

	// Optional: additional commands.
	CustomCommands []*cobra.Command

	// Optional: defaults to the command's output stream.
	Stdout io.Writer
}

type rootFlags struct {
	configPath  string
	secretFile  string
	serviceName string
}

// NewServiceCommand creates the root command with version, config, migrate,
// exec, query, health and metrics subcommands.
func NewServiceCommand(opts Options) *cobra.Command {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "APP"
	}
	if opts.Name == "" {
		opts.Name = "uowctl"
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	SetCommandPolicies(rootCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	flags := &rootFlags{}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&flags.secretFile, "secret-file", "", "path to secrets file (sets APP_SECRETS_FILE)")
	rootCmd.PersistentFlags().StringVar(&flags.serviceName, "service-name", "", "service name override")

	env := &commandEnv{opts: opts, flags: flags}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			out := env.stdout(cmd)
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
		},
	}
	SetCommandPolicies(versionCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(newConfigCommand(env))

	migrateCmd := climigrate.NewCommand(climigrate.CommandOptions{
		ServiceName: opts.Name,
		Stdout:      opts.Stdout,
		Open:        env.migrationTarget,
	})
	SetCommandPolicies(migrateCmd, map[string]CommandPolicy{"migration": PolicyMigration})
	for _, sub := range migrateCmd.Commands() {
		policy := PolicyRun
		if sub.Name() == "down" {
			policy = PolicyOnce
		}
		SetCommandPolicies(sub, map[string]CommandPolicy{"migration": policy})
	}
	rootCmd.AddCommand(migrateCmd)

	rootCmd.AddCommand(
		newExecCommand(env),
		newQueryCommand(env),
		newHealthCommand(env),
		newMetricsCommand(env),
	)

	for _, customCmd := range opts.CustomCommands {
		ensureDefaultPolicy(customCmd)
		rootCmd.AddCommand(customCmd)
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = false
	rootCmd.InitDefaultCompletionCmd()
	for _, subCmd := range rootCmd.Commands() {
		if subCmd != nil && subCmd.Name() == "completion" {
			SetCommandPolicies(subCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
			break
		}
	}

	return rootCmd
}

// commandEnv resolves configuration and runtimes for subcommands.
type commandEnv struct {
	opts  Options
	flags *rootFlags
}

func (e *commandEnv) stdout(cmd *cobra.Command) io.Writer {
	if e.opts.Stdout != nil {
		return e.opts.Stdout
	}
	return cmd.OutOrStdout()
}

func (e *commandEnv) loadConfig() (*config.Config, *config.Config, logger.Logger, error) {
	return LoadConfigAndLogger(e.flags.configPath, e.opts.EnvPrefix, e.flags.secretFile, e.opts.ValidateConfig, e.opts.Name, e.flags.serviceName)
}

func (e *commandEnv) openRuntime(cmd *cobra.Command, adjust ...func(*config.Config)) (*Runtime, error) {
	cfg, _, log, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	for _, fn := range adjust {
		fn(cfg)
	}
	return OpenRuntime(commandContext(cmd), cfg, log, e.opts.OpenDatabase)
}

func (e *commandEnv) migrationTarget(cmd *cobra.Command) (*climigrate.Target, error) {
	rt, err := e.openRuntime(cmd)
	if err != nil {
		return nil, err
	}
	return &climigrate.Target{
		Provider: rt.Provider,
		Dir:      rt.Config.Migrations.Dir,
		Table:    rt.Config.Migrations.Table,
		Logger:   rt.Logger,
		Close:    func() error { return rt.Close(context.Background()) },
	}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// SetCommandPolicies stores policies as command annotations under the "policies." prefix.
func SetCommandPolicies(cmd *cobra.Command, policies map[string]CommandPolicy) {
	if cmd == nil {
		return
	}
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	for _, key := range policyAnnotationKeys(cmd.Annotations) {
		delete(cmd.Annotations, key)
	}
	for context, policy := range policies {
		trimmedContext := strings.TrimSpace(context)
		if trimmedContext == "" {
			continue
		}
		cmd.Annotations[policiesAnnotationPrefix+trimmedContext] = string(policy)
	}
}

// GetCommandPolicies returns command policies from annotations.
func GetCommandPolicies(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	if cmd == nil {
		return out
	}
	for key, value := range cmd.Annotations {
		if !strings.HasPrefix(key, policiesAnnotationPrefix) {
			continue
		}
		context := strings.TrimPrefix(key, policiesAnnotationPrefix)
		if strings.TrimSpace(context) == "" {
			continue
		}
		out[context] = value
	}
	return out
}

func ensureDefaultPolicy(cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	if len(GetCommandPolicies(cmd)) == 0 {
		SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	}
}

func policyAnnotationKeys(annotations map[string]string) []string {
	keys := make([]string, 0, len(annotations))
	for key := range annotations {
		if strings.HasPrefix(key, policiesAnnotationPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// LoadConfigAndLogger loads configuration (with secrets) and builds the zap
// logger it describes. The second return value holds only the secrets.
func LoadConfigAndLogger(
	cfgPath,
	envPrefix,
	secretFilePath string,
	customValidator func(*config.Config) error,
	defaultServiceName string,
	serviceNameOverride string,
) (*config.Config, *config.Config, logger.Logger, error) {
	if envPrefix == "" {
		envPrefix = "APP"
	}
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, nil, err
	}
	cfg, secrets, err := config.NewViperLoader(cfgPath, envPrefix).
		WithServiceNameDefault(defaultServiceName).
		LoadWithSecrets()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyResolvedServiceName(cfg, defaultServiceName, serviceNameOverride)

	if customValidator != nil {
		if err := customValidator(cfg); err != nil {
			return nil, nil, nil, fmt.Errorf("custom validation failed: %w", err)
		}
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}

	if strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		log.Debug("effective configuration", "config", cfg.Redacted(secrets))
	}
	return cfg, secrets, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

// Execute runs the command and exits with a non-zero code on failure.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "APP"
	}
	return strings.ToUpper(trimmed)
}

func applyResolvedServiceName(cfg *config.Config, defaultServiceName, serviceNameOverride string) {
	if cfg == nil {
		return
	}
	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, defaultServiceName, serviceNameOverride)
}

func resolveServiceNameValue(currentConfigName, defaultServiceName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	if fallback := strings.TrimSpace(defaultServiceName); fallback != "" {
		return fallback
	}
	return "app"
}
