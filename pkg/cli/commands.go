package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/unitofwork/pkg/config"
	"github.com/nimburion/unitofwork/pkg/health"
	"github.com/nimburion/unitofwork/pkg/migrate"
	"github.com/nimburion/unitofwork/pkg/uow"
)

var errDryRun = errors.New("dry run")

func newConfigCommand(env *commandEnv) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}
	SetCommandPolicies(configCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, _, err := env.loadConfig(); err != nil {
				return err
			}
			fmt.Fprintln(env.stdout(cmd), "✓ Configuration is valid")
			return nil
		},
	}
	SetCommandPolicies(validateCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, _, err := env.loadConfig()
			if err != nil {
				return err
			}
			if showSecrets {
				fmt.Fprint(env.stdout(cmd), cfg.String())
				return nil
			}
			fmt.Fprint(env.stdout(cmd), cfg.Redacted(secrets))
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	SetCommandPolicies(showCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	configCmd.AddCommand(validateCmd, showCmd)
	return configCmd
}

func newExecCommand(env *commandEnv) *cobra.Command {
	var (
		params map[string]string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "exec <statement>",
		Short: "Run a statement inside one transaction",
		Long: "Run a statement inside one unit-of-work transaction. Named parameters are\n" +
			"referenced as @name and bound with --param name=value.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rt, err := env.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, rt.Close(context.Background())) }()

			affected, err := execStatement(commandContext(cmd), rt.Provider, args[0], statementArgs(params), dryRun)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(env.stdout(cmd), "%d row(s) affected (rolled back)\n", affected)
				return nil
			}
			fmt.Fprintf(env.stdout(cmd), "%d row(s) affected\n", affected)
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "named parameter name=value (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "roll the transaction back instead of committing")
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	return cmd
}

// execStatement runs statement as the owner of a fresh transaction. A dry run
// fails the call on purpose so the interceptor rolls it back.
func execStatement(ctx context.Context, p *uow.Provider, statement string, args []any, dryRun bool) (int64, error) {
	var affected int64
	err := p.Scope(ctx, func(ctx context.Context, s *uow.Session) error {
		ic := uow.NewInterceptor(s)
		_, err := uow.Invoke(ctx, ic, uow.Transactional("cli.exec"), func(ctx context.Context) (struct{}, error) {
			n, err := uow.Execute(ctx, s, statement, args...)
			if err != nil {
				return struct{}{}, err
			}
			affected = n
			if dryRun {
				return struct{}{}, errDryRun
			}
			return struct{}{}, nil
		})
		return err
	})
	if dryRun && errors.Is(err, errDryRun) {
		return affected, nil
	}
	return affected, err
}

func newQueryCommand(env *commandEnv) *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "query <statement>",
		Short: "Run a query and print the rows as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rt, err := env.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, rt.Close(context.Background())) }()

			rows, err := queryRows(commandContext(cmd), rt.Provider, args[0], statementArgs(params))
			if err != nil {
				return err
			}
			return writeYAML(env.stdout(cmd), rows)
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "named parameter name=value (repeatable)")
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	return cmd
}

func queryRows(ctx context.Context, p *uow.Provider, statement string, args []any) ([]map[string]any, error) {
	var rows []map[string]any
	err := p.Scope(ctx, func(ctx context.Context, s *uow.Session) error {
		var err error
		rows, err = uow.Invoke(ctx, uow.NewInterceptor(s), uow.Plain("cli.query"), func(ctx context.Context) ([]map[string]any, error) {
			return uow.Query[map[string]any](ctx, s, statement, args...)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
	}
	return rows, nil
}

func newHealthCommand(env *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the database, the pool and a session round-trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rt, err := env.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, rt.Close(context.Background())) }()

			registerMigrationCheck(rt)
			result := rt.Health.Check(commandContext(cmd))
			if err := writeYAML(env.stdout(cmd), result); err != nil {
				return err
			}
			if result.Status == health.StatusUnhealthy {
				return fmt.Errorf("health check failed: %s", result.Status)
			}
			return nil
		},
	}
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	return cmd
}

// registerMigrationCheck reports pending migrations as degraded when a
// migrations directory is present.
func registerMigrationCheck(rt *Runtime) {
	dir := rt.Config.Migrations.Dir
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	rt.Health.RegisterFunc("migrations", func(ctx context.Context) health.CheckResult {
		result := health.CheckResult{Status: health.StatusHealthy, Message: "up to date"}
		manager, err := migrate.NewSQLManager(rt.Provider, os.DirFS(dir), ".",
			migrate.WithTable(rt.Config.Migrations.Table),
			migrate.WithLogger(rt.Logger),
		)
		if err == nil {
			var status *migrate.Status
			if status, err = manager.Status(ctx); err == nil && len(status.Pending) > 0 {
				result.Status = health.StatusDegraded
				result.Message = fmt.Sprintf("%d pending migration(s)", len(status.Pending))
			}
		}
		if err != nil {
			result.Status = health.StatusUnhealthy
			result.Message = ""
			result.Error = err.Error()
		}
		return result
	})
}

func newMetricsCommand(env *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Probe the database once and print the collected metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rt, err := env.openRuntime(cmd, func(cfg *config.Config) {
				cfg.Observability.MetricsEnabled = true
			})
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, rt.Close(context.Background())) }()

			rt.Health.Check(commandContext(cmd))
			return rt.Metrics.WriteText(env.stdout(cmd))
		},
	}
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	return cmd
}

func statementArgs(params map[string]string) []any {
	if len(params) == 0 {
		return nil
	}
	named := make(uow.Params, len(params))
	for k, v := range params {
		named[k] = v
	}
	return []any{named}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc.Close()
}
