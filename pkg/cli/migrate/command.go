// Package migrate provides the "migrate" command tree.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/unitofwork/pkg/migrate"
	"github.com/nimburion/unitofwork/pkg/observability/logger"
)

// Target is the migration backend a command runs against.
type Target struct {
	Provider migrate.SessionProvider
	Dir      string
	Table    string
	Logger   logger.Logger
	Close    func() error
}

// TargetOpener resolves the migration target for a command invocation.
type TargetOpener func(cmd *cobra.Command) (*Target, error)

// CommandOptions configures the migrate command tree.
type CommandOptions struct {
	ServiceName string
	Open        TargetOpener
	Stdout      io.Writer
}

// NewCommand creates "migrate" with up, down and status subcommands. It returns
// nil when no opener is configured.
func NewCommand(opts CommandOptions) *cobra.Command {
	if opts.Open == nil {
		return nil
	}

	var (
		dir     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	cmd.PersistentFlags().StringVar(&dir, "migrations-path", "", "migrations directory override")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "overall migration timeout")

	run := func(subcommand string) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, args []string) error {
			status, err := runTarget(c, opts, append([]string{subcommand}, args...), dir, timeout)
			if err != nil || status == nil {
				return err
			}
			return writeStatus(stdout(opts, c), status)
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Run pending migrations", Args: cobra.NoArgs, RunE: run("up")},
		&cobra.Command{Use: "down [steps]", Short: "Revert the latest migrations", Args: cobra.MaximumNArgs(1), RunE: run("down")},
		&cobra.Command{Use: "status", Short: "Show applied and pending migrations", Args: cobra.NoArgs, RunE: run("status")},
	)
	return cmd
}

func runTarget(cmd *cobra.Command, opts CommandOptions, args []string, dirOverride string, timeout time.Duration) (_ *migrate.Status, err error) {
	target, err := opts.Open(cmd)
	if err != nil {
		return nil, err
	}
	if target.Close != nil {
		defer func() {
			err = errors.Join(err, target.Close())
		}()
	}

	dir := target.Dir
	if dirOverride != "" {
		dir = dirOverride
	}
	manager, err := migrate.NewSQLManager(target.Provider, os.DirFS(dir), ".",
		migrate.WithTable(target.Table),
		migrate.WithLogger(target.Logger),
	)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return migrate.Run(ctx, args, migrate.Options{
		ServiceName: opts.ServiceName,
		Path:        dir,
		Timeout:     timeout,
		Logger:      target.Logger,
	}, manager)
}

func writeStatus(w io.Writer, status *migrate.Status) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(status); err != nil {
		return fmt.Errorf("encode migration status: %w", err)
	}
	return enc.Close()
}

func stdout(opts CommandOptions, cmd *cobra.Command) io.Writer {
	if opts.Stdout != nil {
		return opts.Stdout
	}
	return cmd.OutOrStdout()
}
