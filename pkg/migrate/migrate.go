// Package migrate applies versioned SQL migrations, each inside its own unit
// of work.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimburion/unitofwork/pkg/observability/logger"
)

const defaultTimeout = 60 * time.Second

// Action is a migrate subcommand.
type Action string

const (
	ActionUp     Action = "up"
	ActionDown   Action = "down"
	ActionStatus Action = "status"
)

// Command is a parsed migrate invocation. Steps only matters for down.
type Command struct {
	Action Action
	Steps  int
}

// PendingMigration contains an unapplied migration entry for status output.
type PendingMigration struct {
	Version int64  `yaml:"version"`
	Name    string `yaml:"name"`
}

// Status is the applied and pending state of a migration set.
type Status struct {
	AppliedVersions []int64            `yaml:"applied"`
	Pending         []PendingMigration `yaml:"pending"`
}

// Operations is what a migration backend must provide. *SQLManager is the
// database implementation.
type Operations interface {
	Up(ctx context.Context) (int, error)
	Down(ctx context.Context, steps int) (int, error)
	Status(ctx context.Context) (*Status, error)
}

// Options configures how a Command is run and reported.
type Options struct {
	ServiceName string
	Path        string
	Timeout     time.Duration
	Logger      logger.Logger
}

// Run parses [up|down|status] [steps] and executes the command.
func Run(ctx context.Context, args []string, opts Options, ops Operations) (*Status, error) {
	cmd, err := ParseArgs(args)
	if err != nil {
		return nil, err
	}
	return cmd.Execute(ctx, opts, ops)
}

// ParseArgs reads [up|down|status] [steps]. No arguments means up; steps
// defaults to one.
func ParseArgs(args []string) (Command, error) {
	cmd := Command{Action: ActionUp, Steps: 1}
	switch len(args) {
	case 0:
		return cmd, nil
	case 1, 2:
	default:
		return Command{}, fmt.Errorf("unexpected arguments %v", args[2:])
	}

	cmd.Action = Action(args[0])
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return Command{}, fmt.Errorf("invalid down steps %q", args[1])
		}
		cmd.Steps = n
	}
	return cmd, nil
}

// Execute runs c against ops under opts.Timeout. Only status returns a
// non-nil *Status.
func (c Command) Execute(ctx context.Context, opts Options, ops Operations) (*Status, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if ops == nil {
		return nil, errors.New("migration operations are required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := opts.Logger.With("action", string(c.Action), "path", opts.Path)
	switch c.Action {
	case ActionUp:
		n, err := ops.Up(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("migrations applied", "count", n)
		return nil, nil
	case ActionDown:
		if c.Steps <= 0 {
			return nil, errors.New("steps must be greater than zero")
		}
		n, err := ops.Down(ctx, c.Steps)
		if err != nil {
			return nil, err
		}
		log.Info("migrations reverted", "count", n, "steps", c.Steps)
		return nil, nil
	case ActionStatus:
		status, err := ops.Status(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("migration status", "applied", len(status.AppliedVersions), "pending", len(status.Pending))
		return status, nil
	default:
		return nil, fmt.Errorf("usage: %s migrate [up|down|status] [steps]", opts.ServiceName)
	}
}

func (o Options) validate() error {
	switch {
	case o.Logger == nil:
		return errors.New("migration logger is required")
	case o.ServiceName == "":
		return errors.New("migration service name is required")
	case o.Path == "":
		return errors.New("migration path is required")
	}
	return nil
}
