package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/service"
)

// GlobalOptions are the persistent flags shared by every command.
type GlobalOptions struct {
	ConfigPath string
	EnvFile    string
	DBPath     string
	LogLevel   string
}

// App holds the services and hooks used by CLI commands.
type App struct {
	Sessions service.SessionService

	// Setup builds Sessions (and Serve) from the global options before any
	// subcommand runs. Tests leave it nil and set Sessions directly.
	Setup func(ctx context.Context, opts GlobalOptions) error
	// Teardown flushes and releases whatever Setup opened. Execute calls it
	// after every run.
	Teardown func(ctx context.Context) error

	// Serve runs the HTTP host until ctx is cancelled.
	Serve func(ctx context.Context, addr string) error

	IsInteractive func() bool
	Now           func() time.Time

	// Prompts; nil means the huh implementations.
	Confirm  func(title string) (bool, error)
	PickStep func(title string, options []domain.StepRef) (domain.StepRef, error)
}

func (a *App) interactive() bool {
	return a.IsInteractive != nil && a.IsInteractive()
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) confirm(title string) (bool, error) {
	if a.Confirm != nil {
		return a.Confirm(title)
	}
	return huhConfirm(title)
}

func (a *App) pickStep(title string, options []domain.StepRef) (domain.StepRef, error) {
	if a.PickStep != nil {
		return a.PickStep(title, options)
	}
	return huhPickStep(title, options)
}

func addGlobalFlags(fs *pflag.FlagSet, o *GlobalOptions) {
	fs.StringVar(&o.ConfigPath, "config", "", "Path to a YAML config file")
	fs.StringVar(&o.EnvFile, "env-file", ".env", "Path to a .env file (ignored when missing)")
	fs.StringVar(&o.DBPath, "db", "", "SQLite database path (overrides config)")
	fs.StringVar(&o.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// NewRootCmd creates the top-level "blueprint" command and registers all
// subcommands against the provided App.
func NewRootCmd(app *App) *cobra.Command {
	var opts GlobalOptions

	root := &cobra.Command{
		Use:           "blueprint",
		Short:         "Guided project blueprint conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Setup == nil {
				return nil
			}
			return app.Setup(cmd.Context(), opts)
		},
	}
	addGlobalFlags(root.PersistentFlags(), &opts)

	root.AddCommand(
		newSessionCmd(app),
		newItemsCmd(app),
		newChatCmd(app),
		newServeCmd(app),
	)

	return root
}

// Execute runs the root command and then Teardown, even when the command
// failed, so queued session writes are flushed before exit.
func Execute(ctx context.Context, app *App, args []string) error {
	root := NewRootCmd(app)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if app.Teardown != nil {
		if terr := app.Teardown(context.WithoutCancel(ctx)); terr != nil {
			err = errors.Join(err, fmt.Errorf("closing: %w", terr))
		}
	}
	return err
}
