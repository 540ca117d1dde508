package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/config"
	"github.com/spf13/cobra"
)

// Version is set by the linker.
var Version = "dev"

// NewRootCommand builds the gophvault command tree. Without a subcommand the
// interactive shell starts.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gophvault",
		Short:         "Local encrypted password vault",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				return a.Run(ctx)
			})
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newShellCommand(), newStatusCommand(), newBackupCommand(), newRestoreCommand())
	return root
}

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				return a.Run(ctx)
			})
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the store is set up and TOTP is on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClosingApp(cmd, func(ctx context.Context, a *App) error {
				return a.cmdStatus(ctx, args)
			})
		},
	}
}

func newBackupCommand() *cobra.Command {
	backup := &cobra.Command{
		Use:   "backup",
		Short: "Manage store snapshots",
	}
	backup.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Take a snapshot of the store now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClosingApp(cmd, func(ctx context.Context, a *App) error {
					return a.cmdBackup(ctx, args)
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List snapshots, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClosingApp(cmd, func(ctx context.Context, a *App) error {
					return a.cmdBackups(ctx, args)
				})
			},
		},
	)
	return backup
}

func newRestoreCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <path>",
		Short: "Replace the store with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClosingApp(cmd, func(ctx context.Context, a *App) error {
				if yes {
					if err := a.vault.Auth.RestoreBackup(ctx, args[0]); err != nil {
						return err
					}
					a.println("Store restored.")
					return nil
				}
				return a.cmdRestore(ctx, args)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// withApp loads the configuration from the command flags, opens the logger
// and runs fn with a fresh App bound to the command streams.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	cfg, err := config.LoadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, closeLog, err := OpenLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a := NewApp(cfg, log, cmd.InOrStdin(), cmd.OutOrStdout())
	return fn(ctx, a)
}

// withClosingApp is withApp for one-shot commands; the vault is closed after
// fn.
func withClosingApp(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	return withApp(cmd, func(ctx context.Context, a *App) error {
		return errors.Join(fn(ctx, a), a.vault.Close(ctx))
	})
}
