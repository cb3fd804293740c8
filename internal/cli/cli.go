package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/preorder/internal/app"
	"github.com/Additional-Code/preorder/internal/database"
	"github.com/Additional-Code/preorder/internal/entity"
	"github.com/Additional-Code/preorder/internal/migration"
	"github.com/Additional-Code/preorder/internal/seeder"
	"github.com/Additional-Code/preorder/internal/sequence"
	serviceorder "github.com/Additional-Code/preorder/internal/service/order"
)

const stopTimeout = 10 * time.Second

// NewRootCommand builds the root preorder CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "preorder",
		Short:         "Restaurant pre-order service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newCounterCmd())
	root.AddCommand(newOrderCmd())

	return root
}

// Execute runs the preorder CLI until it finishes or receives SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), app.Module)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Consume order events and print kitchen tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), app.Worker)
		},
	})
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the records table of the sql record store",
	}

	withMigrator := func(cmd *cobra.Command, fn func(context.Context, *migration.Migrator) error) error {
		var mig *migration.Migrator
		opts := fx.Options(app.Store, database.Module, migration.Module, fx.Populate(&mig))
		return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
			return fn(ctx, mig)
		})
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, mig *migration.Migrator) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			return withMigrator(cmd, func(ctx context.Context, mig *migration.Migrator) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migration steps to rollback")
	downCmd.Flags().Bool("all", false, "Rollback all applied migrations")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, mig *migration.Migrator) error {
				return mig.Status(ctx)
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, statusCmd)
	return cmd
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the order counter if it is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetInt64("start")
			var seed *seeder.Seeder
			opts := fx.Options(app.Store, seeder.Module, fx.Populate(&seed))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				current, err := seed.Counter(ctx, start)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "order counter at %d, next order is #%d\n", current, current+1)
				return nil
			})
		},
	}
	cmd.Flags().Int64("start", 0, "Counter value to create; the first order gets start+1")
	return cmd
}

func newCounterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Inspect the order counter",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the last allocated order number",
		RunE: func(cmd *cobra.Command, args []string) error {
			var allocator *sequence.Allocator
			opts := fx.Options(app.Store, fx.Populate(&allocator))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				current, err := allocator.Current(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), current)
				return nil
			})
		},
	})
	return cmd
}

func newOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect persisted orders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show [key]",
		Short: "Print a persisted order, e.g. 12_Anna",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc *serviceorder.Service
			opts := fx.Options(app.Core, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				order, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printOrder(cmd.OutOrStdout(), order)
				return nil
			})
		},
	})
	return cmd
}

func printOrder(w io.Writer, order entity.Order) {
	fmt.Fprintf(w, "order #%d for %s, table %s, %d covers\n", order.Number, order.CustomerName, order.TableID, order.Covers)
	if len(order.Items) == 0 {
		fmt.Fprintln(w, "  no items")
		return
	}
	for _, item := range order.Items {
		fmt.Fprintf(w, "  %3d x %s\n", item.Quantity, item.Name)
	}
}

func runUntilDone(ctx context.Context, opts fx.Option) error {
	application := fx.New(opts)
	if err := application.Err(); err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return application.Stop(stopCtx)
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Err(); err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
