// Command wayne runs the Wayne Secure console runtime and its operator commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wayne-enterprises/wayne-console/internal/app"
)

var (
	loginUsername string
	loginPassword string

	rootCmd = &cobra.Command{
		Use:           "wayne",
		Short:         "Wayne Secure System console runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the console runtime and its local JSON API",
		RunE:  runServe,
	}

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the backend and store the session",
		RunE:  runLogin,
	}

	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE:  runLogout,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the stored session",
		RunE:  runStatus,
	}
)

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "backend username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "backend password (defaults to $WAYNE_PASSWORD)")
	_ = loginCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(serveCmd, loginCmd, logoutCmd, statusCmd)
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping console startup")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// oneShot wires a runtime without background polling for a single CLI command.
func oneShot(ctx context.Context) (*deps, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.SyncAutoRefresh = false
	logger := app.NewLogger(cfg)
	d, err := wireRuntime(ctx, cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return d, logger, nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	d, logger, err := oneShot(ctx)
	if err != nil {
		return err
	}
	defer d.Close(logger)

	password := loginPassword
	if password == "" {
		password = os.Getenv("WAYNE_PASSWORD")
	}
	p, err := d.runtime.Login(ctx, loginUsername, password, "cli")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", p.Username, p.Role.DisplayName())
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	d, logger, err := oneShot(ctx)
	if err != nil {
		return err
	}
	defer d.Close(logger)

	ok, err := d.runtime.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "No stored session")
		return nil
	}
	if err := d.runtime.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	d, logger, err := oneShot(ctx)
	if err != nil {
		return err
	}
	defer d.Close(logger)

	if _, err := d.runtime.Restore(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(d.runtime.Status())
}
