package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"library-desk/internal/apiclient"
	"library-desk/internal/catalog"
	"library-desk/internal/config"
	"library-desk/internal/inventory"
	"library-desk/internal/lending"
	"library-desk/internal/models"
	"library-desk/internal/session"
	"library-desk/internal/tui"
	"library-desk/internal/view"
	"library-desk/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// app is the wiring shared by every command
type app struct {
	cfg      *config.ClientConfig
	logger   *zap.Logger
	api      *apiclient.Client
	sessions *session.Manager
	in       *bufio.Reader
	out      io.Writer
}

func newApp(in io.Reader, out io.Writer) *app {
	cfg := config.LoadClient()
	appLogger := logger.NewFile(cfg.Environment, cfg.LogFile)
	api := apiclient.New(cfg.APIURL, cfg.RequestTimeout, appLogger)
	return &app{
		cfg:      cfg,
		logger:   appLogger,
		api:      api,
		sessions: session.NewManager(api, cfg.SessionFile, appLogger),
		in:       bufio.NewReader(in),
		out:      out,
	}
}

// authenticate restores the saved session and puts the user on ctx
func (a *app) authenticate(ctx context.Context) (context.Context, models.User, error) {
	user, err := a.sessions.Current(ctx)
	if errors.Is(err, session.ErrNotLoggedIn) {
		return ctx, models.User{}, errors.New("not logged in, run `desk login` first")
	}
	if err != nil {
		return ctx, models.User{}, err
	}
	return session.WithUser(ctx, user), user, nil
}

func (a *app) inventory() *inventory.Client {
	return inventory.NewClient(a.api, a.logger)
}

func (a *app) lending() *lending.Controller {
	return lending.NewController(a.api, a.logger)
}

func (a *app) coordinator(ctx context.Context) *view.Coordinator {
	user, _ := session.UserFrom(ctx)
	return view.New(ctx, view.Deps{
		Catalog:   catalog.NewClient(a.api, a.logger),
		Inventory: a.inventory(),
		Lending:   a.lending(),
		Accounts:  a.api,
		Logger:    a.logger,
		User:      user,
		Debounce:  a.cfg.SearchDebounce,
	})
}

func newRootCmd() *cobra.Command {
	var a *app
	root := &cobra.Command{
		Use:           "desk",
		Short:         "Library front desk: catalog, loans and accounts",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a == nil {
				a = newApp(cmd.InOrStdin(), cmd.OutOrStdout())
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				_ = a.logger.Sync()
			}
		},
	}

	get := func() *app { return a }
	root.AddCommand(
		newLoginCmd(get),
		newLogoutCmd(get),
		newWhoamiCmd(get),
		newDashboardCmd(get),
		newBooksCmd(get),
		newIssueCmd(get),
		newReturnCmd(get),
		newLoansCmd(get),
		newUsersCmd(get),
	)
	return root
}

func newLoginCmd(get func() *app) *cobra.Command {
	var noDashboard bool
	cmd := &cobra.Command{
		Use:   "login [email]",
		Short: "Sign in and open the dashboard of your role",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			email := ""
			if len(args) == 1 {
				email = args[0]
			} else {
				var err error
				if email, err = a.prompt("Email: "); err != nil {
					return err
				}
			}
			password, err := a.readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			user, err := a.sessions.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Logged in as %s (%s)\n", user.Name, user.Role)

			if noDashboard || !term.IsTerminal(int(os.Stdout.Fd())) {
				return nil
			}
			return runDashboard(session.WithUser(cmd.Context(), user), a)
		},
	}
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "do not open the dashboard after signing in")
	return cmd
}

func newLogoutCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			_, user, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s <%s>\nrole: %s\nid:   %d\n", user.Name, user.Email, user.Role, user.ID)
			return nil
		},
	}
}

func newDashboardCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the interactive dashboard of your role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, _, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			return runDashboard(ctx, a)
		},
	}
}

func runDashboard(ctx context.Context, a *app) error {
	desk := a.coordinator(ctx)
	defer desk.Close()
	return tui.Run(ctx, desk)
}

func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads a password without echo when stdin is a terminal
func (a *app) readPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return a.prompt(label)
	}
	fmt.Fprint(a.out, label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(a.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
