package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukerupert/medguard/internal/api"
	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/cache"
	"github.com/dukerupert/medguard/internal/config"
	"github.com/dukerupert/medguard/internal/logging"
	"github.com/dukerupert/medguard/internal/orchestrator"
	"github.com/dukerupert/medguard/internal/session"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("medguard version %s\n", version)
		return
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "medguard:", err)
		os.Exit(1)
	}
	cfg, err := config.LoadClient(os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "medguard:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logging.Setup(cfg.LogLevel), os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "medguard:", err)
		os.Exit(1)
	}
	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, apperr.Message(err))
		slog.Debug("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

type app struct {
	sess   *session.Session
	store  session.FileStore
	client *api.Client
	orch   *orchestrator.Orchestrator
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

func newApp(cfg config.Client, logger *slog.Logger, in io.Reader, out io.Writer) (*app, error) {
	sess := session.New(cfg.SessionLifetime)
	store := session.FileStore{Path: cfg.SessionFile, Passphrase: cfg.SessionPassphrase}
	if err := store.Load(sess); err != nil {
		return nil, err
	}

	client := api.NewClient(cfg.APIURL, sess, api.WithTimeout(cfg.RequestTimeout), api.WithUserAgent("medguard/"+version))
	c := cache.New(cache.Config{}, logger.With("component", "cache"))
	return &app{
		sess:   sess,
		store:  store,
		client: client,
		orch:   orchestrator.New(client, sess, c, logger.With("component", "orchestrator")),
		in:     in,
		out:    out,
		logger: logger,
	}, nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "register":
		return a.register(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami()
	case "meds":
		return a.meds(ctx, args)
	case "guardians":
		return a.guardians(ctx, args)
	case "watch":
		return a.watch(ctx)
	default:
		return apperr.Validation(fmt.Sprintf("Unknown command: %s. Run 'medguard help' for usage.", cmd))
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `medguard - track medication adherence with the help of guardians

USAGE:
    medguard <command> [arguments]

COMMANDS:
    register <name> <email>         Create an account and log in
    login <email>                   Log in
    logout                          End the session
    whoami                          Show the logged-in user

    meds list                       List your medications and those you guard
    meds add --name N --times T     Add a medication (--dose, --days, --start)
    meds show <id>                  Show a medication's daily progress
    meds toggle <id> <date> <time>  Mark or unmark one dose
    meds take <id>                  Mark the dose nearest to now
    meds delete <id>                Delete a medication you own

    guardians invite <email>        Ask someone to be your guardian
    guardians accept <token>        Accept an invitation
    guardians sent                  Invitations you sent
    guardians received              Invitations addressed to you
    guardians revoke <id>           Withdraw a pending invitation

    watch                           Follow changes made elsewhere
    version                         Print version information
    help                            Show this help message

Passwords are read from MEDGUARD_PASSWORD or prompted on stdin.
`)
}
