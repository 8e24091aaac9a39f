package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dukerupert/medguard/internal/apperr"
)

func (a *app) password() (string, error) {
	if pw := os.Getenv("MEDGUARD_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(a.out, "Password: ")
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return "", apperr.Validation("password is required")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return apperr.Validation("usage: medguard login <email>")
	}
	pw, err := a.password()
	if err != nil {
		return err
	}
	user, err := a.orch.Login(ctx, args[0], pw)
	if err != nil {
		return err
	}
	if err := a.store.Save(a.sess); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s <%s>\n", user.Name, user.Email)
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return apperr.Validation("usage: medguard register <name> <email>")
	}
	pw, err := a.password()
	if err != nil {
		return err
	}
	user, err := a.orch.Register(ctx, args[0], args[1], pw)
	if err != nil {
		return err
	}
	if err := a.store.Save(a.sess); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Welcome, %s. You are logged in.\n", user.Name)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	err := a.orch.Logout(ctx)
	if rmErr := a.store.Remove(); rmErr != nil {
		return rmErr
	}
	if err != nil {
		a.logger.Warn("server logout failed; local session removed", "error", err)
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func (a *app) whoami() error {
	if !a.sess.Authenticated() {
		return apperr.New(apperr.ErrUnauthorized, "Not logged in.")
	}
	u := a.sess.User()
	fmt.Fprintf(a.out, "%s <%s>\nid: %s\nsession expires: %s\n", u.Name, u.Email, u.ID, a.sess.ExpiresAt().Local().Format("2006-01-02 15:04"))
	return nil
}
