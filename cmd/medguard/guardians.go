package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/guardian"
	"github.com/dukerupert/medguard/internal/model"
	"github.com/dukerupert/medguard/internal/websocket"
)

func (a *app) guardians(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return apperr.Validation("usage: medguard guardians <invite|accept|sent|received|revoke>")
	}
	switch args[0] {
	case "invite":
		if len(args) != 2 {
			return apperr.Validation("usage: medguard guardians invite <email>")
		}
		inv, err := a.orch.Invite(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Invited %s. Token: %s (expires %s)\n", inv.Email, inv.InvitationToken, inv.InvitationExpiresAt.Local().Format("2006-01-02 15:04"))
		return nil
	case "accept":
		if len(args) != 2 {
			return apperr.Validation("usage: medguard guardians accept <token>")
		}
		inv, err := a.orch.Accept(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "You are now a guardian of %s.\n", inv.User.Name)
		return nil
	case "sent":
		invs, err := a.orch.SentInvitations(ctx)
		if err != nil {
			return err
		}
		printInvitations(a.out, invs, func(inv model.Invitation) string { return inv.Email })
		return nil
	case "received":
		invs, err := a.orch.ReceivedInvitations(ctx)
		if err != nil {
			return err
		}
		printInvitations(a.out, invs, func(inv model.Invitation) string { return inv.User.Name + " <" + inv.User.Email + ">" })
		return nil
	case "revoke":
		if len(args) != 2 {
			return apperr.Validation("usage: medguard guardians revoke <id>")
		}
		if err := a.orch.Revoke(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Invitation revoked.")
		return nil
	default:
		return apperr.Validation(fmt.Sprintf("Unknown guardians command: %s", args[0]))
	}
}

func printInvitations(w io.Writer, invs []model.Invitation, who func(model.Invitation) string) {
	if len(invs) == 0 {
		fmt.Fprintln(w, "No invitations.")
		return
	}
	now := time.Now()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHO\tSTATE\tTOKEN")
	for _, inv := range invs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", inv.ID, who(inv), guardian.StateOf(inv, now), inv.InvitationToken)
	}
	tw.Flush()
}

// watch prints a line per change until interrupted.
func (a *app) watch(ctx context.Context) error {
	feedURL, err := a.client.FeedURL()
	if err != nil {
		return err
	}
	feed := func(ctx context.Context, fn func(websocket.Message)) error {
		token, ok := a.sess.Token()
		if !ok {
			return apperr.New(apperr.ErrUnauthorized, "Please log in first.")
		}
		return websocket.Subscribe(ctx, feedURL, token, fn)
	}

	fmt.Fprintln(a.out, "Watching for changes. Press Ctrl-C to stop.")
	return a.orch.Watch(ctx, feed, func(msg websocket.Message) {
		fmt.Fprintf(a.out, "%s %s %s %s\n", time.Now().Format("15:04:05"), msg.Entity, msg.Action, msg.ID)
	})
}
