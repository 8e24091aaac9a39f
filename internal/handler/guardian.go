package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/medguard/internal/auth"
	"github.com/dukerupert/medguard/internal/email"
	"github.com/dukerupert/medguard/internal/guardian"
	"github.com/dukerupert/medguard/internal/model"
	"github.com/dukerupert/medguard/internal/store"
	"github.com/dukerupert/medguard/internal/websocket"
)

type GuardianHandler struct {
	machine   *guardian.Machine
	invStore  *store.InvitationStore
	userStore *store.UserStore
	mailer    *email.Client
	hub       *websocket.Hub
	logger    *slog.Logger
}

func NewGuardianHandler(
	m *guardian.Machine,
	is *store.InvitationStore,
	us *store.UserStore,
	mailer *email.Client,
	hub *websocket.Hub,
	logger *slog.Logger,
) *GuardianHandler {
	return &GuardianHandler{
		machine:   m,
		invStore:  is,
		userStore: us,
		mailer:    mailer,
		hub:       hub,
		logger:    logger.With("component", "guardians"),
	}
}

// notify tells the inviter and, when they have an account, the invitee.
func (h *GuardianHandler) notify(ctx context.Context, inv *model.Invitation, action string) {
	if h.hub == nil {
		return
	}
	ids := []string{inv.User.ID}
	if inv.Guardian != nil {
		ids = append(ids, inv.Guardian.ID)
	} else if u, err := h.userStore.GetByEmail(ctx, inv.Email); err != nil {
		h.logger.Warn("look up invitee", "invitation_id", inv.ID, "error", err)
	} else if u != nil {
		ids = append(ids, u.ID)
	}
	h.hub.Notify(websocket.NewMessage(websocket.EntityInvitation, action, inv.ID), ids...)
}

func (h *GuardianHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req model.InviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "decode invite", err)
		return
	}

	ac, _ := auth.FromContext(r.Context())
	inv, err := h.machine.Invite(r.Context(), ac.User(), req.Email)
	if err != nil {
		writeError(w, h.logger, "invite", err)
		return
	}

	if h.mailer != nil && h.mailer.Configured() {
		if err := h.mailer.SendInvitation(r.Context(), inv.Email, inv.User.Name, inv.InvitationToken, inv.InvitationExpiresAt); err != nil {
			// The invitation stands; the inviter can share the token directly.
			h.logger.Error("send invitation email", "invitation_id", inv.ID, "error", err)
		}
	}

	h.notify(r.Context(), inv, "created")
	writeJSON(w, http.StatusCreated, inv)
}

func (h *GuardianHandler) Accept(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	inv, err := h.machine.Accept(r.Context(), r.PathValue("token"), ac.User())
	if err != nil {
		writeError(w, h.logger, "accept invitation", err)
		return
	}
	h.notify(r.Context(), inv, "accepted")
	writeJSON(w, http.StatusOK, inv)
}

// Sent lists the invitations the caller issued, in every state.
func (h *GuardianHandler) Sent(w http.ResponseWriter, r *http.Request) {
	invs, err := h.invStore.ListSent(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "list sent invitations", err)
		return
	}
	if invs == nil {
		invs = []model.Invitation{}
	}
	writeJSON(w, http.StatusOK, invs)
}

// Received lists the invitations addressed to the caller's e-mail.
func (h *GuardianHandler) Received(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	invs, err := h.invStore.ListReceived(r.Context(), ac.Email)
	if err != nil {
		writeError(w, h.logger, "list received invitations", err)
		return
	}
	if invs == nil {
		invs = []model.Invitation{}
	}
	writeJSON(w, http.StatusOK, invs)
}

func (h *GuardianHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	inv, err := h.invStore.GetByID(ctx, id)
	if err != nil {
		writeError(w, h.logger, "get invitation", err)
		return
	}
	if inv == nil {
		writeError(w, h.logger, "revoke invitation", guardian.ErrInvitationNotFound)
		return
	}
	if err := h.machine.Revoke(ctx, auth.UserID(ctx), id); err != nil {
		writeError(w, h.logger, "revoke invitation", err)
		return
	}

	h.notify(ctx, inv, "revoked")
	w.WriteHeader(http.StatusNoContent)
}
