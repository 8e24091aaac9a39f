package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dukerupert/medguard/internal/adherence"
	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/auth"
	"github.com/dukerupert/medguard/internal/model"
	"github.com/dukerupert/medguard/internal/store"
	"github.com/dukerupert/medguard/internal/websocket"
)

var errMedicationNotFound = apperr.New(apperr.ErrNotFound, "Medication not found.")

type MedicationHandler struct {
	medStore *store.MedicationStore
	relStore *store.RelationshipStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewMedicationHandler(ms *store.MedicationStore, rs *store.RelationshipStore, hub *websocket.Hub, logger *slog.Logger) *MedicationHandler {
	return &MedicationHandler{
		medStore: ms,
		relStore: rs,
		hub:      hub,
		logger:   logger.With("component", "medications"),
	}
}

// notify tells the owner and every guardian of ownerID that a medication
// changed.
func (h *MedicationHandler) notify(ctx context.Context, ownerID, action, id string) {
	if h.hub == nil {
		return
	}
	guardians, err := h.relStore.Guardians(ctx, ownerID)
	if err != nil {
		h.logger.Warn("list guardians for notify", "owner_id", ownerID, "error", err)
	}
	ids := []string{ownerID}
	for _, g := range guardians {
		ids = append(ids, g.ID)
	}
	h.hub.Notify(websocket.NewMessage(websocket.EntityMedication, action, id), ids...)
}

// load fetches a medication and the caller's role on it. Callers with no
// relationship to the owner see it as missing.
func (h *MedicationHandler) load(ctx context.Context, id string) (*model.Medication, model.Role, error) {
	m, err := h.medStore.GetByID(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("get medication: %w", err)
	}
	if m == nil {
		return nil, "", errMedicationNotFound
	}
	role, err := h.relStore.Role(ctx, m.OwnerID, auth.UserID(ctx))
	if err != nil {
		return nil, "", fmt.Errorf("resolve role: %w", err)
	}
	if role == "" {
		return nil, "", errMedicationNotFound
	}
	return m, role, nil
}

func forbidden(role model.Role, c model.Capability) error {
	return apperr.New(apperr.ErrForbidden, fmt.Sprintf("A %s cannot %s this medication.", role, c))
}

// List returns the caller's medications and, grouped per person, those of
// everyone the caller guards.
func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	own, err := h.medStore.ListByOwner(ctx, userID)
	if err != nil {
		writeError(w, h.logger, "list medications", err)
		return
	}
	wards, err := h.relStore.Wards(ctx, userID)
	if err != nil {
		writeError(w, h.logger, "list wards", err)
		return
	}

	resp := model.MedicationsResponse{
		UserMedications:     own,
		GuardianMedications: make([]model.GuardedMedications, 0, len(wards)),
	}
	if resp.UserMedications == nil {
		resp.UserMedications = []model.Medication{}
	}
	for _, ward := range wards {
		meds, err := h.medStore.ListByOwner(ctx, ward.ID)
		if err != nil {
			writeError(w, h.logger, "list ward medications", err)
			return
		}
		if meds == nil {
			meds = []model.Medication{}
		}
		resp.GuardianMedications = append(resp.GuardianMedications, model.GuardedMedications{User: ward, Medications: meds})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, _, err := h.load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "get medication", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateMedicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "decode medication", err)
		return
	}

	m, err := adherence.NewMedication(auth.UserID(r.Context()), req)
	if err != nil {
		writeError(w, h.logger, "create medication", err)
		return
	}
	if err := h.medStore.Create(r.Context(), &m); err != nil {
		writeError(w, h.logger, "create medication", err)
		return
	}

	h.logger.Info("medication created", "medication_id", m.ID, "owner_id", m.OwnerID)
	h.notify(r.Context(), m.OwnerID, "created", m.ID)
	writeJSON(w, http.StatusCreated, m)
}

// Toggle flips one dose. Owners and guardians may both record adherence.
func (h *MedicationHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req model.ToggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "decode toggle", err)
		return
	}
	date, err := model.ParseDate(string(req.Date))
	if err != nil {
		writeError(w, h.logger, "toggle", apperr.Validation(err.Error()))
		return
	}
	t, err := model.ParseTimeOfDay(string(req.Time))
	if err != nil {
		writeError(w, h.logger, "toggle", apperr.Validation(err.Error()))
		return
	}

	ctx := r.Context()
	m, role, err := h.load(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "toggle", err)
		return
	}
	if !role.Can(model.CapToggle) {
		writeError(w, h.logger, "toggle", forbidden(role, model.CapToggle))
		return
	}
	if _, err := adherence.Toggle(*m, date, t); err != nil {
		writeError(w, h.logger, "toggle", err)
		return
	}

	updated, err := h.medStore.ToggleDose(ctx, m.ID, date, t)
	if err != nil {
		writeError(w, h.logger, "toggle dose", err)
		return
	}
	if updated == nil {
		writeError(w, h.logger, "toggle", errMedicationNotFound)
		return
	}

	h.notify(ctx, m.OwnerID, "updated", m.ID)
	writeJSON(w, http.StatusOK, updated)
}

func (h *MedicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, role, err := h.load(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "delete medication", err)
		return
	}
	if !role.Can(model.CapDelete) {
		writeError(w, h.logger, "delete medication", forbidden(role, model.CapDelete))
		return
	}

	removed, err := h.medStore.Delete(ctx, m.ID)
	if err != nil {
		writeError(w, h.logger, "delete medication", err)
		return
	}
	if !removed {
		writeError(w, h.logger, "delete medication", errMedicationNotFound)
		return
	}

	h.logger.Info("medication deleted", "medication_id", m.ID)
	h.notify(ctx, m.OwnerID, "deleted", m.ID)
	w.WriteHeader(http.StatusNoContent)
}
