package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/shared"
)

type SyncHandler struct {
	syncSvc     SyncServiceInterface
	enforcement EnforcementServiceInterface
}

func NewSyncHandler(syncSvc SyncServiceInterface, enforcement EnforcementServiceInterface) *SyncHandler {
	return &SyncHandler{
		syncSvc:     syncSvc,
		enforcement: enforcement,
	}
}

// @Summary Sync Status
// @Description Per-entity sync state, queue depth and backend health.
// @Tags sync
// @Produce json
// @Success 200 {object} shared.Response{data=dto.SyncStatusResponse}
// @Router /api/v1/sync/status [get]
func (h *SyncHandler) Status(c *fiber.Ctx) error {
	status, err := h.syncSvc.Status()
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", status)
}

// @Summary Enforcement Status
// @Description Contexts, their activation state and the effective restriction set.
// @Tags enforcement
// @Produce json
// @Success 200 {object} shared.Response{data=dto.EnforcementStatusResponse}
// @Router /api/v1/enforcement [get]
func (h *SyncHandler) Enforcement(c *fiber.Ctx) error {
	resp := dto.EnforcementStatusResponse{}
	for _, ctx := range h.enforcement.Snapshot() {
		resp.Contexts = append(resp.Contexts, dto.ContextStatusResponse{
			Name:         ctx.Name,
			Active:       ctx.Active,
			Restrictions: len(ctx.Restrictions),
		})
	}
	for _, t := range h.enforcement.Recompute() {
		resp.Effective = append(resp.Effective, dto.RestrictionTargetRequest{
			Kind:       t.Kind,
			Identifier: t.Identifier,
		})
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", resp)
}
