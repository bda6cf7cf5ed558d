package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/focusgrove/focus_api/shared"
)

type StatsHandler struct {
	statsSvc StatsServiceInterface
}

func NewStatsHandler(statsSvc StatsServiceInterface) *StatsHandler {
	return &StatsHandler{statsSvc: statsSvc}
}

// @Summary Get Stats
// @Description Returns XP, level, streaks, freezes and achievement progress.
// @Tags stats
// @Produce json
// @Success 200 {object} shared.Response{data=dto.StatsResponse}
// @Router /api/v1/stats [get]
func (h *StatsHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.statsSvc.GetStats()
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", stats)
}
