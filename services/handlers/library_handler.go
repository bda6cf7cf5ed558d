package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

// LibraryHandler covers the user-managed collections behind the enforcement
// engine: focus modes, schedules, the blocklist and settings.
type LibraryHandler struct {
	librarySvc LibraryServiceInterface
}

func NewLibraryHandler(librarySvc LibraryServiceInterface) *LibraryHandler {
	return &LibraryHandler{librarySvc: librarySvc}
}

// @Summary List Modes
// @Tags library
// @Produce json
// @Success 200 {object} shared.Response{data=[]model.FocusMode}
// @Router /api/v1/modes [get]
func (h *LibraryHandler) ListModes(c *fiber.Ctx) error {
	modes, err := h.librarySvc.ListModes()
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", modes)
}

// @Summary Create Mode
// @Tags library
// @Accept  json
// @Produce json
// @Param modeRequest body dto.ModeRequest true "Mode"
// @Success 201 {object} shared.Response{data=model.FocusMode}
// @Router /api/v1/modes [post]
func (h *LibraryHandler) CreateMode(c *fiber.Ctx) error {
	var req dto.ModeRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := dto.GetValidator().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	id, _ := uuid.NewV7()
	now := time.Now()
	mode := &model.FocusMode{
		ID:              id.String(),
		Name:            req.Name,
		DurationSeconds: req.DurationMinutes * 60,
		HardMode:        req.HardMode,
		Restrictions:    toTargets(req.Restrictions),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.librarySvc.SaveMode(mode); err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusCreated, "Created", mode)
}

// @Summary Update Mode
// @Tags library
// @Accept  json
// @Produce json
// @Param id path string true "Mode ID"
// @Param modeRequest body dto.ModeRequest true "Mode"
// @Success 200 {object} shared.Response{data=model.FocusMode}
// @Router /api/v1/modes/{id} [put]
func (h *LibraryHandler) UpdateMode(c *fiber.Ctx) error {
	var req dto.ModeRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := dto.GetValidator().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	mode := &model.FocusMode{
		ID:              c.Params("id"),
		Name:            req.Name,
		DurationSeconds: req.DurationMinutes * 60,
		HardMode:        req.HardMode,
		Restrictions:    toTargets(req.Restrictions),
		UpdatedAt:       time.Now(),
	}
	if err := h.librarySvc.SaveMode(mode); err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", mode)
}

// @Summary Delete Mode
// @Tags library
// @Produce json
// @Param id path string true "Mode ID"
// @Success 200 {object} shared.Response
// @Router /api/v1/modes/{id} [delete]
func (h *LibraryHandler) DeleteMode(c *fiber.Ctx) error {
	if err := h.librarySvc.RemoveMode(c.Params("id")); err != nil {
		return err
	}

	return shared.ResponseOK(c, nil)
}

// @Summary List Schedules
// @Tags library
// @Produce json
// @Success 200 {object} shared.Response{data=[]model.Schedule}
// @Router /api/v1/schedules [get]
func (h *LibraryHandler) ListSchedules(c *fiber.Ctx) error {
	schedules, err := h.librarySvc.ListSchedules()
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", schedules)
}

// @Summary Create Schedule
// @Tags library
// @Accept  json
// @Produce json
// @Param scheduleRequest body dto.ScheduleRequest true "Schedule"
// @Success 201 {object} shared.Response{data=model.Schedule}
// @Router /api/v1/schedules [post]
func (h *LibraryHandler) CreateSchedule(c *fiber.Ctx) error {
	var req dto.ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := dto.GetValidator().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	id, _ := uuid.NewV7()
	s := &model.Schedule{
		ID:           id.String(),
		Name:         req.Name,
		Days:         req.Days,
		StartMinute:  req.StartMinute,
		EndMinute:    req.EndMinute,
		Enabled:      req.Enabled,
		Restrictions: toTargets(req.Restrictions),
		UpdatedAt:    time.Now(),
	}
	if err := h.librarySvc.SaveSchedule(s); err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusCreated, "Created", s)
}

// @Summary Update Schedule
// @Tags library
// @Accept  json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param scheduleRequest body dto.ScheduleRequest true "Schedule"
// @Success 200 {object} shared.Response{data=model.Schedule}
// @Router /api/v1/schedules/{id} [put]
func (h *LibraryHandler) UpdateSchedule(c *fiber.Ctx) error {
	var req dto.ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := dto.GetValidator().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	s := &model.Schedule{
		ID:           c.Params("id"),
		Name:         req.Name,
		Days:         req.Days,
		StartMinute:  req.StartMinute,
		EndMinute:    req.EndMinute,
		Enabled:      req.Enabled,
		Restrictions: toTargets(req.Restrictions),
		UpdatedAt:    time.Now(),
	}
	if err := h.librarySvc.SaveSchedule(s); err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", s)
}

// @Summary Delete Schedule
// @Tags library
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} shared.Response
// @Router /api/v1/schedules/{id} [delete]
func (h *LibraryHandler) DeleteSchedule(c *fiber.Ctx) error {
	if err := h.librarySvc.RemoveSchedule(c.Params("id")); err != nil {
		return err
	}

	return shared.ResponseOK(c, nil)
}

// @Summary List Blocklist
// @Tags library
// @Produce json
// @Success 200 {object} shared.Response{data=[]model.BlockedItem}
// @Router /api/v1/blocklist [get]
func (h *LibraryHandler) ListBlocklist(c *fiber.Ctx) error {
	items, err := h.librarySvc.ListBlockedItems()
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", items)
}

// @Summary Add Blocked Item
// @Tags library
// @Accept  json
// @Produce json
// @Param blocklistAddRequest body dto.BlocklistAddRequest true "Item"
// @Success 201 {object} shared.Response{data=model.BlockedItem}
// @Router /api/v1/blocklist [post]
func (h *LibraryHandler) AddBlockedItem(c *fiber.Ctx) error {
	var req dto.BlocklistAddRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := dto.GetValidator().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	id, _ := uuid.NewV7()
	now := time.Now()
	item := &model.BlockedItem{
		ID:         id.String(),
		Kind:       req.Kind,
		Identifier: req.Identifier,
		AddedAt:    now,
		UpdatedAt:  now,
	}
	if err := h.librarySvc.SaveBlockedItem(item); err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusCreated, "Created", item)
}

// @Summary Remove Blocked Item
// @Tags library
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} shared.Response
// @Router /api/v1/blocklist/{id} [delete]
func (h *LibraryHandler) RemoveBlockedItem(c *fiber.Ctx) error {
	if err := h.librarySvc.RemoveBlockedItem(c.Params("id")); err != nil {
		return err
	}

	return shared.ResponseOK(c, nil)
}

// @Summary Get Settings
// @Tags library
// @Produce json
// @Success 200 {object} shared.Response{data=model.UserSettings}
// @Router /api/v1/settings [get]
func (h *LibraryHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.librarySvc.GetSettings()
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", settings)
}

// @Summary Update Settings
// @Description Partial update; omitted fields keep their value.
// @Tags library
// @Accept  json
// @Produce json
// @Param settingsRequest body dto.SettingsRequest true "Settings"
// @Success 200 {object} shared.Response{data=model.UserSettings}
// @Router /api/v1/settings [put]
func (h *LibraryHandler) UpdateSettings(c *fiber.Ctx) error {
	var req dto.SettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := dto.GetValidator().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	settings, err := h.librarySvc.GetSettings()
	if err != nil {
		return err
	}

	if req.DefaultModeID != nil {
		settings.DefaultModeID = *req.DefaultModeID
	}
	if req.HardModeDefault != nil {
		settings.HardModeDefault = *req.HardModeDefault
	}
	if req.PauseKeepsBlocking != nil {
		settings.PauseKeepsBlocking = *req.PauseKeepsBlocking
	}
	if req.Theme != nil {
		settings.Theme = *req.Theme
	}
	if req.DailyGoalMinutes != nil {
		settings.DailyGoalMinutes = *req.DailyGoalMinutes
	}

	if err := h.librarySvc.SaveSettings(settings); err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", settings)
}

func toTargets(reqs []dto.RestrictionTargetRequest) []model.RestrictionTarget {
	targets := make([]model.RestrictionTarget, 0, len(reqs))
	for _, r := range reqs {
		targets = append(targets, model.RestrictionTarget{Kind: r.Kind, Identifier: r.Identifier})
	}
	return targets
}
