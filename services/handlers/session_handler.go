package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

type SessionHandler struct {
	sessionSvc SessionServiceInterface
	statsSvc   StatsServiceInterface
}

func NewSessionHandler(sessionSvc SessionServiceInterface, statsSvc StatsServiceInterface) *SessionHandler {
	return &SessionHandler{
		sessionSvc: sessionSvc,
		statsSvc:   statsSvc,
	}
}

// @Summary Start Session
// @Description Starts a focus session. A live session is rejected unless replace is set.
// @Tags session
// @Accept  json
// @Produce json
// @Param startSessionRequest body dto.StartSessionRequest true "Start session request"
// @Success 201 {object} shared.Response{data=dto.SessionStateResponse}
// @Router /api/v1/session/start [post]
func (h *SessionHandler) Start(c *fiber.Ctx) error {
	var req dto.StartSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := dto.GetValidator().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	state, err := h.sessionSvc.StartSession(req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusCreated, "Created", stateResponse(state))
}

// @Summary Pause Session
// @Description Pauses the live session. Hard mode sessions cannot pause.
// @Tags session
// @Produce json
// @Success 200 {object} shared.Response{data=dto.SessionStateResponse}
// @Router /api/v1/session/pause [post]
func (h *SessionHandler) Pause(c *fiber.Ctx) error {
	state, err := h.sessionSvc.Pause()
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", stateResponse(state))
}

// @Summary Resume Session
// @Description Resumes a paused session, shifting the deadline by the pause span.
// @Tags session
// @Produce json
// @Success 200 {object} shared.Response{data=dto.SessionStateResponse}
// @Router /api/v1/session/resume [post]
func (h *SessionHandler) Resume(c *fiber.Ctx) error {
	state, err := h.sessionSvc.Resume()
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", stateResponse(state))
}

// @Summary Extend Session
// @Description Pushes the live session's deadline forward.
// @Tags session
// @Accept  json
// @Produce json
// @Param extendSessionRequest body dto.ExtendSessionRequest true "Extend session request"
// @Success 200 {object} shared.Response{data=dto.SessionStateResponse}
// @Router /api/v1/session/extend [post]
func (h *SessionHandler) Extend(c *fiber.Ctx) error {
	var req dto.ExtendSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := dto.GetValidator().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	state, err := h.sessionSvc.Extend(req.Minutes)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", stateResponse(state))
}

// @Summary Stop Session
// @Description Stops the live session and returns the record plus the stats delta it earned.
// @Tags session
// @Produce json
// @Success 200 {object} shared.Response{data=dto.StopSessionResponse}
// @Router /api/v1/session/stop [post]
func (h *SessionHandler) Stop(c *fiber.Ctx) error {
	rec, err := h.sessionSvc.Stop()
	if err != nil {
		return err
	}

	resp := dto.StopSessionResponse{Record: recordResponse(rec)}
	// The pipeline already ran off the finish listener; this replays the
	// stored delta so the caller sees what the session earned.
	if delta, err := h.statsSvc.OnSessionCompleted(*rec); err == nil {
		resp.Delta = delta
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", resp)
}

// @Summary Toggle Session
// @Description Deep-link surface: stops the live session or starts the default one.
// @Tags session
// @Produce json
// @Success 200 {object} shared.Response{data=dto.SessionStateResponse}
// @Router /api/v1/session/toggle [post]
func (h *SessionHandler) Toggle(c *fiber.Ctx) error {
	state, rec, err := h.sessionSvc.Toggle()
	if err != nil {
		return err
	}

	if rec != nil {
		return shared.ResponseJSON(c, fiber.StatusOK, "Success",
			dto.StopSessionResponse{Record: recordResponse(rec)})
	}
	return shared.ResponseJSON(c, fiber.StatusOK, "Success", stateResponse(state))
}

// @Summary Current Session
// @Description Returns the live session state, or idle.
// @Tags session
// @Produce json
// @Success 200 {object} shared.Response{data=dto.SessionStateResponse}
// @Router /api/v1/session [get]
func (h *SessionHandler) Current(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, fiber.StatusOK, "Success", h.sessionSvc.Current())
}

// @Summary Session History
// @Description Lists finished sessions, newest first.
// @Tags session
// @Produce json
// @Param limit query int false "Max records"
// @Success 200 {object} shared.Response{data=dto.SessionHistoryResponse}
// @Router /api/v1/session/history [get]
func (h *SessionHandler) History(c *fiber.Ctx) error {
	history, err := h.sessionSvc.History(c.QueryInt("limit", 50))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", history)
}

// @Summary Day Totals
// @Description Aggregates completed focus time for one day against the daily goal.
// @Tags session
// @Produce json
// @Param date query string false "Day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} shared.Response{data=dto.DayTotalsResponse}
// @Router /api/v1/session/day [get]
func (h *SessionHandler) DayTotals(c *fiber.Ctx) error {
	day := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			return shared.NewBadRequestError(err, "Invalid date")
		}
		day = parsed
	}

	totals, err := h.sessionSvc.DayTotals(day)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", totals)
}

// @Summary Session Summary
// @Description Aggregates the trailing window with a per-mode breakdown.
// @Tags session
// @Produce json
// @Param days query int false "Window size in days, defaults to 7"
// @Success 200 {object} shared.Response{data=dto.SessionSummaryResponse}
// @Router /api/v1/session/summary [get]
func (h *SessionHandler) Summary(c *fiber.Ctx) error {
	summary, err := h.sessionSvc.Summary(c.QueryInt("days", 7))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", summary)
}

func stateResponse(state *model.SessionState) dto.SessionStateResponse {
	resp := dto.SessionStateResponse{
		SessionID:      state.SessionID,
		Status:         state.Status,
		StartedAt:      &state.StartedAt,
		EndsAt:         state.EndsAt,
		PausedAt:       state.PausedAt,
		PlannedSeconds: state.PlannedDurationSecs,
		ModeID:         state.ModeID,
		IsHardMode:     state.IsHardMode,
	}
	now := time.Now()
	resp.ElapsedSeconds = int(state.Elapsed(now) / time.Second)
	if state.EndsAt != nil && state.EndsAt.After(now) {
		resp.RemainingSeconds = int(state.EndsAt.Sub(now) / time.Second)
	}
	return resp
}

func recordResponse(rec *model.SessionRecord) *dto.SessionRecordResponse {
	if rec == nil {
		return nil
	}
	return &dto.SessionRecordResponse{
		SessionID:          rec.SessionID,
		ModeID:             rec.ModeID,
		ActualDurationSecs: rec.ActualDurationSecs,
		CompletedAt:        rec.CompletedAt,
		WasHardMode:        rec.WasHardMode,
		Outcome:            rec.Outcome,
	}
}
