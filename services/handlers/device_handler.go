package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/shared"
)

type DeviceHandler struct {
	deviceSvc DeviceServiceInterface
}

func NewDeviceHandler(deviceSvc DeviceServiceInterface) *DeviceHandler {
	return &DeviceHandler{deviceSvc: deviceSvc}
}

// @Summary Register Device
// @Description Registers this install with a device-generated secret.
// @Tags device
// @Accept  json
// @Produce json
// @Param registerDeviceRequest body dto.RegisterDeviceRequest true "Register device request"
// @Success 201 {object} shared.Response{data=dto.DeviceInfoResponse}
// @Router /api/v1/device/register [post]
func (h *DeviceHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := dto.GetValidator().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	info, err := h.deviceSvc.Register(req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusCreated, "Created", info)
}

// @Summary Device Token
// @Description Exchanges a device secret for a JWT.
// @Tags device
// @Accept  json
// @Produce json
// @Param deviceTokenRequest body dto.DeviceTokenRequest true "Device token request"
// @Success 200 {object} shared.Response{data=dto.DeviceTokenResponse}
// @Router /api/v1/device/token [post]
func (h *DeviceHandler) Token(c *fiber.Ctx) error {
	var req dto.DeviceTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := dto.GetValidator().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	token, err := h.deviceSvc.Token(req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", token)
}

// @Summary List Devices
// @Tags device
// @Produce json
// @Success 200 {object} shared.Response{data=[]dto.DeviceInfoResponse}
// @Router /api/v1/devices [get]
func (h *DeviceHandler) List(c *fiber.Ctx) error {
	devices, err := h.deviceSvc.List()
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", devices)
}

// @Summary Revoke Device
// @Tags device
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} shared.Response
// @Router /api/v1/devices/{id} [delete]
func (h *DeviceHandler) Revoke(c *fiber.Ctx) error {
	if err := h.deviceSvc.Revoke(c.Params("id")); err != nil {
		return err
	}

	return shared.ResponseOK(c, nil)
}
