package rest

import (
	"github.com/gofiber/fiber/v2"
	qrcode "github.com/skip2/go-qrcode"

	domainSession "github.com/AzielCF/az-hub/domains/session"
	pkgError "github.com/AzielCF/az-hub/pkg/error"
	"github.com/AzielCF/az-hub/pkg/utils"
)

type Session struct {
	Service domainSession.ISessionUsecase
}

func InitRestSession(app fiber.Router, service domainSession.ISessionUsecase) Session {
	rest := Session{Service: service}
	app.Post("/sessions", rest.Create)
	app.Get("/sessions", rest.List)
	app.Get("/sessions/stats", rest.Stats)
	app.Post("/sessions/cleanup", rest.Cleanup)
	app.Get("/sessions/:id", rest.Get)
	app.Get("/sessions/:id/qr", rest.QR)
	app.Get("/sessions/:id/qr.png", rest.QRImage)
	app.Post("/sessions/:id/start", rest.Start)
	app.Post("/sessions/:id/retry", rest.Retry)
	app.Post("/sessions/:id/finalize", rest.Finalize)
	app.Post("/sessions/:id/disconnect", rest.Disconnect)
	app.Delete("/sessions/:id", rest.Remove)

	return rest
}

func (handler *Session) Create(c *fiber.Ctx) error {
	var request domainSession.CreateSessionRequest
	if err := c.BodyParser(&request); err != nil {
		utils.PanicIfNeeded(pkgError.ValidationError("invalid request body"))
	}

	session, err := handler.Service.CreateSession(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Session created",
		Results: session,
	})
}

func (handler *Session) List(c *fiber.Ctx) error {
	sessions, err := handler.Service.ListSessions(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Sessions listed",
		Results: sessions,
	})
}

func (handler *Session) Stats(c *fiber.Ctx) error {
	stats, err := handler.Service.GetStats(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session stats",
		Results: stats,
	})
}

func (handler *Session) Cleanup(c *fiber.Ctx) error {
	removed, err := handler.Service.Cleanup(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Cleanup completed",
		Results: map[string]any{
			"removed": removed,
		},
	})
}

func (handler *Session) Get(c *fiber.Ctx) error {
	session, err := handler.Service.GetSession(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session found",
		Results: session,
	})
}

func (handler *Session) QR(c *fiber.Ctx) error {
	qr, err := handler.Service.GetSessionQR(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	if qr == nil {
		return c.JSON(utils.ResponseData{
			Status:  200,
			Code:    "NO_QR",
			Message: "No pairing payload available in the current state",
		})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "QR available",
		Results: qr,
	})
}

func (handler *Session) QRImage(c *fiber.Ctx) error {
	qr, err := handler.Service.GetSessionQR(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	if qr == nil {
		utils.PanicIfNeeded(pkgError.SessionNotConnectedError("no pairing payload available"))
	}

	png, err := qrcode.Encode(qr.Data, qrcode.Medium, 256)
	utils.PanicIfNeeded(err)

	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}

func (handler *Session) Start(c *fiber.Ctx) error {
	err := handler.Service.StartSession(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session started",
	})
}

func (handler *Session) Retry(c *fiber.Ctx) error {
	err := handler.Service.RetrySession(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session reset, start it again to reconnect",
	})
}

func (handler *Session) Finalize(c *fiber.Ctx) error {
	accountID, err := handler.Service.FinalizeSession(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session finalized",
		Results: map[string]any{
			"account_id": accountID,
		},
	})
}

func (handler *Session) Disconnect(c *fiber.Ctx) error {
	err := handler.Service.DisconnectSession(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session disconnected",
	})
}

func (handler *Session) Remove(c *fiber.Ctx) error {
	err := handler.Service.RemoveSession(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session removed",
	})
}
