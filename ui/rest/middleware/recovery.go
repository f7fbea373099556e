package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	pkgError "github.com/AzielCF/az-hub/pkg/error"
	"github.com/AzielCF/az-hub/pkg/utils"
)

// Recovery converts handler panics into JSON error responses. Typed errors
// raised through utils.PanicIfNeeded carry their own status and code; anything
// else becomes a 500.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			res := utils.ResponseData{
				Status:  fiber.StatusInternalServerError,
				Code:    "INTERNAL_SERVER_ERROR",
				Message: fmt.Sprintf("%v", recovered),
			}
			if typed, ok := recovered.(pkgError.GenericError); ok {
				res.Status = typed.StatusCode()
				res.Code = typed.ErrCode()
				res.Message = typed.Error()
			}

			logrus.WithFields(logrus.Fields{
				"path":   ctx.Path(),
				"status": res.Status,
			}).Errorf("[REST] Recovered panic: %v", recovered)

			_ = ctx.Status(res.Status).JSON(res)
		}()

		return ctx.Next()
	}
}
