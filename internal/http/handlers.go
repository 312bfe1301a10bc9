package http

import (
	"github.com/gofiber/fiber/v2"

	"soulcrush/internal/common"
)

// writeError maps an error onto a status code using its AppError code.
// Errors without a code are reported as internal errors.
func writeError(c *fiber.Ctx, err error) error {
	code := common.CodeOf(err)
	status := fiber.StatusInternalServerError
	switch code {
	case common.CodeValidation, common.CodeInvalidStatus:
		status = fiber.StatusBadRequest
	case common.CodeStore, common.CodeDecode:
	default:
		code = "INTERNAL_ERROR"
	}
	return c.Status(status).JSON(ErrorResponse{
		Success: false,
		Code:    code,
		Error:   err.Error(),
	})
}

func badRequest(c *fiber.Ctx, code, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Success: false,
		Code:    code,
		Error:   msg,
	})
}
