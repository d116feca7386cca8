package api

import "github.com/gofiber/fiber/v2"

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeJobNotReady     = "JOB_NOT_READY"
	CodeServiceError    = "SERVICE_ERROR"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func errorJSON(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func validationError(c *fiber.Ctx, message string, details interface{}) error {
	return errorJSON(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func unauthorized(c *fiber.Ctx, message string) error {
	return errorJSON(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func notFound(c *fiber.Ctx, message string) error {
	return errorJSON(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func serviceError(c *fiber.Ctx, message string) error {
	return errorJSON(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

// errorHandler renders errors returned by handlers in the error envelope
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return errorJSON(c, code, CodeServiceError, message, nil)
}
