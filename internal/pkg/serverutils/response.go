package serverutils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// BaseResponse is the {code, msg, data} envelope shared with the notebook API.
type BaseResponse struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

func SuccessResponse(msg string, data interface{}) BaseResponse {
	return BaseResponse{Code: fiber.StatusOK, Msg: msg, Data: data}
}

func ErrorResponse(code int, msg string) BaseResponse {
	return BaseResponse{Code: code, Msg: msg}
}

// ErrorHandler renders every returned error as an envelope whose code
// mirrors the HTTP status.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"

	var fe *fiber.Error
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		code = fiber.StatusBadRequest
		msg = ve.Error()
	case errors.As(err, &fe):
		code = fe.Code
		msg = fe.Message
	}

	return ctx.Status(code).JSON(ErrorResponse(code, msg))
}
