package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                      = 0
	CodeValidation              = 40000
	CodeInvalidFormat           = 40001
	CodeInsufficientScreenshots = 40002
	CodeMissingText             = 40003
	CodeUnauthorized            = 40100
	CodeSessionNotFound         = 40401
	CodeInvalidState            = 40901
	CodeSessionExpired          = 41001
	CodeImageTooLarge           = 41301
	CodeInternalServer          = 50000
	CodeUpstreamFailure         = 50201
	CodeGradingUnavailable      = 50301
)

var stableCodes = map[int]string{
	CodeValidation:              "VALIDATION_ERROR",
	CodeInvalidFormat:           "INVALID_FORMAT",
	CodeInsufficientScreenshots: "INSUFFICIENT_SCREENSHOTS",
	CodeMissingText:             "MISSING_TEXT",
	CodeUnauthorized:            "UNAUTHORIZED",
	CodeSessionNotFound:         "SESSION_NOT_FOUND",
	CodeInvalidState:            "INVALID_STATE",
	CodeSessionExpired:          "SESSION_EXPIRED",
	CodeImageTooLarge:           "IMAGE_TOO_LARGE",
	CodeInternalServer:          "INTERNAL_ERROR",
	CodeUpstreamFailure:         "UPSTREAM_FAILURE",
	CodeGradingUnavailable:      "GRADING_UNAVAILABLE",
}

type APIResponse struct {
	Code    int         `json:"code"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	JSON(c, 200, data)
}

func JSON(c *gin.Context, httpStatus int, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Error:   StableCode(code),
		Message: message,
	})
}

// StableCode is the string form clients switch on.
func StableCode(code int) string {
	if s, ok := stableCodes[code]; ok {
		return s
	}
	return stableCodes[CodeInternalServer]
}
