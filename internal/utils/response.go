package utils

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response defines the standard envelope used by the admin API.
type Response struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    Meta        `json:"meta"`
}

// ErrorInfo provides details for error responses.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta contains request-scoped metadata.
type Meta struct {
	RequestID  string      `json:"requestId"`
	Timestamp  string      `json:"timestamp"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// Success writes a success response with the standard envelope.
func Success(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, Response{
		Success: true,
		Code:    code,
		Message: message,
		Data:    data,
		Meta: Meta{
			RequestID: getRequestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// SuccessWithPagination writes a success response with pagination metadata.
func SuccessWithPagination(c *gin.Context, code int, message string, data interface{}, page, limit, totalItems int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	c.JSON(code, Response{
		Success: true,
		Code:    code,
		Message: message,
		Data:    data,
		Meta: Meta{
			RequestID: getRequestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Pagination: &Pagination{
				Page:       page,
				Limit:      limit,
				TotalItems: totalItems,
				TotalPages: (totalItems + limit - 1) / limit,
			},
		},
	})
}

// Error writes an error response with provided API error code and message.
func Error(c *gin.Context, code int, errCode, message string) {
	c.JSON(code, Response{
		Success: false,
		Code:    code,
		Message: message,
		Error: &ErrorInfo{
			Code:    errCode,
			Message: message,
		},
		Meta: Meta{
			RequestID: getRequestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return uuid.New().String()[:8]
}

// Ack codes returned by the ingest endpoints. Ad platforms read the code
// field rather than the HTTP status.
const (
	AckOK              = 0
	AckValidationError = 40001
	AckRateLimited     = 42901
	AckInternalError   = 50001
	AckForwardFailed   = 50201
)

// Ack is the envelope the ingest endpoints answer with.
type Ack struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

var jsonpNamePattern = regexp.MustCompile(`^[A-Za-z_$][0-9A-Za-z_$.]{0,63}$`)

// ValidJSONPCallback reports whether name is safe to echo as a JSONP function name.
func ValidJSONPCallback(name string) bool {
	return jsonpNamePattern.MatchString(name)
}

// WriteAck writes ack as JSON, or as `fn(<json>)` when jsonpFn is a valid
// function name. JSONP answers always use HTTP 200 so the script loads.
func WriteAck(c *gin.Context, status int, ack Ack, jsonpFn string) {
	if jsonpFn == "" || !ValidJSONPCallback(jsonpFn) {
		c.JSON(status, ack)
		return
	}

	body, err := json.Marshal(ack)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Ack{Code: AckInternalError, Message: "encode failed"})
		return
	}
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", WrapJSONP(jsonpFn, body))
}

// WrapJSONP renders fn(body).
func WrapJSONP(fn string, body []byte) []byte {
	out := make([]byte, 0, len(fn)+len(body)+2)
	out = append(out, fn...)
	out = append(out, '(')
	out = append(out, body...)
	out = append(out, ')')
	return out
}
