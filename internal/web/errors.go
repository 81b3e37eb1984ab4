package web

import (
	"net/http"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/core"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/logging"
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
}

// respondError logs err and writes its user-facing message with the
// status it maps to.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	logger := logging.FromContext(r.Context())
	if msg.Status >= http.StatusInternalServerError {
		logger.Error("request error", "path", r.URL.Path, "status", msg.Status, "code", msg.Code, "error", err)
	} else {
		logger.Info("request rejected", "path", r.URL.Path, "status", msg.Status, "code", msg.Code, "error", err)
	}
	respondMessage(w, msg)
}

func respondMessage(w http.ResponseWriter, msg core.UserMessage) {
	writeJSON(w, msg.Status, ErrorResponse{
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Detail:  msg.Detail,
	})
}

// badRequest reports a malformed request that never reached the service.
func badRequest(w http.ResponseWriter, message, action string) {
	respondMessage(w, core.UserMessage{
		Message: message,
		Action:  action,
		Code:    "REQ001",
		Status:  http.StatusBadRequest,
	})
}
