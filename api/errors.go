package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// Error is a non-2xx answer from the board API.
type Error struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// Is lets callers match auth failures with the domain sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case domain.ErrSessionExpired:
		return e.StatusCode == http.StatusUnauthorized
	case domain.ErrPermissionDenied:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

// errorMessage extracts a readable message from an error body. The server
// answers either with plain text or with {"error": ...} / {"message": ...}.
func errorMessage(body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return ""
	}
	var obj struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if body[0] == '{' && sonic.Unmarshal(body, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen])
	}
	return string(body)
}
