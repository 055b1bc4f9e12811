package apiserver

import (
	"encoding/json"
	"log"
	"net/http"

	"chatsync/internal/apperr"
)

// ErrorResponse 是 JSON 错误响应体。
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// 头部已发出，只能记录
			log.Printf("无法编码 JSON 响应: %v", err)
		}
	}
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}

// statusForError 把业务错误的类别映射为 HTTP 状态码。
func statusForError(err error) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Forbidden, apperr.Blocked:
		return http.StatusForbidden
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Invalid:
		return http.StatusBadRequest
	case apperr.Transient, apperr.Offline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError 按错误类别发送响应；内部错误不外泄细节。
func writeServiceError(w http.ResponseWriter, err error, internalMessage string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s: %v", internalMessage, err)
		writeJSONError(w, internalMessage, status)
		return
	}
	writeJSONError(w, err.Error(), status)
}
