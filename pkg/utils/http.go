package utils

import (
	"encoding/json"
	"net/http"

	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"go.uber.org/zap"
)

// WriteJSONResponse writes data as a JSON body with statusCode.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger.Log != nil {
		logger.Log.Warn("Failed to encode JSON response", zap.Error(err))
	}
}
