package stt

import (
	"fmt"
	"net/http"

	"github.com/vocalrelay/turnloop/pkg/orchestrator"
)

// classifyHTTPError maps a non-200 ASR Service response to the runtime's
// error taxonomy: a 401/403 means the configured credentials were rejected,
// which SessionRuntime treats as grounds to tear the whole session down
// rather than just failing the one turn.
func classifyHTTPError(provider string, statusCode int, body string) error {
	base := fmt.Errorf("%s stt error (status %d): %s", provider, statusCode, body)
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %v", orchestrator.ErrSessionExpired, base)
	}
	return fmt.Errorf("%w: %v", orchestrator.ErrTranscriptionFailed, base)
}
