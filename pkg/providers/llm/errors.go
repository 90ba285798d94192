package llm

import (
	"fmt"
	"net/http"

	"github.com/vocalrelay/turnloop/pkg/orchestrator"
)

// classifyHTTPError maps a non-200 Generator Service response to the
// runtime's error taxonomy: a 401/403 means the configured credentials were
// rejected, which SessionRuntime treats as grounds to tear the whole
// session down rather than just failing the one turn. Anything else is a
// generic generation failure the caller handles by closing just that turn.
func classifyHTTPError(provider string, statusCode int, body interface{}) error {
	base := fmt.Errorf("%s llm error (status %d): %v", provider, statusCode, body)
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %v", orchestrator.ErrSessionExpired, base)
	}
	return fmt.Errorf("%w: %v", orchestrator.ErrGenerationFailed, base)
}
