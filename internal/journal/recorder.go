package journal

import (
	"time"

	"github.com/google/uuid"
)

// Record реализует интерфейс capability.OutcomeRecorder.
func (j *Journal) Record(integration, orgID, capabilityPath string, success bool, callErr error, duration time.Duration) {
	event := OutcomeEvent{
		ID:          uuid.New().String(),
		Integration: integration,
		OrgID:       orgID,
		Capability:  capabilityPath,
		Success:     success,
		DurationMs:  duration.Milliseconds(),
		Timestamp:   time.Now(),
	}
	if callErr != nil {
		event.Error = callErr.Error()
	}
	j.Log(event)
}
