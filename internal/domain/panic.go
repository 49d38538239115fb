package domain

import "time"

// PanicPhase — фаза интеграции в терминах circuit breaker'а платформы.
type PanicPhase string

const (
	PhaseNormal   PanicPhase = "NORMAL"
	PhasePanicked PanicPhase = "PANICKED"
)

// PanicState — состояние одной интеграции внутри Panic Controller.
// Персистентности у него нет: источником правды служит дизейбл-оверрайд
// в Override Store, из которого состояние восстанавливается на старте.
type PanicState struct {
	Integration string        `json:"integration"`
	Phase       PanicPhase    `json:"phase"`
	TriggeredAt time.Time     `json:"triggered_at,omitzero"`
	Reason      string        `json:"reason,omitempty"`
	TriggeredBy TriggerSource `json:"triggered_by,omitempty"`

	// Счетчик последовательных успешных проб для авто-восстановления.
	RecoverySuccesses int `json:"recovery_successes"`
}

// IntegrationStatus — срез состояния для GetStatus()/консоли/CLI.
type IntegrationStatus struct {
	Integration string         `json:"integration"`
	Capability  CapabilityPath `json:"capability"`
	Phase       PanicPhase     `json:"phase"`
	TriggeredBy TriggerSource  `json:"triggered_by,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Since       time.Duration  `json:"since,omitempty"` // Сколько времени в PANICKED
}
