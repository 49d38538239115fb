package domain

import "time"

// DecisionSource — откуда пришло итоговое решение резолвера.
// Порядок приоритета (сверху вниз): env > org-override > global-override > default.
type DecisionSource string

const (
	SourceEnv            DecisionSource = "env"
	SourceOrgOverride    DecisionSource = "org-override"
	SourceGlobalOverride DecisionSource = "global-override"
	SourceDefault        DecisionSource = "default"
)

// TriggerSource — кто поставил оверрайд: автоматика (Panic Controller) или оператор.
type TriggerSource string

const (
	TriggerAuto   TriggerSource = "AUTO"
	TriggerManual TriggerSource = "MANUAL"
)

// AutoReasonPrefix — машинный префикс причины для автоматических оверрайдов.
// По нему Panic Controller на старте отличает свои записи от ручных.
const AutoReasonPrefix = "panic_auto:"

// Override — запись, перекрывающая статический дефолт capability.
// Инвариант хранилища: не более одного АКТИВНОГО оверрайда на пару (org_id, path),
// где org_id = nil означает глобальный оверрайд.
// Записи не удаляются физически: отзыв выставляет expires_at (история для аудита).
type Override struct {
	ID        string         `json:"id"`
	OrgID     *string        `json:"org_id,omitempty"` // nil — глобальный
	Path      CapabilityPath `json:"path"`
	Enabled   bool           `json:"enabled"`
	Reason    string         `json:"reason,omitempty"`
	SetBy     string         `json:"set_by,omitempty"` // ID оператора либо "panic-controller"
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Active — действует ли оверрайд в момент now (не истек по expires_at).
func (o *Override) Active(now time.Time) bool {
	if o == nil {
		return false
	}
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}

// Auto — оверрайд поставлен автоматикой (по префиксу причины).
func (o *Override) Auto() bool {
	if o == nil {
		return false
	}
	return len(o.Reason) >= len(AutoReasonPrefix) && o.Reason[:len(AutoReasonPrefix)] == AutoReasonPrefix
}

// OverrideInput — параметры создания/обновления оверрайда администратором или автоматикой.
type OverrideInput struct {
	OrgID     *string        `json:"org_id,omitempty"`
	Path      CapabilityPath `json:"path"`
	Enabled   bool           `json:"enabled"`
	Reason    string         `json:"reason,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// Decision — результат резолва capability с указанием источника.
type Decision struct {
	Enabled bool           `json:"enabled"`
	Source  DecisionSource `json:"source"`
}
