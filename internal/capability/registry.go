package capability

import (
	"sort"

	"github.com/xela07ax/capgate/internal/domain"
)

// Definition — статическая запись реестра: путь, дефолт и описание.
type Definition struct {
	Path        domain.CapabilityPath
	Default     bool
	Description string
}

// Registry — неизменяемая таблица известных capability.
// Собирается один раз на старте процесса и дальше только читается,
// поэтому никакой синхронизации не нужно.
type Registry struct {
	defs map[string]Definition
}

func NewRegistry(defs []Definition) *Registry {
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		m[d.Path.String()] = d
	}
	return &Registry{defs: m}
}

// DefaultRegistry — реестр платформы.
// external.* — интеграции, которые умеет гасить Panic Controller;
// остальные категории — продуктовые переключатели.
func DefaultRegistry() *Registry {
	ext := func(name, desc string) Definition {
		return Definition{
			Path:        domain.CapabilityPath{Category: domain.CategoryExternal, Name: name},
			Default:     true,
			Description: desc,
		}
	}
	return NewRegistry([]Definition{
		ext("afip", "Фискальная выписка счетов (AFIP)"),
		ext("mercadopago", "Прием платежей Mercado Pago"),
		ext("whatsapp", "Отправка сообщений WhatsApp Business API"),
		ext("speech", "Распознавание речи для голосовых заметок"),
		{Path: domain.CapabilityPath{Category: domain.CategoryDomain, Name: "auto_invoicing"}, Default: true,
			Description: "Автовыписка счетов по расписанию"},
		{Path: domain.CapabilityPath{Category: domain.CategoryDomain, Name: "bulk_messaging"}, Default: true,
			Description: "Массовые рассылки"},
		{Path: domain.CapabilityPath{Category: domain.CategoryServices, Name: "report_export"}, Default: true,
			Description: "Экспорт отчетов в фоне"},
		{Path: domain.CapabilityPath{Category: domain.CategoryUI, Name: "new_dashboard"}, Default: false,
			Description: "Новая версия дашборда"},
	})
}

// Lookup возвращает определение и флаг присутствия в реестре.
func (r *Registry) Lookup(path domain.CapabilityPath) (Definition, bool) {
	d, ok := r.defs[path.String()]
	return d, ok
}

// Known — зарегистрирован ли путь.
func (r *Registry) Known(path domain.CapabilityPath) bool {
	_, ok := r.defs[path.String()]
	return ok
}

// All возвращает определения в стабильном порядке (для snapshot и CLI status).
func (r *Registry) All() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path.String() < out[j].Path.String()
	})
	return out
}
