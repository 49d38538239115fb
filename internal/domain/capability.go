package domain

import (
	"fmt"
	"strings"
)

// Category — закрытый набор категорий возможностей (capabilities).
// Любое другое значение считается неизвестным и не проходит валидацию.
type Category string

const (
	CategoryExternal Category = "external" // Внешние интеграции (AFIP, Mercado Pago, WhatsApp...)
	CategoryDomain   Category = "domain"   // Бизнес-фичи
	CategoryServices Category = "services" // Внутренние сервисы платформы
	CategoryUI       Category = "ui"       // Клиентские фичи
)

// Valid проверяет, что категория входит в закрытый перечень.
func (c Category) Valid() bool {
	switch c {
	case CategoryExternal, CategoryDomain, CategoryServices, CategoryUI:
		return true
	}
	return false
}

// CapabilityPath — типизированный идентификатор "category.name" (например "external.afip").
// Вместо сырых строк используем структуру: опечатка ловится на этапе Parse,
// а не молча отключает не ту функциональность.
type CapabilityPath struct {
	Category Category `json:"category"`
	Name     string   `json:"name"`
}

// ParseCapabilityPath разбирает строку вида "external.afip".
// Неизвестная категория — ошибка; неизвестное имя здесь НЕ проверяется,
// это зона ответственности реестра (Registry), у которого есть явный режим "unknown path".
func ParseCapabilityPath(s string) (CapabilityPath, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return CapabilityPath{}, fmt.Errorf("%w: %q (want category.name)", ErrUnknownCapability, s)
	}

	cat := Category(strings.ToLower(parts[0]))
	if !cat.Valid() {
		return CapabilityPath{}, fmt.Errorf("%w: category %q", ErrUnknownCapability, parts[0])
	}

	return CapabilityPath{Category: cat, Name: strings.ToLower(parts[1])}, nil
}

func (p CapabilityPath) String() string {
	return string(p.Category) + "." + p.Name
}

// EnvVar возвращает имя переменной окружения для аварийного оверрайда.
// Конвенция: CAPABILITY_EXTERNAL_AFIP=true|false
func (p CapabilityPath) EnvVar() string {
	return "CAPABILITY_" + strings.ToUpper(string(p.Category)) + "_" +
		strings.ToUpper(strings.ReplaceAll(p.Name, ".", "_"))
}

// IsZero — пустой путь (не проинициализирован).
func (p CapabilityPath) IsZero() bool {
	return p.Category == "" && p.Name == ""
}
