package domain

import "errors"

// Таксономия ошибок контрол-плейна.
// Принцип: из проверок (IsEnabled/Ensure/Admit) наружу НИКОГДА не летит ошибка —
// деградация превращается в безопасный bool плюс лог/метрику. Ошибки видят только
// административные операции записи.
var (
	// ErrStoreUnavailable — Override Store недоступен. Резолвер на нее не падает,
	// а отдает последний закэшированный результат; получают ее только админ-операции.
	ErrStoreUnavailable = errors.New("override store unavailable")

	// ErrOverrideConflict — запись нарушила бы инвариант "один активный оверрайд на (org, path)".
	ErrOverrideConflict = errors.New("override conflict")

	// ErrUnknownCapability — путь не проходит валидацию (для админ-записей и CLI).
	// На чтении неизвестный путь НЕ ошибка: fail-open с warning.
	ErrUnknownCapability = errors.New("unknown capability path")

	// ErrUnknownIntegration — интеграция не зарегистрирована в Panic Controller.
	ErrUnknownIntegration = errors.New("unknown integration")

	// ErrCapabilityDisabled — управляющий сигнал Guard'а: capability выключена,
	// бизнес-слой должен выполнить свой fallback. Это не сбой.
	ErrCapabilityDisabled = errors.New("capability disabled")
)
