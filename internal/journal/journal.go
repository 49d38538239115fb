package journal

/*
Файл journal.go реализует журнал исходов интеграционных вызовов —
движок для сбора и персистентности данных, по которым консоль строит
картину деградации интеграций.

Ключевые особенности архитектуры:
- Non-blocking Logging: неблокирующий канал между Hot Path (Guard) и воркером.
  Задержки записи в БД не влияют на время ответа бизнес-вызова.
- Batching & Efficiency: накопление событий в памяти и пакетная запись
  (Bulk Insert) в PostgreSQL по таймеру или при достижении лимита.
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью; sync.WaitGroup и закрытие канала гарантируют Final Flush.
- Reliability: устойчивость к кратковременным сбоям БД за счет изоляции воркера
  и использования контекста Background для завершающих операций.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []OutcomeEvent) error
}

type Journal struct {
	ch     chan OutcomeEvent // Буфер для асинхронности
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func New(repo StorageInterface, logger *zap.Logger) *Journal {
	return &Journal{
		ch:     make(chan OutcomeEvent, 10000), // Очередь на 10к событий
		repo:   repo,
		logger: logger.With(zap.String("mod", "journal")),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	atomic.StoreInt32(&j.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch) // Новые события больше не принимаются
	j.wg.Wait() // Воркер вычитает остатки и сделает финальный flush
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Log(event OutcomeEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Атомарно проверяем, не закрыт ли канал
	if atomic.LoadInt32(&j.isClosed) == 1 {
		j.logger.Warn("outcome event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Стратегия Load Shedding: переполненный буфер не блокирует Hot Path
	select {
	case j.ch <- event:
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("integration", event.Integration),
			zap.String("org_id", event.OrgID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]OutcomeEvent, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Используем Background, так как основной контекст может быть уже закрыт
			if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
				j.logger.Error("journal flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали всё — финальный сброс и выход
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
