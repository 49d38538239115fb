package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/infra"
)

// admitScript — атомарный check-and-increment на стороне Redis.
// KEYS[1] = hash активных счетчиков очереди, ARGV[1] = org, ARGV[2] = limit.
// Скрипт исполняется в Redis атомарно, поэтому потолки тенантов сходятся точно
// при любом количестве конкурирующих воркеров.
var admitScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if current >= tonumber(ARGV[2]) then
  return 0
end
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
return 1
`)

// releaseScript — декремент с полом в ноль (двойной release не уводит счетчик в минус).
var releaseScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if current <= 0 then
  return 0
end
local left = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if left <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
end
return 1
`)

// RedisState — продакшен-реализация StateStore.
// Раскладка ключей описана в infra/rediskeys.go.
type RedisState struct {
	rdb *redis.Client
}

func NewRedisState(rdb *redis.Client) *RedisState {
	return &RedisState{rdb: rdb}
}

func (s *RedisState) AdmitSlot(ctx context.Context, queue, orgID string, limit int64) (bool, error) {
	res, err := admitScript.Run(ctx, s.rdb,
		[]string{infra.QueueKey(infra.RedisKeyQueueActive, queue)},
		orgID, limit,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: admit slot: %w", err)
	}
	return res == 1, nil
}

func (s *RedisState) ReleaseSlot(ctx context.Context, queue, orgID string) error {
	err := releaseScript.Run(ctx, s.rdb,
		[]string{infra.QueueKey(infra.RedisKeyQueueActive, queue)},
		orgID,
	).Err()
	if err != nil {
		return fmt.Errorf("redis: release slot: %w", err)
	}
	return nil
}

func (s *RedisState) ActiveCounts(ctx context.Context, queue string) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, infra.QueueKey(infra.RedisKeyQueueActive, queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: active counts: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for org, v := range raw {
		n, _ := strconv.ParseInt(v, 10, 64)
		out[org] = n
	}
	return out, nil
}

func (s *RedisState) PushPending(ctx context.Context, queue, orgID string, job domain.PendingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, infra.PendingKey(queue, orgID), payload)
	pipe.SAdd(ctx, infra.QueueKey(infra.RedisKeyQueueOrgs, queue), orgID)
	pipe.HSet(ctx, infra.QueueKey(infra.RedisKeyQueueLeases, queue)+":meta",
		job.JobID, job.EnqueuedAt.UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push pending: %w", err)
	}
	return nil
}

func (s *RedisState) PopPending(ctx context.Context, queue, orgID string) (*domain.PendingJob, error) {
	raw, err := s.rdb.LPop(ctx, infra.PendingKey(queue, orgID)).Result()
	if err == redis.Nil {
		// Бэклог пуст — снимаем тенанта из набора ожидающих
		s.rdb.SRem(ctx, infra.QueueKey(infra.RedisKeyQueueOrgs, queue), orgID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: pop pending: %w", err)
	}

	var job domain.PendingJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("redis: decode pending job: %w", err)
	}
	return &job, nil
}

func (s *RedisState) PendingCounts(ctx context.Context, queue string) (map[string]int64, error) {
	orgs, err := s.rdb.SMembers(ctx, infra.QueueKey(infra.RedisKeyQueueOrgs, queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: pending orgs: %w", err)
	}

	out := make(map[string]int64, len(orgs))
	for _, org := range orgs {
		n, err := s.rdb.LLen(ctx, infra.PendingKey(queue, org)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: pending count: %w", err)
		}
		if n > 0 {
			out[org] = n
		} else {
			// Ленивая уборка опустевших тенантов
			s.rdb.SRem(ctx, infra.QueueKey(infra.RedisKeyQueueOrgs, queue), org)
		}
	}
	return out, nil
}

func (s *RedisState) TrackLease(ctx context.Context, queue, orgID, jobID string, startedAt time.Time) (time.Time, error) {
	metaKey := infra.QueueKey(infra.RedisKeyQueueLeases, queue) + ":meta"

	pipe := s.rdb.TxPipeline()
	getCmd := pipe.HGet(ctx, metaKey, jobID)
	pipe.HDel(ctx, metaKey, jobID)
	pipe.ZAdd(ctx, infra.QueueKey(infra.RedisKeyQueueLeases, queue), redis.Z{
		Score:  float64(startedAt.UnixMilli()),
		Member: leaseMember(orgID, jobID),
	})
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return time.Time{}, fmt.Errorf("redis: track lease: %w", err)
	}

	var enqueuedAt time.Time
	if ms, err := getCmd.Int64(); err == nil && ms > 0 {
		enqueuedAt = time.UnixMilli(ms)
	}
	return enqueuedAt, nil
}

func (s *RedisState) ReleaseLease(ctx context.Context, queue, orgID, jobID string) (time.Time, bool, error) {
	key := infra.QueueKey(infra.RedisKeyQueueLeases, queue)
	member := leaseMember(orgID, jobID)

	score, err := s.rdb.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: release lease: %w", err)
	}

	if err := s.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return time.Time{}, false, fmt.Errorf("redis: release lease: %w", err)
	}
	return time.UnixMilli(int64(score)), true, nil
}

func (s *RedisState) ExpiredLeases(ctx context.Context, queue string, cutoff time.Time) ([]domain.JobLease, error) {
	raw, err := s.rdb.ZRangeByScoreWithScores(ctx, infra.QueueKey(infra.RedisKeyQueueLeases, queue),
		&redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(cutoff.UnixMilli(), 10)},
	).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: expired leases: %w", err)
	}

	out := make([]domain.JobLease, 0, len(raw))
	for _, z := range raw {
		member, _ := z.Member.(string)
		org, job, ok := splitLeaseMember(member)
		if !ok {
			continue
		}
		out = append(out, domain.JobLease{
			Queue: queue, OrgID: org, JobID: job,
			StartedAt: time.UnixMilli(int64(z.Score)),
		})
	}
	return out, nil
}

func (s *RedisState) Cursor(ctx context.Context, queue string) (string, error) {
	cursor, err := s.rdb.Get(ctx, infra.QueueKey(infra.RedisKeyQueueCursor, queue)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: cursor: %w", err)
	}
	return cursor, nil
}

func (s *RedisState) SetCursor(ctx context.Context, queue, orgID string) error {
	if err := s.rdb.Set(ctx, infra.QueueKey(infra.RedisKeyQueueCursor, queue), orgID, 0).Err(); err != nil {
		return fmt.Errorf("redis: set cursor: %w", err)
	}
	return nil
}

func (s *RedisState) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "processing", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: try lock: %w", err)
	}
	return ok, nil
}
