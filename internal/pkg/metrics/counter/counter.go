package counter

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/LukasBergmann/InvoForge/internal/pkg/cache"
	"github.com/LukasBergmann/InvoForge/internal/pkg/database"
)

const (
	attemptsKey   = "user:counters:generation_attempts"
	rejectionsKey = "user:counters:generation_rejections"
)

// AddGenerationAttempt increments the pending attempt counter for a user in Redis
func AddGenerationAttempt(userID uint) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(userID), 10)
	return cache.GetClient().HIncrBy(ctx, attemptsKey, field, 1).Err()
}

// AddGenerationRejection increments the pending rejection counter for a user in Redis
func AddGenerationRejection(userID uint) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(userID), 10)
	return cache.GetClient().HIncrBy(ctx, rejectionsKey, field, 1).Err()
}

// FlushAll flushes attempt and rejection counters to the database
func FlushAll() error {
	if err := flushHashToStats(attemptsKey, "attempted"); err != nil {
		return err
	}
	if err := flushHashToStats(rejectionsKey, "rejected"); err != nil {
		return err
	}
	return nil
}

// flushHashToStats drains a Redis hash atomically and applies batched increments
// to the generation_stats table. Uses RENAME to a temporary key for atomic drain
// without losing in-flight increments.
func flushHashToStats(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := redisKey + ":tmp:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	// Stats rows may not exist yet, so this is an upsert:
	// INSERT ... ON DUPLICATE KEY UPDATE column = column + VALUES(column)
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*2)
	builder.WriteString("INSERT INTO generation_stats (user_id, ")
	builder.WriteString(column)
	builder.WriteString(", updated_at) VALUES ")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("(?, ?, NOW())")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" ON DUPLICATE KEY UPDATE ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + VALUES(")
	builder.WriteString(column)
	builder.WriteString("), updated_at = NOW()")

	db := database.GetDB()
	return db.Exec(builder.String(), args...).Error
}
