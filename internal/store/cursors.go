package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// advanceCursorScript moves a consumer-group cursor forward. The
// compare runs server-side so that concurrent acknowledgments cannot
// rewind an already-advanced cursor.
var advanceCursorScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
local nms, nseq = string.match(ARGV[2], '^(%d+)%-(%d+)$')
if not nms then
	return redis.error_reply('invalid cursor id')
end
if cur then
	local cms, cseq = string.match(cur, '^(%d+)%-(%d+)$')
	if cms then
		cms = tonumber(cms)
		cseq = tonumber(cseq)
		nms = tonumber(nms)
		nseq = tonumber(nseq)
		if nms < cms or (nms == cms and nseq <= cseq) then
			return cur
		end
	end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return ARGV[2]
`)

// cursors tracks per-group acknowledgment positions in a Redis hash.
// Both store backends embed it.
type cursors struct {
	rdb *redis.Client
	key string
}

func (c cursors) Cursor(ctx context.Context, group string) (string, error) {
	id, err := c.rdb.HGet(ctx, c.key, group).Result()
	if errors.Is(err, redis.Nil) {
		return ZeroID, nil
	}
	if err != nil {
		return "", storeErr("cursor", err)
	}
	return id, nil
}

func (c cursors) AdvanceCursor(ctx context.Context, group, id string) error {
	if err := advanceCursorScript.Run(ctx, c.rdb, []string{c.key}, group, id).Err(); err != nil {
		return storeErr("advance cursor", err)
	}
	return nil
}
