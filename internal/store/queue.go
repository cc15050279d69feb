package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaykit/whatsrelay/internal/models"
)

// idPlaceholder is substituted server-side once the id is assigned, so
// that id assignment and list insertion happen in a single atomic step.
const idPlaceholder = "@@ID@@"

// queueAppendScript assigns the next monotonic id and pushes the
// envelope in one atomic step. The last assigned id is kept alongside
// the list so concurrent appends never produce duplicate or
// out-of-order ids, even if the clock steps backwards.
var queueAppendScript = redis.NewScript(`
local ms = tonumber(ARGV[1])
local seq = 0
local last = redis.call('GET', KEYS[2])
if last then
	local lms, lseq = string.match(last, '^(%d+)%-(%d+)$')
	if lms then
		lms = tonumber(lms)
		lseq = tonumber(lseq)
		if ms < lms then
			ms = lms
		end
		if ms == lms then
			seq = lseq + 1
		end
	end
end
local id = ms .. '-' .. seq
redis.call('SET', KEYS[2], id)
local payload = string.gsub(ARGV[2], '@@ID@@', id, 1)
redis.call('LPUSH', KEYS[1], payload)
return id
`)

// Queue is the legacy list-backed store. New envelopes are pushed at
// the head, so the list reads newest-first and pop consumes from the
// tail (FIFO).
type Queue struct {
	rdb *redis.Client
	key string // list of envelope JSON, newest first
	seq string // last assigned id
	cursors
}

// NewQueue creates a list-backed store under the given key prefix.
func NewQueue(rdb *redis.Client, prefix string) *Queue {
	return &Queue{
		rdb:     rdb,
		key:     prefix + ":incoming",
		seq:     prefix + ":incoming:last-id",
		cursors: cursors{rdb: rdb, key: prefix + ":cursors"},
	}
}

func (q *Queue) Append(ctx context.Context, env *models.Envelope) (string, error) {
	stamped := *env
	stamped.ID = idPlaceholder
	payload, err := json.Marshal(&stamped)
	if err != nil {
		return "", err
	}

	id, err := queueAppendScript.Run(ctx, q.rdb,
		[]string{q.key, q.seq},
		time.Now().UnixMilli(), string(payload),
	).Text()
	if err != nil {
		return "", storeErr("append", err)
	}
	env.ID = id
	return id, nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, storeErr("length", err)
	}
	return n, nil
}

func (q *Queue) Peek(ctx context.Context, start, stop int64) ([]models.Envelope, error) {
	items, err := q.rdb.LRange(ctx, q.key, start, stop).Result()
	if err != nil {
		return nil, storeErr("peek", err)
	}
	return decodeAll(items)
}

func (q *Queue) Pop(ctx context.Context, count int64) ([]models.Envelope, error) {
	if count <= 0 {
		return []models.Envelope{}, nil
	}

	// Pipelined RPOPs: each removal is atomic per item, so concurrent
	// pops never both receive the same envelope.
	pipe := q.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, count)
	for i := range cmds {
		cmds[i] = pipe.RPop(ctx, q.key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeErr("pop", err)
	}

	// Collect every non-empty reply. The pipeline is not atomic against
	// other connections, so a concurrent append can slip an envelope in
	// after the list drained; a later RPOP in the same pipeline then
	// removes it and it must still be returned.
	envs := make([]models.Envelope, 0, count)
	for _, cmd := range cmds {
		item, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, storeErr("pop", err)
		}
		env, err := decode(item)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (q *Queue) ReadAfter(ctx context.Context, lastID string, count int64) ([]models.Envelope, error) {
	if count <= 0 {
		return []models.Envelope{}, nil
	}
	items, err := q.rdb.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, storeErr("read", err)
	}

	// The list is newest-first; walk it backwards to read in append order.
	envs := make([]models.Envelope, 0, count)
	for i := len(items) - 1; i >= 0 && int64(len(envs)) < count; i-- {
		env, err := decode(items[i])
		if err != nil {
			return nil, err
		}
		if CompareIDs(env.ID, lastID) > 0 {
			envs = append(envs, env)
		}
	}
	return envs, nil
}

func (q *Queue) Trace(ctx context.Context, jid string, limit int64) ([]models.Envelope, error) {
	if limit <= 0 {
		return []models.Envelope{}, nil
	}
	items, err := q.rdb.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, storeErr("trace", err)
	}

	envs := make([]models.Envelope, 0, limit)
	for _, item := range items {
		env, err := decode(item)
		if err != nil {
			return nil, err
		}
		if matchJID(env.JID, jid) {
			envs = append(envs, env)
			if int64(len(envs)) >= limit {
				break
			}
		}
	}
	return envs, nil
}

func (q *Queue) Info(ctx context.Context) (*StreamInfo, error) {
	length, err := q.Length(ctx)
	if err != nil {
		return nil, err
	}
	info := &StreamInfo{Length: length}
	if length == 0 {
		return info, nil
	}

	// Head of the list is the newest entry, tail the oldest.
	oldest, err := q.rdb.LIndex(ctx, q.key, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeErr("info", err)
	}
	newest, err := q.rdb.LIndex(ctx, q.key, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeErr("info", err)
	}
	if oldest != "" {
		env, err := decode(oldest)
		if err != nil {
			return nil, err
		}
		info.First = &env
	}
	if newest != "" {
		env, err := decode(newest)
		if err != nil {
			return nil, err
		}
		info.Last = &env
	}
	return info, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.rdb.Close()
}

func decode(item string) (models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal([]byte(item), &env); err != nil {
		return env, storeErr("decode", err)
	}
	return env, nil
}

func decodeAll(items []string) ([]models.Envelope, error) {
	envs := make([]models.Envelope, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		env, err := decode(item)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}
