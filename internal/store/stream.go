package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/relaykit/whatsrelay/internal/models"
)

// envelopeField is the single stream entry field holding the envelope JSON.
const envelopeField = "envelope"

// traceScanPage bounds how many entries a trace scan pulls per round trip.
const traceScanPage = 256

// streamPopScript reads and deletes the oldest entries in one atomic
// step, so the range and the removal cannot interleave with a
// concurrent pop or append. Returns a flat [id, payload, ...] array.
var streamPopScript = redis.NewScript(`
local entries = redis.call('XRANGE', KEYS[1], '-', '+', 'COUNT', tonumber(ARGV[1]))
local out = {}
for i, entry in ipairs(entries) do
	redis.call('XDEL', KEYS[1], entry[1])
	out[2*i-1] = entry[1]
	out[2*i] = entry[2][2]
end
return out
`)

// Stream is the Redis Stream backed store. Ids are assigned by XADD and
// therefore linearizable; the envelope JSON is stored without its id
// and re-stamped from the entry id on every read.
type Stream struct {
	rdb *redis.Client
	key string
	cursors
}

// NewStream creates a stream-backed store under the given key prefix.
func NewStream(rdb *redis.Client, prefix string) *Stream {
	return &Stream{
		rdb:     rdb,
		key:     prefix + ":stream",
		cursors: cursors{rdb: rdb, key: prefix + ":cursors"},
	}
}

func (s *Stream) Append(ctx context.Context, env *models.Envelope) (string, error) {
	unstamped := *env
	unstamped.ID = ""
	payload, err := json.Marshal(&unstamped)
	if err != nil {
		return "", err
	}

	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		Values: map[string]interface{}{envelopeField: string(payload)},
	}).Result()
	if err != nil {
		return "", storeErr("append", err)
	}
	env.ID = id
	return id, nil
}

func (s *Stream) Length(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.key).Result()
	if err != nil {
		return 0, storeErr("length", err)
	}
	return n, nil
}

func (s *Stream) Peek(ctx context.Context, start, stop int64) ([]models.Envelope, error) {
	if stop < 0 || stop < start {
		return []models.Envelope{}, nil
	}
	msgs, err := s.rdb.XRevRangeN(ctx, s.key, "+", "-", stop+1).Result()
	if err != nil {
		return nil, storeErr("peek", err)
	}
	if start >= int64(len(msgs)) {
		return []models.Envelope{}, nil
	}
	return decodeMessages(msgs[start:])
}

func (s *Stream) Pop(ctx context.Context, count int64) ([]models.Envelope, error) {
	if count <= 0 {
		return []models.Envelope{}, nil
	}
	res, err := streamPopScript.Run(ctx, s.rdb, []string{s.key}, count).Result()
	if err != nil {
		return nil, storeErr("pop", err)
	}

	flat, ok := res.([]interface{})
	if !ok {
		return nil, storeErr("pop", fmt.Errorf("unexpected reply type %T", res))
	}
	envs := make([]models.Envelope, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		id, _ := flat[i].(string)
		payload, _ := flat[i+1].(string)
		env, err := decode(payload)
		if err != nil {
			return nil, err
		}
		env.ID = id
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *Stream) ReadAfter(ctx context.Context, lastID string, count int64) ([]models.Envelope, error) {
	if count <= 0 {
		return []models.Envelope{}, nil
	}
	start := lastID
	if start == "" || start == ZeroID {
		start = "-"
	}

	// The range start is inclusive, so over-fetch by one and drop any
	// entry at or before the cursor.
	msgs, err := s.rdb.XRangeN(ctx, s.key, start, "+", count+1).Result()
	if err != nil {
		return nil, storeErr("read", err)
	}

	envs := make([]models.Envelope, 0, count)
	for _, msg := range msgs {
		if CompareIDs(msg.ID, lastID) <= 0 {
			continue
		}
		env, err := decodeMessage(msg)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
		if int64(len(envs)) >= count {
			break
		}
	}
	return envs, nil
}

func (s *Stream) Trace(ctx context.Context, jid string, limit int64) ([]models.Envelope, error) {
	if limit <= 0 {
		return []models.Envelope{}, nil
	}

	envs := make([]models.Envelope, 0, limit)
	end := "+"
	skip := ""
	for {
		msgs, err := s.rdb.XRevRangeN(ctx, s.key, end, "-", traceScanPage).Result()
		if err != nil {
			return nil, storeErr("trace", err)
		}
		for _, msg := range msgs {
			if msg.ID == skip {
				continue
			}
			env, err := decodeMessage(msg)
			if err != nil {
				return nil, err
			}
			if matchJID(env.JID, jid) {
				envs = append(envs, env)
				if int64(len(envs)) >= limit {
					return envs, nil
				}
			}
		}
		if len(msgs) < traceScanPage {
			return envs, nil
		}
		// Next page starts at the oldest id seen; it reappears first and
		// is skipped.
		end = msgs[len(msgs)-1].ID
		skip = end
	}
}

func (s *Stream) Info(ctx context.Context) (*StreamInfo, error) {
	length, err := s.Length(ctx)
	if err != nil {
		return nil, err
	}
	info := &StreamInfo{Length: length}
	if length == 0 {
		return info, nil
	}

	first, err := s.rdb.XRangeN(ctx, s.key, "-", "+", 1).Result()
	if err != nil {
		return nil, storeErr("info", err)
	}
	last, err := s.rdb.XRevRangeN(ctx, s.key, "+", "-", 1).Result()
	if err != nil {
		return nil, storeErr("info", err)
	}
	if len(first) > 0 {
		env, err := decodeMessage(first[0])
		if err != nil {
			return nil, err
		}
		info.First = &env
	}
	if len(last) > 0 {
		env, err := decodeMessage(last[0])
		if err != nil {
			return nil, err
		}
		info.Last = &env
	}
	return info, nil
}

func (s *Stream) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func (s *Stream) Close() error {
	return s.rdb.Close()
}

func decodeMessage(msg redis.XMessage) (models.Envelope, error) {
	payload, _ := msg.Values[envelopeField].(string)
	env, err := decode(payload)
	if err != nil {
		return env, err
	}
	env.ID = msg.ID
	return env, nil
}

func decodeMessages(msgs []redis.XMessage) ([]models.Envelope, error) {
	envs := make([]models.Envelope, 0, len(msgs))
	for _, msg := range msgs {
		env, err := decodeMessage(msg)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}
