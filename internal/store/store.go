// Package store provides the durable, ordered buffer of inbound envelopes.
//
// Two Redis-backed implementations exist: a legacy list-based queue
// (Queue) and a stream-backed log (Stream). Both assign ids of the form
// "<epoch-millis>-<sequence>" that are strictly increasing in ingestion
// order, and both support the destructive pop contract as well as the
// non-destructive cursor-based read contract.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/relaykit/whatsrelay/internal/models"
)

// ErrUnavailable indicates the Redis backend could not be reached or
// rejected the operation. Append and Pop callers must treat the
// operation as not having happened.
var ErrUnavailable = errors.New("store unavailable")

// ZeroID is the sentinel cursor meaning "from the beginning".
const ZeroID = "0"

// StreamInfo summarizes the current contents of the store.
type StreamInfo struct {
	Length int64            `json:"length"`
	First  *models.Envelope `json:"firstEntry,omitempty"`
	Last   *models.Envelope `json:"lastEntry,omitempty"`
}

// Store is the single source of truth for envelope storage, id
// assignment and consumer cursors. All implementations are safe for
// concurrent use.
type Store interface {
	// Append assigns the next id, persists the envelope and returns the id.
	Append(ctx context.Context, env *models.Envelope) (string, error)

	// Length returns the number of envelopes currently held.
	Length(ctx context.Context) (int64, error)

	// Peek returns envelopes in the [start, stop] window, newest first,
	// without side effects.
	Peek(ctx context.Context, start, stop int64) ([]models.Envelope, error)

	// Pop atomically removes and returns up to count oldest envelopes,
	// oldest first. An empty store yields an empty slice, not an error.
	Pop(ctx context.Context, count int64) ([]models.Envelope, error)

	// ReadAfter returns up to count envelopes strictly after lastID,
	// oldest first, without deleting. lastID "" or "0" reads from the
	// beginning.
	ReadAfter(ctx context.Context, lastID string, count int64) ([]models.Envelope, error)

	// Trace returns envelopes whose JID matches jid, newest first,
	// capped at limit.
	Trace(ctx context.Context, jid string, limit int64) ([]models.Envelope, error)

	// Info returns the length and the first/last envelopes.
	Info(ctx context.Context) (*StreamInfo, error)

	// Cursor returns the last-acknowledged id for a named consumer
	// group, or ZeroID if the group has never acknowledged.
	Cursor(ctx context.Context, group string) (string, error)

	// AdvanceCursor moves the group cursor forward to id. A cursor is
	// never rewound: advancing to an id at or before the current one is
	// a no-op.
	AdvanceCursor(ctx context.Context, group, id string) error

	// Ping probes backend reachability.
	Ping(ctx context.Context) error

	Close() error
}

// CompareIDs orders two store ids ("<millis>-<seq>"). The sentinel "0"
// and the empty string sort before every assigned id.
func CompareIDs(a, b string) int {
	ams, aseq := parseID(a)
	bms, bseq := parseID(b)
	switch {
	case ams != bms:
		if ams < bms {
			return -1
		}
		return 1
	case aseq != bseq:
		if aseq < bseq {
			return -1
		}
		return 1
	}
	return 0
}

func parseID(id string) (ms, seq int64) {
	if id == "" || id == ZeroID {
		return 0, 0
	}
	dash := strings.IndexByte(id, '-')
	if dash < 0 {
		ms, _ = strconv.ParseInt(id, 10, 64)
		return ms, 0
	}
	ms, _ = strconv.ParseInt(id[:dash], 10, 64)
	seq, _ = strconv.ParseInt(id[dash+1:], 10, 64)
	return ms, seq
}

// matchJID reports whether an envelope JID matches a trace query. The
// query may be a full JID or a bare phone number (the part before "@").
func matchJID(envJID, query string) bool {
	if envJID == query {
		return true
	}
	return strings.HasPrefix(envJID, query+"@")
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
