package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wyntrades-ai/defi-yields-mcp/internal/cache"
	"github.com/wyntrades-ai/defi-yields-mcp/internal/model"
	"github.com/wyntrades-ai/defi-yields-mcp/internal/query"
)

// streamEvent is the payload of one SSE event. fetchedAt lets clients
// deduplicate: a new event is only sent when the snapshot advanced.
type streamEvent struct {
	FetchedAt time.Time    `json:"fetchedAt"`
	Count     int          `json:"count"`
	Pools     []model.Pool `json:"pools"`
}

// streamSession is one long-lived SSE connection. It emits the current
// filtered snapshot on connect, then re-checks the cache on a fixed cadence
// and emits again whenever the dataset timestamp has advanced. It ends when
// the client disconnects, a write fails, or the server shuts down.
type streamSession struct {
	id          string
	criteria    query.Criteria
	cache       *cache.PoolCache
	interval    time.Duration
	logger      *zap.Logger
	lastEmitted time.Time
}

func (s *Server) handlePoolsStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	criteria, err := criteriaFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	session := &streamSession{
		id:       uuid.NewString(),
		criteria: criteria,
		cache:    s.cache,
		interval: s.cfg.StreamInterval,
		logger:   s.logger,
	}
	session.run(r.Context(), w, flusher)
}

func (sess *streamSession) run(ctx context.Context, w io.Writer, flusher http.Flusher) {
	sess.logger.Info("stream open",
		zap.String("session", sess.id),
		zap.String("chain", sess.criteria.Chain),
		zap.String("project", sess.criteria.Project),
	)

	// initial event with whatever the cache holds now
	if ds, err := sess.cache.Snapshot(ctx); err != nil {
		sess.logger.Warn("stream initial snapshot failed", zap.String("session", sess.id), zap.Error(err))
	} else if err := sess.emit(w, flusher, ds); err != nil {
		sess.close("write failed", err)
		return
	}

	ticker := time.NewTicker(sess.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sess.close("client disconnected", nil)
			return
		case <-ticker.C:
			if err := sess.tick(ctx, w, flusher); err != nil {
				sess.close("write failed", err)
				return
			}
		}
	}
}

// tick refreshes the cache if it has gone stale and emits when the snapshot
// advanced. A refresh failure only skips this tick; the stale snapshot
// keeps the session alive.
func (sess *streamSession) tick(ctx context.Context, w io.Writer, flusher http.Flusher) error {
	ds, err := sess.cache.Refresh(ctx, false)
	if err != nil {
		sess.logger.Warn("stream refresh failed", zap.String("session", sess.id), zap.Error(err))
		return nil
	}

	if !ds.FetchedAt.After(sess.lastEmitted) {
		return sess.keepalive(w, flusher)
	}
	return sess.emit(w, flusher, ds)
}

func (sess *streamSession) emit(w io.Writer, flusher http.Flusher, ds *model.Dataset) error {
	pools := query.Apply(ds, sess.criteria)
	data, err := json.Marshal(streamEvent{
		FetchedAt: ds.FetchedAt,
		Count:     len(pools),
		Pools:     pools,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()

	sess.lastEmitted = ds.FetchedAt
	return nil
}

// keepalive writes an SSE comment so intermediaries do not drop an idle
// connection between data events.
func (sess *streamSession) keepalive(w io.Writer, flusher http.Flusher) error {
	if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (sess *streamSession) close(reason string, err error) {
	fields := []zap.Field{zap.String("session", sess.id), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	sess.logger.Info("stream closed", fields...)
}
