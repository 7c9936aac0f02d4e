package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"miner-sentinel/internal/bus"
)

// Entry is the decoded envelope header of one stream message: enough to
// tail the stream without decoding every payload type.
type Entry struct {
	ID           string    `json:"id"`
	At           time.Time `json:"at"`
	Subject      string    `json:"subject"`
	PayloadBytes int       `json:"payload_bytes"`
}

// Reader is the consume side of the event stream. It drains a pull consumer
// and decodes the protobuf envelopes, acknowledging what it decoded and
// terminating what it never will.
type Reader struct {
	schema *Schema
	src    bus.PullConsumer
	log    *zap.Logger
}

func NewReader(src bus.PullConsumer, log *zap.Logger) (*Reader, error) {
	schema, err := LoadSchema()
	if err != nil {
		return nil, fmt.Errorf("load event schema: %w", err)
	}
	return &Reader{schema: schema, src: src, log: log.Named("events")}, nil
}

// Next fetches up to batch messages, waiting at most wait for the first.
// An empty stream yields an empty slice, not an error.
func (r *Reader) Next(ctx context.Context, batch int, wait time.Duration) ([]Entry, error) {
	msgs, err := r.src.Fetch(ctx, batch, wait)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		env, err := UnmarshalEnvelope(r.schema, m.Data())
		if err != nil {
			// an undecodable message would redeliver forever
			r.log.Warn("terminating undecodable event", zap.Error(err))
			_ = m.Term()
			continue
		}
		var e Entry
		if v, ok := env.GetFieldByName("id").(string); ok {
			e.ID = v
		}
		if v, ok := env.GetFieldByName("ts_unix_ms").(int64); ok && v > 0 {
			e.At = time.UnixMilli(v).UTC()
		}
		if v, ok := env.GetFieldByName("subject").(string); ok {
			e.Subject = v
		}
		if v, ok := env.GetFieldByName("payload").([]byte); ok {
			e.PayloadBytes = len(v)
		}
		out = append(out, e)
		_ = m.Ack()
	}
	return out, nil
}
