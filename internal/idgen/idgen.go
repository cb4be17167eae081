// Package idgen issues 64-bit ids laid out as
//
//	0 | seconds since epoch | per-day sequence
//
// The sequence is an atomic counter in the shared store keyed by prefix and
// UTC date, so ids are strictly increasing within one (prefix, date)
// partition and roughly time ordered across them. A wall clock that moves
// backwards can produce ids smaller than ones already issued; nothing here
// corrects for that.
package idgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rainbow-0328/dianping/internal/domain"
	"github.com/Rainbow-0328/dianping/internal/kv"
	"github.com/Rainbow-0328/dianping/internal/metrics"
)

const (
	// DefaultEpoch is 2022-01-01T00:00:00Z.
	DefaultEpoch         int64 = 1640995200
	DefaultSequenceWidth uint  = 32

	counterKeyPrefix = "seq:"
	dateLayout       = "2006:01:02"
)

// ErrSequenceExhausted is returned when a partition has issued more ids than
// the sequence field can hold.
var ErrSequenceExhausted = errors.New("idgen: sequence exhausted for today")

// Options configures a Generator. Zero values select the defaults.
type Options struct {
	Epoch         int64
	SequenceWidth uint
	Now           func() time.Time
}

// Generator issues ids backed by a shared counter store.
type Generator struct {
	store kv.Store
	epoch int64
	width uint
	now   func() time.Time
}

// New creates a Generator.
func New(store kv.Store, opts Options) (*Generator, error) {
	if opts.Epoch == 0 {
		opts.Epoch = DefaultEpoch
	}
	if opts.SequenceWidth == 0 {
		opts.SequenceWidth = DefaultSequenceWidth
	}
	if opts.SequenceWidth > 62 {
		return nil, fmt.Errorf("%w: sequence width %d leaves no room for the timestamp", domain.ErrInvalidInput, opts.SequenceWidth)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Generator{store: store, epoch: opts.Epoch, width: opts.SequenceWidth, now: opts.Now}, nil
}

// CounterKey names the sequence counter for prefix on the day containing t.
func CounterKey(prefix string, t time.Time) string {
	return counterKeyPrefix + prefix + ":" + t.UTC().Format(dateLayout)
}

// NextID returns the next id for prefix.
func (g *Generator) NextID(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, fmt.Errorf("%w: empty id prefix", domain.ErrInvalidInput)
	}
	now := g.now()
	delta := now.Unix() - g.epoch
	if delta < 0 {
		return 0, fmt.Errorf("%w: clock %s is before the id epoch", domain.ErrInvalidInput, now.UTC().Format(time.RFC3339))
	}
	if delta >= 1<<(63-g.width) {
		return 0, fmt.Errorf("idgen: timestamp field overflow at %s", now.UTC().Format(time.RFC3339))
	}

	seq, err := g.store.Incr(ctx, CounterKey(prefix, now))
	if err != nil {
		return 0, fmt.Errorf("next id %s: %w", prefix, err)
	}
	if seq > int64(1)<<g.width-1 {
		return 0, fmt.Errorf("%w: prefix %s", ErrSequenceExhausted, prefix)
	}

	metrics.RecordIDIssued(prefix)
	return delta<<g.width | seq, nil
}

// Split breaks an id into its timestamp delta and sequence fields.
func (g *Generator) Split(id int64) (delta int64, seq int64) {
	return id >> g.width, id & (int64(1)<<g.width - 1)
}
