// Package codec reads and writes rule snapshots in MessagePack.
package codec

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ritzau/unitconv/pkg/model"
	"github.com/vmihailenco/msgpack/v5"
)

// ContentType is the media type of an encoded snapshot
const ContentType = "application/msgpack"

// FormatVersion is written into every snapshot
const FormatVersion = 1

// ErrUnsupportedVersion is returned for snapshots from a newer format
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// Snapshot is the decoded form of an export
type Snapshot struct {
	Version    int
	ExportedAt time.Time
	Rules      []model.ConversionRule
}

type wireSnapshot struct {
	Version    int        `msgpack:"v"`
	ExportedMs int64      `msgpack:"ts,omitempty"`
	Rules      []wireRule `msgpack:"rules"`
}

type wireRule struct {
	ID        string  `msgpack:"id,omitempty"`
	From      string  `msgpack:"from"`
	To        string  `msgpack:"to"`
	Rate      float64 `msgpack:"rate"`
	Category  string  `msgpack:"cat,omitempty"`
	Note      string  `msgpack:"note,omitempty"`
	CreatedMs int64   `msgpack:"created,omitempty"`
	UpdatedMs int64   `msgpack:"updated,omitempty"`
}

// EncodeRules writes rules as one snapshot
func EncodeRules(w io.Writer, rules []model.ConversionRule, exportedAt time.Time) error {
	snap := wireSnapshot{
		Version:    FormatVersion,
		ExportedMs: toMillis(exportedAt),
		Rules:      make([]wireRule, 0, len(rules)),
	}
	for _, r := range rules {
		snap.Rules = append(snap.Rules, wireRule{
			ID:        r.ID,
			From:      r.FromUnit,
			To:        r.ToUnit,
			Rate:      r.ConversionRate,
			Category:  string(r.Category),
			Note:      r.Note,
			CreatedMs: toMillis(r.CreatedAt),
			UpdatedMs: toMillis(r.UpdatedAt),
		})
	}
	if err := msgpack.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// DecodeRules reads one snapshot. The rules are not validated.
func DecodeRules(r io.Reader) (*Snapshot, error) {
	var snap wireSnapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version < 1 || snap.Version > FormatVersion {
		return nil, fmt.Errorf("version %d: %w", snap.Version, ErrUnsupportedVersion)
	}

	out := &Snapshot{
		Version:    snap.Version,
		ExportedAt: fromMillis(snap.ExportedMs),
		Rules:      make([]model.ConversionRule, 0, len(snap.Rules)),
	}
	for _, w := range snap.Rules {
		out.Rules = append(out.Rules, model.ConversionRule{
			ID:             w.ID,
			FromUnit:       w.From,
			ToUnit:         w.To,
			ConversionRate: w.Rate,
			Category:       model.Category(w.Category),
			Note:           w.Note,
			CreatedAt:      fromMillis(w.CreatedMs),
			UpdatedAt:      fromMillis(w.UpdatedMs),
		})
	}
	return out, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
