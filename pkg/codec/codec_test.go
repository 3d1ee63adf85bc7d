package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ritzau/unitconv/pkg/model"
	"github.com/vmihailenco/msgpack/v5"
)

func TestSnapshotKeepsOrderAndFields(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rules := []model.ConversionRule{
		{ID: "b", FromUnit: "瓶", ToUnit: "ml", ConversionRate: 750, Category: model.CategoryVolume, Note: "glass", CreatedAt: created, UpdatedAt: created},
		{ID: "a", FromUnit: "箱", ToUnit: "瓶", ConversionRate: 12, Category: model.CategoryCount},
		{ID: "c", FromUnit: "杯", ToUnit: "ml", ConversionRate: 1.0 / 3},
	}

	var buf bytes.Buffer
	if err := EncodeRules(&buf, rules, created); err != nil {
		t.Fatalf("EncodeRules() failed: %v", err)
	}

	snap, err := DecodeRules(&buf)
	if err != nil {
		t.Fatalf("DecodeRules() failed: %v", err)
	}
	if snap.Version != FormatVersion || !snap.ExportedAt.Equal(created) {
		t.Errorf("Unexpected header: version %d exported %v", snap.Version, snap.ExportedAt)
	}
	if len(snap.Rules) != len(rules) {
		t.Fatalf("Expected %d rules, got %d", len(rules), len(snap.Rules))
	}
	for i, want := range rules {
		got := snap.Rules[i]
		if got.ID != want.ID || got.FromUnit != want.FromUnit || got.ToUnit != want.ToUnit ||
			got.ConversionRate != want.ConversionRate || got.Category != want.Category || got.Note != want.Note {
			t.Errorf("Rule %d: got %+v, want %+v", i, got, want)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("Rule %d: CreatedAt %v, want %v", i, got.CreatedAt, want.CreatedAt)
		}
	}
	if !snap.Rules[1].CreatedAt.IsZero() {
		t.Errorf("Expected zero time to stay zero, got %v", snap.Rules[1].CreatedAt)
	}
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	data, err := msgpack.Marshal(map[string]any{"v": FormatVersion + 1, "rules": []any{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeRules(bytes.NewReader(data)); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeRules(bytes.NewReader([]byte("not msgpack"))); err == nil {
		t.Error("Expected error for garbage input")
	}
	if _, err := DecodeRules(bytes.NewReader(nil)); err == nil {
		t.Error("Expected error for empty input")
	}
}
