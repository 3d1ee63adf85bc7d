package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/ritzau/unitconv/pkg/conversion"
	"github.com/ritzau/unitconv/pkg/cycles"
	"github.com/ritzau/unitconv/pkg/model"
	"github.com/ritzau/unitconv/pkg/paths"
)

func init() {
	color.NoColor = true
}

func TestPrintPath(t *testing.T) {
	var buf bytes.Buffer
	PrintPath(&buf, model.ConversionPath{
		FromUnit: "瓶", ToUnit: "杯", Path: []string{"瓶", "ml", "杯"}, TotalRate: 5, Steps: 2, Found: true,
	})

	want := "1 瓶 = 5 杯\n  瓶 → ml → 杯  (2 steps)\n"
	if buf.String() != want {
		t.Errorf("Got %q, want %q", buf.String(), want)
	}

	buf.Reset()
	PrintPath(&buf, model.NotFoundPath("瓶", "kg"))
	if !strings.Contains(buf.String(), "No conversion from 瓶 to kg") {
		t.Errorf("Unexpected not-found output %q", buf.String())
	}
}

func TestPrintConversion(t *testing.T) {
	var buf bytes.Buffer
	PrintConversion(&buf, paths.Conversion{
		ConversionPath: model.ConversionPath{FromUnit: "瓶", ToUnit: "杯", Path: []string{"瓶", "ml", "杯"}, TotalRate: 5, Steps: 2, Found: true},
		Quantity:       2,
		Result:         10,
		Formatted:      "10.0",
		Category:       model.CategoryVolume,
	})

	out := buf.String()
	if !strings.HasPrefix(out, "2 瓶 = 10.0 杯\n") || !strings.Contains(out, "volume precision 1") {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestPrintCycleCheck(t *testing.T) {
	var buf bytes.Buffer
	PrintCycleCheck(&buf, conversion.CycleCheck{Valid: false, Message: "C → A would create a conversion cycle: A→B→C→A"})
	if !strings.HasPrefix(buf.String(), "✗ ") {
		t.Errorf("Expected failure marker, got %q", buf.String())
	}

	buf.Reset()
	PrintCycleCheck(&buf, conversion.CycleCheck{Valid: true, Message: "ok"})
	if buf.String() != "✓ ok\n" {
		t.Errorf("Unexpected output %q", buf.String())
	}
}

func TestPrintAudit(t *testing.T) {
	var buf bytes.Buffer
	PrintAudit(&buf, 4, nil)
	if !strings.Contains(buf.String(), "Rules: 4") || !strings.Contains(buf.String(), "No conversion cycles") {
		t.Errorf("Unexpected clean audit %q", buf.String())
	}

	buf.Reset()
	PrintAudit(&buf, 3, []cycles.RuleCycle{{Units: []string{"A", "B"}, Walk: []string{"A", "B", "A"}}})
	out := buf.String()
	if !strings.Contains(out, "Cycles: 1") || !strings.Contains(out, "1. A→B→A") || !strings.Contains(out, "Units: A, B") {
		t.Errorf("Unexpected audit output %q", out)
	}
}

func TestPrintImport(t *testing.T) {
	var buf bytes.Buffer
	PrintImport(&buf, conversion.ImportReport{
		Accepted: []model.ConversionRule{{}, {}},
		Rejected: []conversion.ImportIssue{{Index: 3, Rule: model.ConversionRule{FromUnit: "ml", ToUnit: "箱"}, Reason: "conversion cycle detected: 箱→瓶→ml→箱"}},
	})
	out := buf.String()
	if !strings.Contains(out, "Accepted: 2") || !strings.Contains(out, "#3 ml → 箱: conversion cycle detected") {
		t.Errorf("Unexpected import output %q", out)
	}
	if strings.Contains(out, "Updated") || strings.Contains(out, "Skipped") {
		t.Errorf("Expected empty sections to be omitted, got %q", out)
	}
}

func TestPrintRules(t *testing.T) {
	var buf bytes.Buffer
	PrintRules(&buf, []model.ConversionRule{
		{FromUnit: "瓶", ToUnit: "ml", ConversionRate: 750, Category: model.CategoryVolume},
		{FromUnit: "box", ToUnit: "瓶", ConversionRate: 12},
	})
	want := "1 瓶   = 750 ml  [volume]\n1 box = 12 瓶  [uncategorized]\n"
	if buf.String() != want {
		t.Errorf("Got %q, want %q", buf.String(), want)
	}
}
