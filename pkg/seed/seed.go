// Package seed loads rule lists from TOML files.
//
//	[[rules]]
//	from = "瓶"
//	to = "ml"
//	rate = 750
//	category = "volume"
package seed

import (
	"context"
	"fmt"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/ritzau/unitconv/pkg/conversion"
	"github.com/ritzau/unitconv/pkg/logging"
	"github.com/ritzau/unitconv/pkg/model"
)

type fileRule struct {
	From     string  `koanf:"from"`
	To       string  `koanf:"to"`
	Rate     float64 `koanf:"rate"`
	Category string  `koanf:"category"`
	Note     string  `koanf:"note"`
}

// Load reads the rules of a seed file in file order. Rules are not
// validated here; the import gate does that.
func Load(path string) ([]model.ConversionRule, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var entries []fileRule
	if err := k.Unmarshal("rules", &entries); err != nil {
		return nil, fmt.Errorf("failed to parse rules in %s: %w", path, err)
	}

	rules := make([]model.ConversionRule, 0, len(entries))
	for _, e := range entries {
		category := model.Category(e.Category)
		if category == "" {
			category = model.CategoryOther
		}
		rules = append(rules, model.ConversionRule{
			FromUnit:       e.From,
			ToUnit:         e.To,
			ConversionRate: e.Rate,
			Category:       category,
			Note:           e.Note,
		})
	}
	return rules, nil
}

// Apply imports a seed file through the service. The file is authoritative
// for the pairs it names, so changed rates replace stored ones.
func Apply(ctx context.Context, svc *conversion.Service, path string) (conversion.ImportReport, error) {
	rules, err := Load(path)
	if err != nil {
		return conversion.ImportReport{}, err
	}

	report, err := svc.Import(ctx, rules, conversion.ImportOptions{Source: "seed", Replace: true})
	if err != nil {
		return report, err
	}
	for _, issue := range report.Rejected {
		logging.WarnContext(ctx, "seed rule rejected",
			"file", path,
			"index", issue.Index,
			"from", issue.Rule.FromUnit,
			"to", issue.Rule.ToUnit,
			"reason", issue.Reason,
		)
	}
	return report, nil
}
