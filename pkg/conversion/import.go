package conversion

import (
	"context"
	"errors"
	"fmt"

	"github.com/ritzau/unitconv/pkg/cycles"
	"github.com/ritzau/unitconv/pkg/logging"
	"github.com/ritzau/unitconv/pkg/model"
	"github.com/ritzau/unitconv/pkg/pubsub"
	"github.com/ritzau/unitconv/pkg/store"
)

// ImportIssue explains why one input rule was not written
type ImportIssue struct {
	Index     int                  `json:"index"`
	Rule      model.ConversionRule `json:"rule"`
	Reason    string               `json:"reason"`
	CyclePath []string             `json:"cyclePath,omitempty"`
}

// ImportReport summarizes a bulk import
type ImportReport struct {
	Accepted []model.ConversionRule `json:"accepted"`
	Updated  []model.ConversionRule `json:"updated"`
	Skipped  []ImportIssue          `json:"skipped"`
	Rejected []ImportIssue          `json:"rejected"`
}

// Changed reports whether the import wrote anything
func (r ImportReport) Changed() bool {
	return len(r.Accepted) > 0 || len(r.Updated) > 0
}

// ImportOptions controls how existing pairs are treated
type ImportOptions struct {
	Source  string // reported in the change event
	Replace bool   // overwrite the stored rule of an existing pair
}

// Import writes rules one by one through the same gate as Create, in input
// order, so a rule may depend on earlier rules of the same batch. Rules that
// fail validation or would close a cycle are rejected and the rest go on.
// A pair that already has a rule is skipped unless opts.Replace is set.
func (s *Service) Import(ctx context.Context, rules []model.ConversionRule, opts ImportOptions) (ImportReport, error) {
	report := ImportReport{
		Accepted: []model.ConversionRule{},
		Updated:  []model.ConversionRule{},
		Skipped:  []ImportIssue{},
		Rejected: []ImportIssue{},
	}

	s.writeMu.Lock()
	for i, r := range rules {
		if err := ctx.Err(); err != nil {
			s.writeMu.Unlock()
			return report, err
		}
		if err := s.importOne(ctx, i, r, opts, &report); err != nil {
			s.writeMu.Unlock()
			return report, err
		}
	}
	s.writeMu.Unlock()

	logging.InfoContext(ctx, "rules imported",
		"source", opts.Source,
		"accepted", len(report.Accepted),
		"updated", len(report.Updated),
		"skipped", len(report.Skipped),
		"rejected", len(report.Rejected),
	)
	s.publishImport(ctx, opts.Source, report)
	return report, nil
}

// importOne returns an error only for store failures; rule problems are
// recorded in the report
func (s *Service) importOne(ctx context.Context, i int, r model.ConversionRule, opts ImportOptions, report *ImportReport) error {
	r.ID = ""
	if err := r.Validate(); err != nil {
		report.Rejected = append(report.Rejected, ImportIssue{Index: i, Rule: r, Reason: err.Error()})
		return nil
	}

	existing, found, err := s.pairOwner(ctx, r.PairKey(), "")
	if err != nil {
		return err
	}

	if found {
		if sameRule(existing, r) {
			report.Skipped = append(report.Skipped, ImportIssue{Index: i, Rule: r, Reason: "unchanged"})
			return nil
		}
		if !opts.Replace {
			report.Skipped = append(report.Skipped, ImportIssue{Index: i, Rule: r, Reason: store.ErrDuplicateRule.Error()})
			return nil
		}
		r.ID = existing.ID
		if err := s.gate(ctx, r.Edge(), existing.ID); err != nil {
			return reject(report, i, r, err)
		}
		updated, err := s.store.Update(ctx, r)
		if err != nil {
			return reject(report, i, r, err)
		}
		report.Updated = append(report.Updated, updated)
		return nil
	}

	created, err := s.createLocked(ctx, r)
	if err != nil {
		return reject(report, i, r, err)
	}
	report.Accepted = append(report.Accepted, created)
	return nil
}

// reject records rule-level failures and passes anything else through
func reject(report *ImportReport, i int, r model.ConversionRule, err error) error {
	var cycleErr *cycles.CycleError
	switch {
	case errors.As(err, &cycleErr):
		report.Rejected = append(report.Rejected, ImportIssue{Index: i, Rule: r, Reason: err.Error(), CyclePath: cycleErr.Path})
	case errors.Is(err, store.ErrDuplicateRule):
		report.Skipped = append(report.Skipped, ImportIssue{Index: i, Rule: r, Reason: store.ErrDuplicateRule.Error()})
	case errors.Is(err, model.ErrMalformedRule), errors.Is(err, model.ErrSameUnit):
		report.Rejected = append(report.Rejected, ImportIssue{Index: i, Rule: r, Reason: err.Error()})
	default:
		return fmt.Errorf("failed to import rule %d: %w", i, err)
	}
	return nil
}

func sameRule(a, b model.ConversionRule) bool {
	return a.FromUnit == b.FromUnit &&
		a.ToUnit == b.ToUnit &&
		a.ConversionRate == b.ConversionRate &&
		a.Category == b.Category &&
		a.Note == b.Note
}

func (s *Service) publishImport(ctx context.Context, source string, report ImportReport) {
	if s.publisher == nil {
		return
	}
	version, err := s.store.Version(ctx)
	if err != nil {
		logging.WarnContext(ctx, "failed to read store version", "error", err)
	}
	summary := pubsub.ImportSummary{
		Source:       source,
		Accepted:     len(report.Accepted) + len(report.Updated),
		Skipped:      len(report.Skipped),
		Rejected:     len(report.Rejected),
		StoreVersion: version,
	}
	if err := s.publisher.Publish(pubsub.TopicConversions, pubsub.EventRulesImported, summary); err != nil {
		logging.WarnContext(ctx, "failed to publish import", "error", err)
	}
}
