// Package conversion is the entry point for every rule operation. It runs
// validation and the cycle gate in front of the store and answers path and
// conversion queries from a snapshot of the stored rules.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ritzau/unitconv/pkg/cycles"
	"github.com/ritzau/unitconv/pkg/logging"
	"github.com/ritzau/unitconv/pkg/model"
	"github.com/ritzau/unitconv/pkg/paths"
	"github.com/ritzau/unitconv/pkg/pubsub"
	"github.com/ritzau/unitconv/pkg/store"
)

// Service serializes rule writes and answers graph queries
type Service struct {
	store     store.Store
	publisher pubsub.Publisher
	maxSteps  int

	// writeMu covers validate-then-persist. A cycle can span any number of
	// unit pairs, so nothing finer than a global lock is sound.
	writeMu sync.Mutex
}

// Option configures a Service
type Option func(*Service)

// WithPublisher makes the service publish rule change events
func WithPublisher(p pubsub.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMaxSteps sets the default hop budget for path queries
func WithMaxSteps(n int) Option {
	return func(s *Service) { s.maxSteps = n }
}

// NewService creates a service over st
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, maxSteps: paths.DefaultMaxSteps}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxSteps <= 0 {
		s.maxSteps = paths.DefaultMaxSteps
	}
	return s
}

// MaxSteps returns the default hop budget
func (s *Service) MaxSteps() int {
	return s.maxSteps
}

// List returns the stored rules matching f in insertion order
func (s *Service) List(ctx context.Context, f store.Filter) ([]model.ConversionRule, error) {
	return s.store.List(ctx, f)
}

// Get returns one rule
func (s *Service) Get(ctx context.Context, id string) (model.ConversionRule, error) {
	return s.store.Get(ctx, id)
}

// Create validates r, rejects it if it would close a cycle, and persists it
func (s *Service) Create(ctx context.Context, r model.ConversionRule) (model.ConversionRule, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created, err := s.createLocked(ctx, r)
	if err != nil {
		return model.ConversionRule{}, err
	}
	s.publishChange(ctx, pubsub.EventRuleCreated, created)
	return created, nil
}

func (s *Service) createLocked(ctx context.Context, r model.ConversionRule) (model.ConversionRule, error) {
	if err := r.Validate(); err != nil {
		return model.ConversionRule{}, err
	}
	if err := s.checkPair(ctx, r, ""); err != nil {
		return model.ConversionRule{}, err
	}
	if err := s.gate(ctx, r.Edge(), ""); err != nil {
		return model.ConversionRule{}, err
	}

	created, err := s.store.Create(ctx, r)
	if err != nil {
		return model.ConversionRule{}, err
	}
	logging.InfoContext(ctx, "rule created",
		"id", created.ID,
		"from", created.FromUnit,
		"to", created.ToUnit,
		"rate", created.ConversionRate,
		"category", string(created.Category),
	)
	return created, nil
}

// Update replaces the rule with the given id. The stored version of the rule
// is left out of the cycle check so it cannot conflict with itself.
func (s *Service) Update(ctx context.Context, id string, r model.ConversionRule) (model.ConversionRule, error) {
	r.ID = id
	if err := r.Validate(); err != nil {
		return model.ConversionRule{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.store.Get(ctx, id); err != nil {
		return model.ConversionRule{}, err
	}
	if err := s.checkPair(ctx, r, id); err != nil {
		return model.ConversionRule{}, err
	}
	if err := s.gate(ctx, r.Edge(), id); err != nil {
		return model.ConversionRule{}, err
	}

	updated, err := s.store.Update(ctx, r)
	if err != nil {
		return model.ConversionRule{}, err
	}
	logging.InfoContext(ctx, "rule updated",
		"id", updated.ID,
		"from", updated.FromUnit,
		"to", updated.ToUnit,
		"rate", updated.ConversionRate,
	)
	s.publishChange(ctx, pubsub.EventRuleUpdated, updated)
	return updated, nil
}

// Delete removes a rule. Removing an edge can never create a cycle.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	logging.InfoContext(ctx, "rule deleted", "id", id, "from", existing.FromUnit, "to", existing.ToUnit)
	s.publishChange(ctx, pubsub.EventRuleDeleted, existing)
	return nil
}

// checkPair rejects a rule whose unordered unit pair already has a rule other
// than excludeID. It runs before the cycle gate: B->A next to A->B is a
// duplicate, not a cycle.
func (s *Service) checkPair(ctx context.Context, r model.ConversionRule, excludeID string) error {
	existing, found, err := s.pairOwner(ctx, r.PairKey(), excludeID)
	if err != nil {
		return err
	}
	if found {
		logging.WarnContext(ctx, "rule rejected",
			"from", r.FromUnit,
			"to", r.ToUnit,
			"existing", existing.ID,
		)
		return fmt.Errorf("%s/%s: %w", r.FromUnit, r.ToUnit, store.ErrDuplicateRule)
	}
	return nil
}

// pairOwner returns the stored rule covering key, ignoring excludeID
func (s *Service) pairOwner(ctx context.Context, key model.PairKey, excludeID string) (model.ConversionRule, bool, error) {
	rules, err := s.store.All(ctx)
	if err != nil {
		return model.ConversionRule{}, false, fmt.Errorf("failed to load rules: %w", err)
	}
	for _, r := range rules {
		if r.ID != excludeID && r.PairKey() == key {
			return r, true, nil
		}
	}
	return model.ConversionRule{}, false, nil
}

// gate runs the cycle detector against the current snapshot
func (s *Service) gate(ctx context.Context, candidate model.Edge, excludeID string) error {
	rules, err := s.store.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if err := cycles.Check(rules, candidate, excludeID); err != nil {
		var cycleErr *cycles.CycleError
		if errors.As(err, &cycleErr) {
			logging.WarnContext(ctx, "rule rejected",
				"from", candidate.FromUnit,
				"to", candidate.ToUnit,
				"cyclePath", cycleErr.Path,
			)
		}
		return err
	}
	return nil
}

// CycleCheck is the verdict of a read-only cycle check
type CycleCheck struct {
	Valid     bool     `json:"valid"`
	CyclePath []string `json:"cyclePath,omitempty"`
	Message   string   `json:"message"`
}

// ValidateCycle reports whether adding candidate would close a cycle without
// changing anything. A candidate from a unit to itself is a validation error.
// A pair that already has a rule is reported invalid without a cycle path.
func (s *Service) ValidateCycle(ctx context.Context, candidate model.Edge, excludeID string) (CycleCheck, error) {
	proposed := model.ConversionRule{
		FromUnit:       candidate.FromUnit,
		ToUnit:         candidate.ToUnit,
		ConversionRate: 1,
		Category:       model.CategoryOther,
	}
	if err := proposed.Validate(); err != nil {
		return CycleCheck{}, err
	}

	if existing, found, err := s.pairOwner(ctx, proposed.PairKey(), excludeID); err != nil {
		return CycleCheck{}, err
	} else if found {
		return CycleCheck{
			Valid:   false,
			Message: fmt.Sprintf("a rule for %s and %s already exists (%s)", candidate.FromUnit, candidate.ToUnit, existing.ID),
		}, nil
	}

	rules, err := s.store.All(ctx)
	if err != nil {
		return CycleCheck{}, fmt.Errorf("failed to load rules: %w", err)
	}
	path := cycles.Detect(rules, candidate, excludeID)
	return CycleCheck{
		Valid:     path == nil,
		CyclePath: path,
		Message:   cycles.Describe(candidate, path),
	}, nil
}

// CalculatePath finds the fewest-hop route between two units. A negative
// maxSteps uses the service default.
func (s *Service) CalculatePath(ctx context.Context, from, to string, maxSteps int) (model.ConversionPath, error) {
	rules, err := s.store.All(ctx)
	if err != nil {
		return model.ConversionPath{}, fmt.Errorf("failed to load rules: %w", err)
	}
	p := paths.FindShortest(rules, from, to, s.budget(maxSteps))
	logging.DebugContext(ctx, "path calculated",
		"from", from,
		"to", to,
		"found", p.Found,
		"steps", p.Steps,
		"path", p.Path,
	)
	return p, nil
}

// Convert applies the route between two units to quantity. An empty
// category takes the category of the rule delivering the target unit.
func (s *Service) Convert(ctx context.Context, from, to string, quantity float64, category model.Category, maxSteps int) (paths.Conversion, error) {
	rules, err := s.store.All(ctx)
	if err != nil {
		return paths.Conversion{}, fmt.Errorf("failed to load rules: %w", err)
	}
	return paths.Convert(rules, from, to, quantity, category, s.budget(maxSteps)), nil
}

func (s *Service) budget(maxSteps int) int {
	if maxSteps < 0 {
		return s.maxSteps
	}
	return maxSteps
}

// Audit lists cycles already present in the stored rules
func (s *Service) Audit(ctx context.Context) ([]cycles.RuleCycle, error) {
	rules, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	found := cycles.Audit(rules)
	for _, c := range found {
		logging.WarnContext(ctx, "stored rules contain a cycle", "units", len(c.Units), "walk", c.Walk)
	}
	return found, nil
}

// Version returns the store's write counter
func (s *Service) Version(ctx context.Context) (int64, error) {
	return s.store.Version(ctx)
}

// Export returns every stored rule in insertion order
func (s *Service) Export(ctx context.Context) ([]model.ConversionRule, error) {
	return s.store.All(ctx)
}

// GraphView returns the rule graph shaped for visualization
func (s *Service) GraphView(ctx context.Context) (*model.Graph, error) {
	rules, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return model.BuildGraphView(rules), nil
}

func (s *Service) publishChange(ctx context.Context, eventType string, r model.ConversionRule) {
	if s.publisher == nil {
		return
	}
	version, err := s.store.Version(ctx)
	if err != nil {
		logging.WarnContext(ctx, "failed to read store version", "error", err)
	}
	change := pubsub.RuleChange{Rule: r, StoreVersion: version}
	if err := s.publisher.Publish(pubsub.TopicConversions, eventType, change); err != nil {
		logging.WarnContext(ctx, "failed to publish rule change", "type", eventType, "error", err)
	}
}
