// Package identity implements the Identity Service: a single persisted
// record, recomputed at run boundaries from the Typed Store's collections.
package identity

import (
	"sort"
	"strconv"
	"time"

	"noema/internal/domain"
	"noema/internal/store"
)

const singletonID = "identity-singleton"

// Service owns the process-wide Identity singleton.
type Service struct {
	collections *store.Collections
}

// New constructs a Service backed by collections.
func New(collections *store.Collections) *Service {
	return &Service{collections: collections}
}

// Statement renders a short first-person description of the current
// identity, used by the /identity HTTP handler.
func Statement(id domain.Identity) string {
	age := time.Since(id.CreatedAt).Round(time.Second)
	return "I have run " + pluralize(id.TotalRuns, "test run") + " over " + age.String() +
		", formed " + pluralize(id.TotalModels, "belief") + " from " + pluralize(id.TotalObservations, "observation") +
		", and learned " + pluralize(id.TotalExperiences, "experience") + "."
}

func pluralize(n int, noun string) string {
	s := noun
	if n != 1 {
		s += "s"
	}
	return strconv.Itoa(n) + " " + s
}

// Get returns the current Identity record, creating it on first access.
func (s *Service) Get() (domain.Identity, error) {
	id, err := s.collections.Identity.Get(singletonID)
	if err == nil {
		return id, nil
	}
	if err != store.ErrNotFound {
		return domain.Identity{}, err
	}
	now := time.Now().UTC()
	created := domain.Identity{
		ID:           singletonID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	return s.collections.Identity.Create(created)
}

// Recompute rebuilds the Identity singleton from the current state of every
// collection: counts, the union of task_type tokens seen across RunMetrics
// (domains_seen), and bumps last_active_at. Called at run boundaries by the
// Cognitive Run Controller.
func (s *Service) Recompute() (domain.Identity, error) {
	current, err := s.Get()
	if err != nil {
		return domain.Identity{}, err
	}

	observations := s.collections.Observations.Count(nil)
	models := s.collections.MentalModels.Count(nil)
	experiences := s.collections.Experiences.Count(nil)
	runs := s.collections.Runs.Count(nil)

	seen := map[string]struct{}{}
	for _, m := range s.collections.RunMetrics.List(nil) {
		if m.TaskType != "" {
			seen[m.TaskType] = struct{}{}
		}
	}
	domains := make([]string, 0, len(seen))
	for d := range seen {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	now := time.Now().UTC()
	updated, err := s.collections.Identity.Update(current.ID, store.Mutation[domain.Identity]{
		ChangeSummary: "recomputed at run boundary",
		Apply: func(id domain.Identity) (domain.Identity, error) {
			id.TotalRuns = runs
			id.TotalObservations = observations
			id.TotalModels = models
			id.TotalExperiences = experiences
			id.DomainsSeen = domains
			id.LastActiveAt = now
			return id, nil
		},
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return updated, nil
}
