// Package sequencecache implements the Sequence Cache: training-free replay
// of action sequences that have historically succeeded for a (url domain,
// step keywords) pair, with an optional Redis read-through layer in front of
// the Typed Store's action_sequences.json collection.
package sequencecache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"noema/internal/domain"
	"noema/internal/store"
)

const (
	startConfidence       = 0.6
	successReinforcement  = 0.1
	failurePenalty        = 0.2
	maxConfidence         = 1.0
	floorConfidence       = 0.1
	minSimilarity         = 0.3
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "of": {}, "and": {}, "or": {}, "for": {},
	"in": {}, "on": {}, "is": {}, "that": {}, "with": {}, "as": {}, "it": {}, "this": {},
}

// Cache finds, replays, and reinforces ActionSequences.
type Cache struct {
	sequences *store.Repository[domain.ActionSequence]
	redis     redis.UniversalClient
	ttl       time.Duration
}

// New constructs a Cache backed by sequences. redisClient may be nil, in
// which case the JSON-backed repository alone serves lookups.
func New(sequences *store.Repository[domain.ActionSequence], redisClient redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{sequences: sequences, redis: redisClient, ttl: ttl}
}

// ExtractKeywords lower-cases, strips punctuation, and drops a fixed
// stop-word set, returning the distinct tokens of text in first-seen order.
func ExtractKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := map[string]struct{}{}
	var out []string
	for _, f := range fields {
		if _, stop := stopWords[f]; stop || f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// NormalizeDomain strips a leading "www." from a URL's host.
func NormalizeDomain(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := map[string]struct{}{}
	for _, v := range a {
		setA[v] = struct{}{}
	}
	setB := map[string]struct{}{}
	for _, v := range b {
		setB[v] = struct{}{}
	}
	inter := 0
	for v := range setA {
		if _, ok := setB[v]; ok {
			inter++
		}
	}
	union := len(setA)
	for v := range setB {
		if _, ok := setA[v]; !ok {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// FindActionSequence returns the best matching sequence for (stepTitle, url):
// the candidate whose keyword Jaccard similarity is >= 0.3 and whose
// confidence >= minConfidence, ranked by 0.6*similarity + 0.4*confidence.
func (c *Cache) FindActionSequence(ctx context.Context, stepTitle, urlDomain string, minConfidence float64) (*domain.ActionSequence, bool) {
	urlDomain = NormalizeDomain(urlDomain)
	keywords := ExtractKeywords(stepTitle)

	if c.redis != nil {
		if seq, ok := c.lookupRedis(ctx, urlDomain, keywords); ok && seq.Confidence >= minConfidence {
			return seq, true
		}
	}

	candidates := c.sequences.List(func(s domain.ActionSequence) bool {
		return NormalizeDomain(s.URLDomain) == urlDomain && s.Confidence >= minConfidence
	})

	var best *domain.ActionSequence
	var bestScore float64
	for i := range candidates {
		sim := jaccard(keywords, candidates[i].StepKeywords)
		if sim < minSimilarity {
			continue
		}
		score := 0.6*sim + 0.4*candidates[i].Confidence
		if best == nil || score > bestScore {
			cp := candidates[i]
			best = &cp
			bestScore = score
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func (c *Cache) lookupRedis(ctx context.Context, urlDomain string, keywords []string) (*domain.ActionSequence, bool) {
	key := redisKey(urlDomain, keywords)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("sequence cache: redis lookup failed")
		}
		return nil, false
	}
	var seq domain.ActionSequence
	if err := json.Unmarshal(data, &seq); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("sequence cache: redis payload decode failed")
		return nil, false
	}
	return &seq, true
}

func (c *Cache) writeRedis(ctx context.Context, seq domain.ActionSequence) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(seq)
	if err != nil {
		return
	}
	key := redisKey(NormalizeDomain(seq.URLDomain), seq.StepKeywords)
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("sequence cache: redis write failed")
	}
}

func redisKey(urlDomain string, keywords []string) string {
	sorted := append([]string(nil), keywords...)
	sort.Strings(sorted)
	return fmt.Sprintf("seqcache:%s:%s", urlDomain, strings.Join(sorted, ","))
}

// ReplaySequence detokenises ${username}/${password} placeholders in seq's
// action templates into real values just-in-time, producing concrete Actions
// ready for execution. Credentials are never logged in Raw form.
func ReplaySequence(seq domain.ActionSequence, runID string, username, password domain.TokenisedString) []domain.Action {
	out := make([]domain.Action, 0, len(seq.Actions))
	for _, step := range seq.Actions {
		value := detokenise(step.ValueTemplate, username.Raw, password.Raw)
		tokenised := domain.NewTokenisedString(value)
		if value != step.ValueTemplate {
			// A placeholder was substituted, so the value is a credential.
			tokenised = domain.NewSecret(value)
		}
		out = append(out, domain.Action{
			ID:        uuid.NewString(),
			RunID:     runID,
			Type:      step.Type,
			Rationale: step.Rationale,
			Selector:  step.Selector,
			Value:     tokenised,
			Inputs:    step.Inputs,
			CreatedAt: time.Now().UTC(),
		})
	}
	return out
}

func detokenise(template, username, password string) string {
	r := strings.NewReplacer("${username}", username, "${password}", password)
	return r.Replace(template)
}

// RecordActionSequence is called after a successful step: it creates a new
// sequence at confidence 0.6 or reinforces an existing match (+0.1, capped at
// 1.0), replacing its actions only if the new run is strictly shorter.
func (c *Cache) RecordActionSequence(ctx context.Context, urlDomain, stepTitle, runID string, actions []domain.SequenceStep, requiresCredentials bool) (domain.ActionSequence, error) {
	urlDomain = NormalizeDomain(urlDomain)
	keywords := ExtractKeywords(stepTitle)

	existing := c.sequences.List(func(s domain.ActionSequence) bool {
		return NormalizeDomain(s.URLDomain) == urlDomain && jaccard(keywords, s.StepKeywords) >= minSimilarity
	})

	now := time.Now().UTC()
	if len(existing) > 0 {
		best := existing[0]
		for _, e := range existing[1:] {
			if e.Confidence > best.Confidence {
				best = e
			}
		}
		updated, err := c.sequences.Update(best.ID, store.Mutation[domain.ActionSequence]{
			ChangeSummary: "reinforced after a successful replay/step",
			Apply: func(s domain.ActionSequence) (domain.ActionSequence, error) {
				s.Confidence = clamp(s.Confidence+successReinforcement, floorConfidence, maxConfidence)
				s.SuccessCount++
				s.LastUsedAt = now
				if len(actions) < len(s.Actions) {
					s.Actions = actions
				}
				return s, nil
			},
		})
		if err != nil {
			return domain.ActionSequence{}, err
		}
		c.writeRedis(ctx, updated)
		return updated, nil
	}

	seq := domain.ActionSequence{
		ID:                  uuid.NewString(),
		URLDomain:           urlDomain,
		StepKeywords:        keywords,
		StepTitle:           stepTitle,
		Actions:             actions,
		SuccessCount:        1,
		Confidence:          startConfidence,
		RequiresCredentials: requiresCredentials,
		SourceRunID:         runID,
		CreatedAt:           now,
		LastUsedAt:          now,
	}
	created, err := c.sequences.Create(seq)
	if err != nil {
		return domain.ActionSequence{}, err
	}
	c.writeRedis(ctx, created)
	return created, nil
}

// RecordSequenceFailure reduces seq's confidence by 0.2, floored at 0.1.
func (c *Cache) RecordSequenceFailure(ctx context.Context, sequenceID string) (domain.ActionSequence, error) {
	updated, err := c.sequences.Update(sequenceID, store.Mutation[domain.ActionSequence]{
		ChangeSummary: "penalised after a failed replay",
		Apply: func(s domain.ActionSequence) (domain.ActionSequence, error) {
			s.Confidence = clamp(s.Confidence-failurePenalty, floorConfidence, maxConfidence)
			s.FailureCount++
			return s, nil
		},
	})
	if err != nil {
		return domain.ActionSequence{}, err
	}
	c.writeRedis(ctx, updated)
	return updated, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
