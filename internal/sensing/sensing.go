package sensing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"noema/internal/documents"
	"noema/internal/domain"
	"noema/internal/store"
)

const maxChunkTokens = 800
const chunkOverlapTokens = 80

// nearDuplicateDistance is the maximum simhash Hamming distance (of 64 bits)
// at which an incoming chunk is flagged as a near-duplicate of a prior
// Observation from the same run. Flagging never prevents the new
// Observation from being created; two ingests of the same text still
// produce two Observations.
const nearDuplicateDistance = 3

// InputKind enumerates the legal ingestion input shapes.
type InputKind string

const (
	InputText       InputKind = "text"
	InputLog        InputKind = "log"
	InputScreenshot InputKind = "screenshot"
)

// Input is the union of ingestion payloads Sensing accepts.
type Input struct {
	Kind InputKind

	// Text carries free-form text or HTML for the "text" path.
	Text string
	// LogEntries carries one entry per line for the "log" path.
	LogEntries []string
	// ScreenshotPath points at an already-captured screenshot file.
	ScreenshotPath string
	// Summary is required for the "screenshot" path since a screenshot's
	// bytes are not chunked or entity-extracted.
	Summary string

	SessionID string
	RunID     string
}

// IngestResult reports what Ingest produced.
type IngestResult struct {
	ObservationIDs []string
	EvidenceIDs    []string
	ChunkCount     int
}

// ExternalMemory is the optional semantic memory: Sensing forwards chunks
// into it and the Belief Engine retrieves evidence snippets back out.
// Failures on either side are logged and swallowed by the caller; they
// never fail Ingest or block belief formation.
type ExternalMemory interface {
	Forward(ctx context.Context, runID string, chunks []string) error
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// NoopExternalMemory discards every chunk and retrieves nothing. Used when
// COGNEE_ENABLED=false.
type NoopExternalMemory struct{}

func (NoopExternalMemory) Forward(context.Context, string, []string) error { return nil }

func (NoopExternalMemory) Retrieve(context.Context, string, int) ([]string, error) {
	return nil, nil
}

// Sensor turns Inputs into Observations and publishes each on the
// Observation Bus.
type Sensor struct {
	collections *store.Collections
	bus         *ObservationBus
	external    ExternalMemory
	splitter    documents.Splitter
}

// New constructs a Sensor. external may be NoopExternalMemory{} when no
// external semantic memory is configured.
func New(collections *store.Collections, bus *ObservationBus, external ExternalMemory) *Sensor {
	if external == nil {
		external = NoopExternalMemory{}
	}
	return &Sensor{
		collections: collections,
		bus:         bus,
		external:    external,
		splitter: documents.Splitter{
			MaxTokens:     maxChunkTokens,
			OverlapTokens: chunkOverlapTokens,
			Lang:          documents.Plain,
			Tok:           documents.RuneTokenizer{},
		},
	}
}

// Ingest chunks input, scores salience, creates validated Observations, and
// publishes each on the Observation Bus. External forwarding failures are
// logged and ignored.
func (s *Sensor) Ingest(ctx context.Context, in Input) (IngestResult, error) {
	var chunks []string
	switch in.Kind {
	case InputLog:
		chunks = in.LogEntries
	case InputScreenshot:
		return s.ingestScreenshot(in)
	default:
		chunks = s.chunkText(in.Text)
	}

	existing := s.collections.Observations.List(func(o domain.Observation) bool {
		return o.Source.RunID == in.RunID && o.SimHash != 0
	})

	result := IngestResult{ChunkCount: len(chunks)}
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		hash := documents.Hash(chunk)
		obs := domain.Observation{
			ID:              uuid.NewString(),
			Type:            inputKindToObservationType(in.Kind),
			Summary:         summarize(chunk),
			KeyPoints:       keyPoints(chunk),
			Entities:        extractEntities(chunk),
			Salience:        scoreSalience(chunk),
			SimHash:         hash,
			NearDuplicateOf: nearDuplicateOf(hash, existing),
			Source: domain.ObservationSource{
				Sensor:    string(in.Kind),
				SessionID: in.SessionID,
				RunID:     in.RunID,
			},
			CreatedAt: time.Now().UTC(),
		}
		created, err := s.collections.Observations.Create(obs)
		if err != nil {
			return result, err
		}
		result.ObservationIDs = append(result.ObservationIDs, created.ID)
		result.EvidenceIDs = append(result.EvidenceIDs, created.ID)
		existing = append(existing, created)
		s.bus.Publish(created)
	}

	if err := s.external.Forward(ctx, in.RunID, chunks); err != nil {
		log.Warn().Err(err).Str("run_id", in.RunID).Msg("sensing: external memory forward failed, continuing")
	}
	return result, nil
}

func (s *Sensor) ingestScreenshot(in Input) (IngestResult, error) {
	obs := domain.Observation{
		ID:      uuid.NewString(),
		Type:    domain.ObservationScreenshot,
		Summary: in.Summary,
		RawRef:  in.ScreenshotPath,
		Salience: scoreSalience(in.Summary),
		Source: domain.ObservationSource{
			Sensor:    string(InputScreenshot),
			SessionID: in.SessionID,
			RunID:     in.RunID,
		},
		CreatedAt: time.Now().UTC(),
	}
	created, err := s.collections.Observations.Create(obs)
	if err != nil {
		return IngestResult{}, err
	}
	s.bus.Publish(created)
	return IngestResult{
		ObservationIDs: []string{created.ID},
		EvidenceIDs:    []string{created.ID},
		ChunkCount:     1,
	}, nil
}

func (s *Sensor) chunkText(text string) []string {
	text = normalizeText(text)
	var chunks []string
	_ = s.splitter.Stream(strings.NewReader(text), func(c documents.Chunk) error {
		chunks = append(chunks, c.Text)
		return nil
	})
	return chunks
}

func inputKindToObservationType(kind InputKind) domain.ObservationType {
	switch kind {
	case InputLog:
		return domain.ObservationLog
	case InputScreenshot:
		return domain.ObservationScreenshot
	default:
		return domain.ObservationText
	}
}

// nearDuplicateOf returns the ID of the closest prior observation within
// nearDuplicateDistance, or "" if none qualifies.
func nearDuplicateOf(hash uint64, prior []domain.Observation) string {
	best := ""
	bestDist := nearDuplicateDistance + 1
	for _, o := range prior {
		if d := documents.Distance(hash, o.SimHash); d < bestDist {
			bestDist = d
			best = o.ID
		}
	}
	if bestDist > nearDuplicateDistance {
		return ""
	}
	return best
}

func summarize(chunk string) string {
	trimmed := strings.TrimSpace(chunk)
	const maxLen = 280
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen] + "..."
}

func keyPoints(chunk string) []string {
	var points []string
	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		points = append(points, line)
		if len(points) >= 5 {
			break
		}
	}
	return points
}
