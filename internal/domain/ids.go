package domain

// GetID implementations satisfy store.Identifiable for every persisted
// entity type.

func (o Observation) GetID() string    { return o.ID }
func (m MentalModel) GetID() string    { return m.ID }
func (e Experience) GetID() string     { return e.ID }
func (g GraphEdge) GetID() string      { return g.ID }
func (a Action) GetID() string         { return a.ID }
func (o ActionOutcome) GetID() string  { return o.ID }
func (r RunRecord) GetID() string      { return r.ID }
func (s ActionSequence) GetID() string { return s.ID }
func (i Identity) GetID() string       { return i.ID }
func (m RunMetrics) GetID() string     { return m.RunID }
