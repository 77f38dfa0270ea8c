package scenario

import (
	"embed"
	"fmt"
	"log"

	"github.com/fjordops/growthd/internal/store"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// Provider resolves pinned scenarios from the store.
type Provider struct {
	store *store.Store
}

func NewProvider(s *store.Store) *Provider {
	return &Provider{store: s}
}

// Get returns the scenario with the given ID, or nil when it does not exist.
func (p *Provider) Get(id string) (*Scenario, error) {
	row, err := p.store.GetScenarioRow(id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	temps, err := p.store.GetScenarioTemps(id)
	if err != nil {
		return nil, err
	}
	stages, err := p.store.GetScenarioStageTGCs(id)
	if err != nil {
		return nil, err
	}

	sc := &Scenario{
		ID:                 row.ID,
		Name:               row.Name,
		Species:            row.Species,
		TGC:                row.TGC,
		StageTGC:           make(map[string]float64, len(stages)),
		MortalityPctMonth:  row.MortalityPctMonth,
		HarvestThresholdG:  row.HarvestThresholdG,
		TransferThresholdG: row.TransferThresholdG,
		HorizonDays:        int(row.HorizonDays),
		profile:            temps,
	}
	if row.PlannedEndDate.Valid {
		sc.PlannedEndDate = row.PlannedEndDate.Time
		sc.HasPlannedEnd = true
	}
	for _, st := range stages {
		sc.StageTGC[st.Stage] = st.TGC
	}
	return sc, nil
}

// ForBatch resolves the scenario pinned to a batch, or nil when the batch has
// none (or does not exist).
func (p *Provider) ForBatch(batchID string) (*Scenario, error) {
	batch, err := p.store.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil || batch.ScenarioID == "" {
		return nil, nil
	}
	return p.Get(batch.ScenarioID)
}

// SeedDir loads every scenario document in dir into the store.
func (p *Provider) SeedDir(dir string) (int, error) {
	docs, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, doc := range docs {
		row, temps, stages := doc.Rows()
		if err := p.store.UpsertScenario(row, temps, stages); err != nil {
			return 0, fmt.Errorf("upsert scenario %s: %w", doc.ID, err)
		}
		log.Printf("scenario: seeded %s (%d profile points)", doc.ID, len(temps))
	}
	return len(docs), nil
}

// SeedDefaults loads the embedded scenarios when the store has none, so a
// fresh database starts with a working baseline.
func (p *Provider) SeedDefaults() error {
	count, err := p.store.CountScenarios()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	entries, err := defaultsFS.ReadDir("defaults")
	if err != nil {
		return fmt.Errorf("read embedded scenarios: %w", err)
	}
	for _, entry := range entries {
		data, err := defaultsFS.ReadFile("defaults/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read embedded scenario %s: %w", entry.Name(), err)
		}
		doc, err := Parse(data)
		if err != nil {
			return fmt.Errorf("embedded scenario %s: %w", entry.Name(), err)
		}
		row, temps, stages := doc.Rows()
		if err := p.store.UpsertScenario(row, temps, stages); err != nil {
			return fmt.Errorf("upsert embedded scenario %s: %w", doc.ID, err)
		}
		log.Printf("scenario: seeded default %s", doc.ID)
	}
	return nil
}
