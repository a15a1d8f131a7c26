package report

import (
	"encoding/json"
	"io"

	"github.com/lockplane/stepplane/internal/progress"
	"github.com/lockplane/stepplane/internal/registry"
	"github.com/lockplane/stepplane/internal/resolver"
	"github.com/lockplane/stepplane/internal/upgrade"
)

// PlanDocument is the JSON form of a resolved plan. The classification is
// keyed by step, which JSON objects cannot express, so nodes are listed.
type PlanDocument struct {
	Start   map[string]int              `json:"start"`
	Pending map[string]registry.Pending `json:"pending,omitempty"`
	Order   []upgrade.StepID            `json:"order"`
	Steps   []*resolver.Node            `json:"steps"`
}

// NewPlanDocument builds the JSON form of a classification.
func NewPlanDocument(start map[string]int, pending map[string]registry.Pending, c resolver.Classification) *PlanDocument {
	doc := &PlanDocument{
		Start:   start,
		Pending: pending,
		Order:   resolver.Order(c),
		Steps:   make([]*resolver.Node, 0, len(c)),
	}
	if doc.Order == nil {
		doc.Order = []upgrade.StepID{}
	}
	for _, id := range c.Steps() {
		doc.Steps = append(doc.Steps, c[id])
	}
	return doc
}

// ResultsDocument is the JSON form of a run report.
type ResultsDocument struct {
	Token      string                             `json:"token"`
	Status     progress.Status                    `json:"status"`
	Success    *bool                              `json:"success"`
	Components map[string][]progress.StepResult `json:"components"`
	Blocked    []progress.Blocked                 `json:"blocked,omitempty"`
	Abort      *progress.Abort                    `json:"abort,omitempty"`
}

// NewResultsDocument builds the JSON form of a run.
func NewResultsDocument(state *progress.State) *ResultsDocument {
	return &ResultsDocument{
		Token:      state.Token,
		Status:     state.Status,
		Success:    state.Success,
		Components: state.ResultsByComponent(),
		Blocked:    state.Blocked,
		Abort:      state.Abort,
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
