// Package planner decides which diagnostic domains an incident is probed in.
//
// The decision is a two step pass: a vocabulary heuristic over the incident
// description and type, then a merge of domains implied by symptoms that
// recurred in past incidents for the same service. The merge only ever turns
// a skip into an investigate. Once frozen, a plan cannot change.
package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/moosh3/ack-agent/internal/models"
)

// ErrFrozen is returned when a frozen plan is mutated.
var ErrFrozen = errors.New("investigation plan is frozen")

// Decision reasons.
const (
	ReasonDefault     = "investigated by default"
	ReasonDeployment  = "description points at a deployment or pod problem"
	ReasonPerformance = "incident looks like a performance problem"
)

var (
	deploymentVocabulary  = []string{"deploy", "pod", "rollout"}
	performanceVocabulary = []string{"performance", "latency", "slow"}
	performanceTypes      = []string{"performance", "latency"}
)

// symptomDomains maps recurring symptom categories onto the domain that
// observes them.
var symptomDomains = []struct {
	symptom string
	domain  models.Domain
}{
	{models.SymptomRecurringLogErrors, models.DomainLogs},
	{models.SymptomUnhealthyPods, models.DomainInfrastructure},
	{models.SymptomMetricAnomalies, models.DomainMetrics},
	{models.SymptomRiskyCodeChanges, models.DomainCode},
}

// Decision is the plan entry of one domain.
type Decision struct {
	Domain      models.Domain `json:"domain"`
	Investigate bool          `json:"investigate"`
	Reason      string        `json:"reason"`
	// FromHistory is set when historical symptoms turned a skip into an
	// investigate.
	FromHistory bool `json:"from_history,omitempty"`
}

// Plan is an ordered set of per-domain decisions.
type Plan struct {
	decisions []Decision
	frozen    bool
}

// NewPlan returns a plan that investigates every domain.
func NewPlan() *Plan {
	p := &Plan{decisions: make([]Decision, len(models.AllDomains))}
	for i, d := range models.AllDomains {
		p.decisions[i] = Decision{Domain: d, Investigate: true, Reason: ReasonDefault}
	}
	return p
}

// Build runs the heuristic pass and the historical merge and returns a frozen
// plan.
func Build(incident *models.Incident, insight *models.HistoricalInsight) *Plan {
	p := Assess(incident)
	_, _ = p.MergeHistory(insight)
	p.Freeze()
	return p
}

// Assess applies the vocabulary heuristic. An empty description investigates
// every domain.
func Assess(incident *models.Incident) *Plan {
	p := NewPlan()
	if incident == nil {
		return p
	}

	desc := strings.ToLower(incident.Description)
	incidentType := strings.ToLower(incident.IncidentType)

	if desc != "" && containsAny(desc, deploymentVocabulary) {
		p.set(models.DomainMetrics, false, ReasonDeployment, false)
	}
	if (desc != "" && containsAny(desc, performanceVocabulary)) || containsAny(incidentType, performanceTypes) {
		p.set(models.DomainCode, false, ReasonPerformance, false)
	}
	return p
}

// MergeHistory enables skipped domains whose symptoms recurred historically.
// It returns the domains that were added.
func (p *Plan) MergeHistory(insight *models.HistoricalInsight) ([]models.Domain, error) {
	if p.frozen {
		return nil, ErrFrozen
	}
	if insight == nil || insight.PastIncidentsCount == 0 {
		return nil, nil
	}

	var added []models.Domain
	for _, sd := range symptomDomains {
		if !insight.HasSymptom(sd.symptom) {
			continue
		}
		changed, err := p.Enable(sd.domain, fmt.Sprintf("%s recurred in past incidents", sd.symptom))
		if err != nil {
			return added, err
		}
		if changed {
			added = append(added, sd.domain)
		}
	}
	return added, nil
}

// Enable turns a skipped domain into an investigated one. It reports whether
// the plan changed.
func (p *Plan) Enable(d models.Domain, reason string) (bool, error) {
	if p.frozen {
		return false, ErrFrozen
	}
	dec, ok := p.Decision(d)
	if !ok {
		return false, fmt.Errorf("unknown domain %q", d)
	}
	if dec.Investigate {
		return false, nil
	}
	p.set(d, true, reason, true)
	return true, nil
}

// Freeze makes the plan immutable.
func (p *Plan) Freeze() { p.frozen = true }

// Frozen reports whether Freeze was called.
func (p *Plan) Frozen() bool { return p.frozen }

// Investigate reports whether d is planned.
func (p *Plan) Investigate(d models.Domain) bool {
	dec, ok := p.Decision(d)
	return ok && dec.Investigate
}

// Decision returns the entry of one domain.
func (p *Plan) Decision(d models.Domain) (Decision, bool) {
	for _, dec := range p.decisions {
		if dec.Domain == d {
			return dec, true
		}
	}
	return Decision{}, false
}

// Decisions returns every entry in plan order.
func (p *Plan) Decisions() []Decision {
	out := make([]Decision, len(p.decisions))
	copy(out, p.decisions)
	return out
}

// Domains returns the planned domains in plan order.
func (p *Plan) Domains() []models.Domain {
	var out []models.Domain
	for _, dec := range p.decisions {
		if dec.Investigate {
			out = append(out, dec.Domain)
		}
	}
	return out
}

// Map returns the plan as domain -> investigate.
func (p *Plan) Map() map[models.Domain]bool {
	out := make(map[models.Domain]bool, len(p.decisions))
	for _, dec := range p.decisions {
		out[dec.Domain] = dec.Investigate
	}
	return out
}

// MarshalJSON encodes the plan as its ordered decisions.
func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.decisions)
}

// String renders the plan as the progress message shown to operators.
func (p *Plan) String() string {
	var b strings.Builder
	b.WriteString("Investigation plan based on incident assessment:\n")
	for _, dec := range p.decisions {
		status := "will investigate"
		if !dec.Investigate {
			status = "skipping (" + dec.Reason + ")"
		} else if dec.FromHistory {
			status = "will investigate (" + dec.Reason + ")"
		}
		fmt.Fprintf(&b, "  - %s: %s\n", dec.Domain, status)
	}
	return b.String()
}

func (p *Plan) set(d models.Domain, investigate bool, reason string, fromHistory bool) {
	for i := range p.decisions {
		if p.decisions[i].Domain == d {
			p.decisions[i] = Decision{Domain: d, Investigate: investigate, Reason: reason, FromHistory: fromHistory}
			return
		}
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
