// Package narrative renders attribution sets as deterministic clinician-facing text.
package narrative

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// DefaultSignificance is the smallest absolute contribution that is mentioned
const DefaultSignificance = 0.01

// Generator formats explanations. It performs no I/O.
type Generator struct {
	significance float64
	maxFactors   int
}

// NewGenerator creates a generator. maxFactors <= 0 lists every significant factor.
func NewGenerator(significance float64, maxFactors int) *Generator {
	if significance < 0 || math.IsNaN(significance) {
		significance = DefaultSignificance
	}
	return &Generator{significance: significance, maxFactors: maxFactors}
}

// Significance returns the noise threshold
func (g *Generator) Significance() float64 {
	return g.significance
}

// Partition splits attributions into risk-increasing and risk-decreasing
// factors, each ordered by magnitude. Contributions below the threshold are dropped.
func (g *Generator) Partition(set *domain.AttributionSet) (increasing, decreasing []domain.Attribution) {
	for _, a := range set.Attributions {
		if math.Abs(a.Contribution) < g.significance || a.Contribution == 0 {
			continue
		}
		if a.Contribution > 0 {
			increasing = append(increasing, a)
		} else {
			decreasing = append(decreasing, a)
		}
	}
	byMagnitude := func(list []domain.Attribution) {
		sort.SliceStable(list, func(i, j int) bool {
			return math.Abs(list[i].Contribution) > math.Abs(list[j].Contribution)
		})
	}
	byMagnitude(increasing)
	byMagnitude(decreasing)
	return increasing, decreasing
}

// Narrate explains a prediction. High Risk leads with the factors that raised
// the risk; Low Risk leads with the factors that lowered it.
func (g *Generator) Narrate(set *domain.AttributionSet, label domain.RiskLabel) string {
	increasing, decreasing := g.Partition(set)
	probability := set.Output
	baseline := set.Baseline
	if set.OutputSpace == domain.OutputLogOdds {
		probability = logistic(set.Output)
		baseline = logistic(set.Baseline)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: the model estimates a %s probability of a heart attack, against %s for the reference population.",
		label, percent(probability), percent(baseline))

	if label == domain.HighRisk {
		if len(increasing) > 0 {
			fmt.Fprintf(&b, " Factors that raised the risk: %s.", g.list(increasing, set.OutputSpace))
		} else {
			b.WriteString(" No single factor raised the risk above the significance threshold.")
		}
		if len(decreasing) > 0 {
			fmt.Fprintf(&b, " Mitigating factors that were not enough to offset it: %s.", g.list(decreasing, set.OutputSpace))
		}
	} else {
		if len(decreasing) > 0 {
			fmt.Fprintf(&b, " Factors that lowered the risk: %s.", g.list(decreasing, set.OutputSpace))
		} else {
			b.WriteString(" No single factor lowered the risk above the significance threshold.")
		}
		if len(increasing) > 0 {
			fmt.Fprintf(&b, " Risk factors present but outweighed: %s.", g.list(increasing, set.OutputSpace))
		}
	}

	if set.Status == domain.ExplanationDegraded {
		fmt.Fprintf(&b, " Note: these attributions do not fully reconcile with the model output (residual %s); treat them as approximate.",
			strconv.FormatFloat(set.Residual, 'f', 4, 64))
	}
	return b.String()
}

// Unexplained renders a prediction for which no attributions could be computed.
func (g *Generator) Unexplained(label domain.RiskLabel, probability float64, reason string) string {
	text := fmt.Sprintf("%s: the model estimates a %s probability of a heart attack. Feature attributions are unavailable",
		label, percent(probability))
	if reason != "" {
		text += " (" + reason + ")"
	}
	return text + ", so no contributing factors can be shown."
}

func (g *Generator) list(factors []domain.Attribution, space domain.OutputSpace) string {
	shown := factors
	if g.maxFactors > 0 && len(shown) > g.maxFactors {
		shown = shown[:g.maxFactors]
	}
	parts := make([]string, 0, len(shown)+1)
	for _, a := range shown {
		name := a.DisplayName
		if name == "" {
			name = a.Feature
		}
		parts = append(parts, fmt.Sprintf("%s (%s, %s)", name, a.Value, contribution(a.Contribution, space)))
	}
	if rest := len(factors) - len(shown); rest > 0 {
		parts = append(parts, fmt.Sprintf("and %d more", rest))
	}
	return strings.Join(parts, ", ")
}

func contribution(v float64, space domain.OutputSpace) string {
	s := strconv.FormatFloat(v*100, 'f', 1, 64) + " pp"
	if space == domain.OutputLogOdds {
		s = strconv.FormatFloat(v, 'f', 2, 64) + " log-odds"
	}
	if v > 0 {
		s = "+" + s
	}
	return s
}

func percent(p float64) string {
	return strconv.FormatFloat(p*100, 'f', 1, 64) + "%"
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
