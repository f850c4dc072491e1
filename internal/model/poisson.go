package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"matchcast/internal/dataset"
)

// PoissonName identifies the attack/defense Poisson goal model. It turns
// per-team strength ratios into expected goals, builds a score probability
// matrix with the Dixon-Coles low-score correction, and reads the outcome
// probabilities off the matrix triangles.
const PoissonName = "poisson"

// Strength features the Poisson variant requires in the table schema.
// Values are ratios against the league mean; 1.0 is a neutral team.
const (
	FeatHomeAttack  = "home_attack"
	FeatHomeDefense = "home_defense"
	FeatAwayAttack  = "away_attack"
	FeatAwayDefense = "away_defense"
)

const (
	poissonMaxGoals  = 9
	poissonMinLambda = 0.05
	poissonMaxLambda = 8.0
	poissonPasses    = 3

	defaultHomeGoalRate = 1.5
	defaultAwayGoalRate = 1.1
	defaultRho          = -0.03
)

func init() {
	Register(PoissonName, func() Model { return NewPoisson() })
}

// Poisson is the goal-model variant. Fit calibrates the league goal rates
// and the Dixon-Coles rho by coordinate descent on the outcome
// log-likelihood; the team strengths themselves arrive as features.
type Poisson struct {
	dim      int
	idxHA    int
	idxHD    int
	idxAA    int
	idxAD    int
	homeRate float64
	awayRate float64
	rho      float64
	fitted   bool
}

// NewPoisson returns an unfit Poisson goal model.
func NewPoisson() *Poisson {
	return &Poisson{homeRate: defaultHomeGoalRate, awayRate: defaultAwayGoalRate, rho: defaultRho}
}

// Name implements Model.
func (m *Poisson) Name() string { return PoissonName }

func clampStrength(v float64) float64 {
	if v < 0.2 {
		return 0.2
	}
	if v > 5 {
		return 5
	}
	return v
}

func clampLambda(v float64) float64 {
	if v < poissonMinLambda {
		return poissonMinLambda
	}
	if v > poissonMaxLambda {
		return poissonMaxLambda
	}
	return v
}

// Fit implements Model.
func (m *Poisson) Fit(ctx context.Context, examples []dataset.LabeledExample, schema *dataset.Schema) error {
	if err := checkTrainable(examples, schema); err != nil {
		return err
	}

	required := []string{FeatHomeAttack, FeatHomeDefense, FeatAwayAttack, FeatAwayDefense}
	indices := make([]int, len(required))
	for i, name := range required {
		idx, ok := schema.Index(name)
		if !ok {
			return fmt.Errorf("schema missing feature %q required by the poisson model", name)
		}
		indices[i] = idx
	}
	m.idxHA, m.idxHD, m.idxAA, m.idxAD = indices[0], indices[1], indices[2], indices[3]
	m.dim = schema.Len()

	// Attack x opposing defense, fixed per example across the whole search.
	type matchTerm struct {
		home  float64
		away  float64
		label dataset.Outcome
	}
	terms := make([]matchTerm, len(examples))
	for i, ex := range examples {
		terms[i] = matchTerm{
			home:  clampStrength(ex.Values[m.idxHA]) * clampStrength(ex.Values[m.idxAD]),
			away:  clampStrength(ex.Values[m.idxAA]) * clampStrength(ex.Values[m.idxHD]),
			label: ex.Label,
		}
	}

	logLik := func(homeRate, awayRate, rho float64) float64 {
		ll := 0.0
		for _, t := range terms {
			probs := outcomeProbs(clampLambda(homeRate*t.home), clampLambda(awayRate*t.away), rho)
			p := probs[t.label]
			if p < 1e-12 {
				p = 1e-12
			}
			ll += math.Log(p)
		}
		return ll
	}

	homeRate, awayRate, rho := defaultHomeGoalRate, defaultAwayGoalRate, defaultRho
	best := logLik(homeRate, awayRate, rho)

	scan := func(lo, hi, step float64, eval func(float64) float64) (float64, float64, bool) {
		bestV, bestLL, moved := math.NaN(), best, false
		for v := lo; v <= hi+1e-9; v += step {
			if ll := eval(v); ll > bestLL {
				bestV, bestLL, moved = v, ll, true
			}
		}
		return bestV, bestLL, moved
	}

	for pass := 0; pass < poissonPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("fit canceled at pass %d: %w", pass, err)
		}
		moved := false

		if v, ll, ok := scan(0.7, 2.4, 0.05, func(v float64) float64 { return logLik(v, awayRate, rho) }); ok {
			homeRate, best, moved = v, ll, true
		}
		if v, ll, ok := scan(0.5, 2.0, 0.05, func(v float64) float64 { return logLik(homeRate, v, rho) }); ok {
			awayRate, best, moved = v, ll, true
		}
		if v, ll, ok := scan(-0.20, 0.10, 0.01, func(v float64) float64 { return logLik(homeRate, awayRate, v) }); ok {
			rho, best, moved = v, ll, true
		}

		if !moved {
			break
		}
	}

	m.homeRate = homeRate
	m.awayRate = awayRate
	m.rho = rho
	m.fitted = true
	return nil
}

// PredictProba implements Model.
func (m *Poisson) PredictProba(fv dataset.FeatureVector) (ProbabilityVector, error) {
	if !m.fitted {
		return ProbabilityVector{}, fmt.Errorf("poisson model is not fitted")
	}
	if len(fv.Values) != m.dim {
		return ProbabilityVector{}, fmt.Errorf("expected %d features, got %d", m.dim, len(fv.Values))
	}
	for _, idx := range []int{m.idxHA, m.idxHD, m.idxAA, m.idxAD} {
		if v := fv.Values[idx]; math.IsNaN(v) || math.IsInf(v, 0) {
			return ProbabilityVector{}, fmt.Errorf("non-finite strength feature at %d", idx)
		}
	}

	lambdaHome := clampLambda(m.homeRate * clampStrength(fv.Values[m.idxHA]) * clampStrength(fv.Values[m.idxAD]))
	lambdaAway := clampLambda(m.awayRate * clampStrength(fv.Values[m.idxAA]) * clampStrength(fv.Values[m.idxHD]))
	return outcomeProbs(lambdaHome, lambdaAway, m.rho), nil
}

// outcomeProbs builds the truncated score matrix for both Poisson margins,
// applies the Dixon-Coles low-score correction, renormalizes, and folds the
// matrix triangles into home win / draw / away win mass.
func outcomeProbs(lambdaHome, lambdaAway, rho float64) ProbabilityVector {
	homePMF := poissonPMF(lambdaHome)
	awayPMF := poissonPMF(lambdaAway)

	var probs ProbabilityVector
	total := 0.0
	for h := 0; h <= poissonMaxGoals; h++ {
		for a := 0; a <= poissonMaxGoals; a++ {
			p := homePMF[h] * awayPMF[a] * dixonColesTau(h, a, lambdaHome, lambdaAway, rho)
			if p < 0 {
				p = 0
			}
			total += p
			switch {
			case h > a:
				probs[dataset.HomeWin] += p
			case h == a:
				probs[dataset.Draw] += p
			default:
				probs[dataset.AwayWin] += p
			}
		}
	}

	for i := range probs {
		probs[i] /= total
	}
	return probs
}

// dixonColesTau adjusts 0-0, 1-0, 0-1 and 1-1 scorelines, where independent
// Poisson margins are known to misprice draws.
func dixonColesTau(homeGoals, awayGoals int, lambdaHome, lambdaAway, rho float64) float64 {
	switch {
	case homeGoals == 0 && awayGoals == 0:
		return 1 - lambdaHome*lambdaAway*rho
	case homeGoals == 0 && awayGoals == 1:
		return 1 + lambdaHome*rho
	case homeGoals == 1 && awayGoals == 0:
		return 1 + lambdaAway*rho
	case homeGoals == 1 && awayGoals == 1:
		return 1 - rho
	default:
		return 1
	}
}

func poissonPMF(lambda float64) [poissonMaxGoals + 1]float64 {
	dist := distuv.Poisson{Lambda: lambda}
	var pmf [poissonMaxGoals + 1]float64
	for k := range pmf {
		pmf[k] = dist.Prob(float64(k))
	}
	return pmf
}

type poissonBundle struct {
	Format   int     `json:"format"`
	Dim      int     `json:"dim"`
	IdxHA    int     `json:"idx_home_attack"`
	IdxHD    int     `json:"idx_home_defense"`
	IdxAA    int     `json:"idx_away_attack"`
	IdxAD    int     `json:"idx_away_defense"`
	HomeRate float64 `json:"home_rate"`
	AwayRate float64 `json:"away_rate"`
	Rho      float64 `json:"rho"`
}

// MarshalBinary implements Model.
func (m *Poisson) MarshalBinary() ([]byte, error) {
	if !m.fitted {
		return nil, fmt.Errorf("cannot serialize unfit poisson model")
	}
	return json.Marshal(poissonBundle{
		Format:   BundleFormat,
		Dim:      m.dim,
		IdxHA:    m.idxHA,
		IdxHD:    m.idxHD,
		IdxAA:    m.idxAA,
		IdxAD:    m.idxAD,
		HomeRate: m.homeRate,
		AwayRate: m.awayRate,
		Rho:      m.rho,
	})
}

// UnmarshalBinary implements Model.
func (m *Poisson) UnmarshalBinary(data []byte) error {
	var b poissonBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("failed to decode poisson bundle: %w", err)
	}
	if err := checkBundleFormat(PoissonName, b.Format); err != nil {
		return err
	}
	if b.Dim <= 0 {
		return fmt.Errorf("poisson bundle has invalid dimension %d", b.Dim)
	}
	for _, idx := range []int{b.IdxHA, b.IdxHD, b.IdxAA, b.IdxAD} {
		if idx < 0 || idx >= b.Dim {
			return fmt.Errorf("poisson bundle strength index %d out of range [0,%d)", idx, b.Dim)
		}
	}

	m.dim = b.Dim
	m.idxHA, m.idxHD, m.idxAA, m.idxAD = b.IdxHA, b.IdxHD, b.IdxAA, b.IdxAD
	m.homeRate = b.HomeRate
	m.awayRate = b.AwayRate
	m.rho = b.Rho
	m.fitted = true
	return nil
}
