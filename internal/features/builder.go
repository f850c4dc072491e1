// Package features turns raw match results into labeled feature tables for
// the prediction engine. It maintains per-team rolling state over a sliding
// window of recent matches and derives strength ratios against the league
// average, so every feature for a match is computed from matches strictly
// before it.
package features

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"matchcast/internal/dataset"
	"matchcast/internal/model"
)

// Feature column names emitted by the builder, beyond the strength ratios
// the models already know by name.
const (
	FeatHomeShotRatio = "home_shot_ratio"
	FeatAwayShotRatio = "away_shot_ratio"
	FeatHomeForm      = "home_form"
	FeatAwayForm      = "away_form"
	FeatRestDiff      = "rest_diff"
)

const (
	defaultWindow     = 10
	defaultMinMatches = 3
	defaultFormK      = 5

	neutralStrength = 1.0
	neutralForm     = 1.0 // points per game of an all-draw side
	defaultRestDays = 7.0
	maxRestDays     = 30.0
)

// MatchResult is one finished match. Shots are optional; zero means the
// source had no shot data and shot features stay neutral.
type MatchResult struct {
	MatchID   string    `json:"match_id"`
	Kickoff   time.Time `json:"kickoff"`
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	HomeGoals int       `json:"home_goals"`
	AwayGoals int       `json:"away_goals"`
	HomeShots int       `json:"home_shots,omitempty"`
	AwayShots int       `json:"away_shots,omitempty"`
}

// teamEntry is one match from a team's point of view.
type teamEntry struct {
	scored   int
	conceded int
	shots    int
	points   int
	kickoff  time.Time
}

// teamState is a team's rolling window, oldest entry first.
type teamState struct {
	recent []teamEntry
	played int
	last   time.Time
}

func (s *teamState) add(e teamEntry, window int) {
	if len(s.recent) == window {
		s.recent = s.recent[1:]
	}
	s.recent = append(s.recent, e)
	s.played++
	s.last = e.kickoff
}

func (s *teamState) perGame() (scored, conceded, shots float64) {
	if len(s.recent) == 0 {
		return 0, 0, 0
	}
	var sc, co, sh int
	for _, e := range s.recent {
		sc += e.scored
		co += e.conceded
		sh += e.shots
	}
	n := float64(len(s.recent))
	return float64(sc) / n, float64(co) / n, float64(sh) / n
}

// formPoints returns points per game over the last k window entries.
func (s *teamState) formPoints(k int) float64 {
	if len(s.recent) == 0 {
		return neutralForm
	}
	start := len(s.recent) - k
	if start < 0 {
		start = 0
	}
	var pts int
	for _, e := range s.recent[start:] {
		pts += e.points
	}
	return float64(pts) / float64(len(s.recent)-start)
}

// leagueState tracks cumulative league-wide rates used as strength
// denominators.
type leagueState struct {
	matches int
	goals   int // both teams combined
	shots   int
}

func (l *leagueState) goalsPerTeam() float64 {
	if l.matches == 0 {
		return 0
	}
	return float64(l.goals) / float64(2*l.matches)
}

func (l *leagueState) shotsPerTeam() float64 {
	if l.matches == 0 {
		return 0
	}
	return float64(l.shots) / float64(2*l.matches)
}

// Builder accumulates team state from results and emits feature tables.
// Build resets and replays its state, so a Builder can be reused; Fixture
// reads the state left by the last Build. Safe for concurrent use.
type Builder struct {
	window     int
	minMatches int
	formK      int

	mu     sync.RWMutex
	teams  map[string]*teamState
	league leagueState
	schema *dataset.Schema
}

// NewBuilder creates a feature builder. window is how many recent matches
// feed a team's rates, minMatches is the threshold below which a team gets
// neutral strengths, formK is how many matches count toward form points.
// Non-positive arguments fall back to defaults.
func NewBuilder(window, minMatches, formK int) *Builder {
	if window <= 0 {
		window = defaultWindow
	}
	if minMatches <= 0 {
		minMatches = defaultMinMatches
	}
	if formK <= 0 {
		formK = defaultFormK
	}
	schema, err := dataset.NewSchema([]string{
		model.FeatHomeAttack, model.FeatHomeDefense,
		model.FeatAwayAttack, model.FeatAwayDefense,
		FeatHomeShotRatio, FeatAwayShotRatio,
		FeatHomeForm, FeatAwayForm,
		FeatRestDiff,
	})
	if err != nil {
		panic(err) // static column list
	}
	return &Builder{
		window:     window,
		minMatches: minMatches,
		formK:      formK,
		teams:      make(map[string]*teamState),
		schema:     schema,
	}
}

// Schema returns the feature columns the builder emits.
func (b *Builder) Schema() *dataset.Schema {
	return b.schema
}

// Build walks results in kickoff order and returns a labeled feature table,
// one example per match. Features for a match come only from matches played
// before it. The builder's team state afterwards reflects the full input, so
// Fixture can be called for upcoming matches.
func (b *Builder) Build(results []MatchResult) (*dataset.Table, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ordered, err := validateResults(results)
	if err != nil {
		return nil, err
	}

	b.teams = make(map[string]*teamState, 2*len(ordered)/defaultWindow+2)
	b.league = leagueState{}

	table := &dataset.Table{Schema: b.schema}
	for _, res := range ordered {
		table.Examples = append(table.Examples, dataset.LabeledExample{
			FeatureVector: dataset.FeatureVector{
				MatchID: res.MatchID,
				Kickoff: res.Kickoff,
				Values:  b.featuresLocked(res.HomeTeam, res.AwayTeam, res.Kickoff),
			},
			Label: dataset.OutcomeFromGoals(res.HomeGoals, res.AwayGoals),
		})

		b.apply(res)
	}

	log.Info().
		Int("matches", table.Len()).
		Int("teams", len(b.teams)).
		Msg("Feature table built from results")

	return table, nil
}

// Fixture returns the feature vector for an unplayed match, computed from
// the state accumulated by the last Build. Unknown teams get neutral
// strengths, the same as newly promoted sides.
func (b *Builder) Fixture(home, away string, kickoff time.Time) (dataset.FeatureVector, error) {
	if strings.TrimSpace(home) == "" || strings.TrimSpace(away) == "" {
		return dataset.FeatureVector{}, fmt.Errorf("fixture needs both team names")
	}
	if home == away {
		return dataset.FeatureVector{}, fmt.Errorf("fixture has %s playing itself", home)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return dataset.FeatureVector{
		MatchID: FixtureID(home, away, kickoff),
		Kickoff: kickoff,
		Values:  b.featuresLocked(home, away, kickoff),
	}, nil
}

// FixtureID builds the canonical match identifier for an unplayed match,
// matching the format the results loader generates.
func FixtureID(home, away string, kickoff time.Time) string {
	slug := func(s string) string {
		return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
	}
	return fmt.Sprintf("%s_%s_%s", kickoff.Format("20060102"), slug(home), slug(away))
}

// featuresLocked computes the pre-match feature values. Callers hold b.mu.
func (b *Builder) featuresLocked(home, away string, kickoff time.Time) []float64 {
	homeAtt, homeDef, homeShots := b.strengths(home)
	awayAtt, awayDef, awayShots := b.strengths(away)

	return []float64{
		homeAtt, homeDef,
		awayAtt, awayDef,
		homeShots, awayShots,
		b.form(home), b.form(away),
		b.restDays(home, kickoff) - b.restDays(away, kickoff),
	}
}

// strengths returns attack, defense, and shot volume as ratios against the
// league per-team average. Teams with too little history are neutral.
func (b *Builder) strengths(team string) (attack, defense, shotRatio float64) {
	attack, defense, shotRatio = neutralStrength, neutralStrength, neutralStrength

	state, ok := b.teams[team]
	if !ok || state.played < b.minMatches {
		return
	}

	scored, conceded, shots := state.perGame()
	if gpt := b.league.goalsPerTeam(); gpt > 0 {
		attack = scored / gpt
		defense = conceded / gpt
	}
	if spt := b.league.shotsPerTeam(); spt > 0 && shots > 0 {
		shotRatio = shots / spt
	}
	return
}

func (b *Builder) form(team string) float64 {
	state, ok := b.teams[team]
	if !ok {
		return neutralForm
	}
	return state.formPoints(b.formK)
}

func (b *Builder) restDays(team string, kickoff time.Time) float64 {
	state, ok := b.teams[team]
	if !ok || state.last.IsZero() {
		return defaultRestDays
	}
	days := kickoff.Sub(state.last).Hours() / 24
	return math.Min(math.Max(days, 0), maxRestDays)
}

// apply folds one finished match into team and league state.
func (b *Builder) apply(res MatchResult) {
	homePoints, awayPoints := 1, 1
	switch {
	case res.HomeGoals > res.AwayGoals:
		homePoints, awayPoints = 3, 0
	case res.HomeGoals < res.AwayGoals:
		homePoints, awayPoints = 0, 3
	}

	b.team(res.HomeTeam).add(teamEntry{
		scored:   res.HomeGoals,
		conceded: res.AwayGoals,
		shots:    res.HomeShots,
		points:   homePoints,
		kickoff:  res.Kickoff,
	}, b.window)
	b.team(res.AwayTeam).add(teamEntry{
		scored:   res.AwayGoals,
		conceded: res.HomeGoals,
		shots:    res.AwayShots,
		points:   awayPoints,
		kickoff:  res.Kickoff,
	}, b.window)

	b.league.matches++
	b.league.goals += res.HomeGoals + res.AwayGoals
	b.league.shots += res.HomeShots + res.AwayShots
}

func (b *Builder) team(name string) *teamState {
	state, ok := b.teams[name]
	if !ok {
		state = &teamState{}
		b.teams[name] = state
	}
	return state
}

// validateResults checks every result and returns them ordered by kickoff
// without mutating the input.
func validateResults(results []MatchResult) ([]MatchResult, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("no results to build from")
	}

	seen := make(map[string]struct{}, len(results))
	for i, res := range results {
		if res.MatchID == "" {
			return nil, fmt.Errorf("result %d has no match id", i)
		}
		if _, dup := seen[res.MatchID]; dup {
			return nil, fmt.Errorf("duplicate match id %s", res.MatchID)
		}
		seen[res.MatchID] = struct{}{}
		if res.Kickoff.IsZero() {
			return nil, fmt.Errorf("match %s has no kickoff time", res.MatchID)
		}
		if strings.TrimSpace(res.HomeTeam) == "" || strings.TrimSpace(res.AwayTeam) == "" {
			return nil, fmt.Errorf("match %s is missing a team name", res.MatchID)
		}
		if res.HomeTeam == res.AwayTeam {
			return nil, fmt.Errorf("match %s has %s playing itself", res.MatchID, res.HomeTeam)
		}
		if res.HomeGoals < 0 || res.AwayGoals < 0 || res.HomeShots < 0 || res.AwayShots < 0 {
			return nil, fmt.Errorf("match %s has negative counts", res.MatchID)
		}
	}

	ordered := make([]MatchResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kickoff.Before(ordered[j].Kickoff)
	})
	return ordered, nil
}
