// Package counterfactual searches for minimal, feasible feature edits that bring a tender's
// risk score below a target, using a constrained genetic algorithm.
package counterfactual

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"tenderwatch/domain/core"
	domainCF "tenderwatch/domain/counterfactual"
	"tenderwatch/domain/features"
	"tenderwatch/internal/risk"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
)

// Config holds the engine hyperparameters.
type Config struct {
	TargetScore     float64 `validate:"gte=0,lte=100"`
	PopulationSize  int     `validate:"gte=2"`
	Generations     int     `validate:"gte=0"`
	MutationRate    float64 `validate:"gte=0,lte=1"`
	DiversityWeight float64 `validate:"gte=0,lte=1"`
	TopK            int     `validate:"gte=1"`

	// EliteFraction of each generation is carried over unchanged, never fewer than MinElite.
	EliteFraction  float64 `validate:"gte=0,lte=1"`
	MinElite       int     `validate:"gte=0"`
	TournamentSize int     `validate:"gte=1"`
	// Evolution stops once TopK*EarlyStopFactor candidates are below target
	// and at least a third of the generations have run.
	EarlyStopFactor int `validate:"gte=1"`

	Fitness FitnessWeights
}

// DefaultConfig returns the standard hyperparameters.
func DefaultConfig() Config {
	return Config{
		TargetScore:     30,
		PopulationSize:  50,
		Generations:     100,
		MutationRate:    0.3,
		DiversityWeight: 0.5,
		TopK:            5,
		EliteFraction:   0.1,
		MinElite:        2,
		TournamentSize:  3,
		EarlyStopFactor: 3,
		Fitness:         DefaultFitnessWeights(),
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.PopulationSize < 2 {
		c.PopulationSize = d.PopulationSize
	}
	if c.Generations < 0 {
		c.Generations = 0
	}
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.EliteFraction <= 0 {
		c.EliteFraction = d.EliteFraction
	}
	if c.MinElite <= 0 {
		c.MinElite = d.MinElite
	}
	if c.TournamentSize <= 0 {
		c.TournamentSize = d.TournamentSize
	}
	if c.EarlyStopFactor <= 0 {
		c.EarlyStopFactor = d.EarlyStopFactor
	}
	c.MutationRate = clampFloat64(c.MutationRate, 0, 1)
	c.DiversityWeight = clampFloat64(c.DiversityWeight, 0, 1)
	return c
}

// GenerateOptions are per-call overrides.
type GenerateOptions struct {
	// ScoreFn replaces the engine's scorer for this call.
	ScoreFn risk.ScoreFunc
	// TopK overrides Config.TopK when positive.
	TopK int
	// Rand is the random source for this call; nil uses a time-seeded source.
	Rand *rand.Rand
}

// Outcome classifies a run.
type Outcome string

const (
	OutcomeNoActionNeeded Outcome = "no_action_needed"
	OutcomeTargetMet      Outcome = "target_met"
	OutcomeBestEffort     Outcome = "best_effort"
	OutcomeNoEdit         Outcome = "no_edit_found"
)

// RunStats describes one Generate call.
type RunStats struct {
	RunID         core.RunID
	Outcome       Outcome
	Generations   int
	EarlyStopped  bool
	BestScore     float64
	BelowTarget   int
	MedianFitness float64
	Returned      int
	Duration      time.Duration
}

// Engine generates counterfactual explanations. It holds no per-call state and is safe for
// concurrent use as long as each call supplies its own Rand.
type Engine struct {
	model     *features.Model
	scoreFn   risk.ScoreFunc
	describer *Describer
	cfg       Config
}

// NewEngine creates an engine. A nil scoreFn uses the default CRI scorer over model,
// and a nil describer uses DefaultDescriptions.
func NewEngine(model *features.Model, scoreFn risk.ScoreFunc, describer *Describer, cfg Config) *Engine {
	if scoreFn == nil {
		scoreFn = risk.NewScorer(risk.DefaultWeights(), model, risk.DefaultOptions()).Score
	}
	if describer == nil {
		describer = NewDescriber(model, DefaultDescriptions())
	}
	return &Engine{model: model, scoreFn: scoreFn, describer: describer, cfg: cfg.normalized()}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Model returns the feature model the engine searches over.
func (e *Engine) Model() *features.Model {
	return e.model
}

// Score applies the engine's scorer to v. Non-finite values count as absent.
func (e *Engine) Score(v features.Vector) float64 {
	return e.scoreFn(v.Finite())
}

type candidate struct {
	vec         features.Vector
	score       float64
	distance    float64
	feasibility float64
	fitness     float64
}

// Generate returns up to TopK diversified counterfactuals for original.
// An empty result means no action is needed when originalScore <= TargetScore,
// and that no mutable feature could be changed otherwise.
func (e *Engine) Generate(original features.Vector, originalScore float64, opts GenerateOptions) []domainCF.Counterfactual {
	cfs, _ := e.GenerateWithStats(original, originalScore, opts)
	return cfs
}

// GenerateWithStats is Generate plus run statistics.
func (e *Engine) GenerateWithStats(original features.Vector, originalScore float64, opts GenerateOptions) ([]domainCF.Counterfactual, RunStats) {
	started := time.Now()
	run := RunStats{RunID: core.NewRunID()}
	cfg := e.cfg

	if math.IsNaN(originalScore) {
		originalScore = 0
	}
	if originalScore <= cfg.TargetScore {
		run.Outcome = OutcomeNoActionNeeded
		run.Duration = time.Since(started)
		return []domainCF.Counterfactual{}, run
	}

	topK := cfg.TopK
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	scoreFn := e.scoreFn
	if opts.ScoreFn != nil {
		scoreFn = opts.ScoreFn
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	original = original.Finite()
	population := e.initialPopulation(rng, original)

	for gen := 0; gen < cfg.Generations; gen++ {
		e.evaluate(population, original, originalScore, scoreFn)
		sort.SliceStable(population, func(i, j int) bool {
			return population[i].fitness > population[j].fitness
		})
		run.Generations = gen + 1

		if countBelow(population, cfg.TargetScore) >= topK*cfg.EarlyStopFactor && gen >= cfg.Generations/3 {
			run.EarlyStopped = true
			break
		}
		population = e.nextGeneration(rng, population, original)
	}

	e.evaluate(population, original, originalScore, scoreFn)
	e.summarize(&run, population)

	var valid, changed []domainCF.Counterfactual
	for _, c := range population {
		changes := ExtractChanges(e.model, e.describer, original, c.vec)
		if len(changes) == 0 {
			continue
		}
		cf := domainCF.Counterfactual{
			ChangedFeatures:     changes,
			CounterfactualScore: roundTo(c.score, 2),
			Distance:            roundTo(c.distance, 4),
			Feasibility:         roundTo(c.feasibility, 4),
			NumChanges:          len(changes),
			MeetsTarget:         c.score < cfg.TargetScore,
		}
		changed = append(changed, cf)
		if cf.MeetsTarget {
			valid = append(valid, cf)
		}
	}
	valid = dedupe(valid)
	run.Outcome = OutcomeTargetMet

	if len(valid) == 0 {
		valid = dedupe(changed)
		sort.SliceStable(valid, func(i, j int) bool {
			return valid[i].CounterfactualScore < valid[j].CounterfactualScore
		})
		if len(valid) > topK {
			valid = valid[:topK]
		}
		run.Outcome = OutcomeBestEffort
		if len(valid) == 0 {
			run.Outcome = OutcomeNoEdit
		}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].NumChanges != valid[j].NumChanges {
			return valid[i].NumChanges < valid[j].NumChanges
		}
		return valid[i].Distance < valid[j].Distance
	})

	result := Diversify(valid, topK, cfg.DiversityWeight)
	run.Returned = len(result)
	run.Duration = time.Since(started)
	return result, run
}

// initialPopulation perturbs 1-5 random mutable features of the original per candidate.
func (e *Engine) initialPopulation(rng *rand.Rand, original features.Vector) []*candidate {
	mutable := e.model.MutablePresent(original)
	population := make([]*candidate, 0, e.cfg.PopulationSize)

	for i := 0; i < e.cfg.PopulationSize; i++ {
		vec := original.Clone()
		if len(mutable) > 0 {
			n := 1 + rng.Intn(minInt(5, len(mutable)))
			for _, idx := range rng.Perm(len(mutable))[:n] {
				name := mutable[idx]
				def, _ := e.model.Lookup(name)
				vec[name] = RandomValue(rng, def, original.Get(name))
			}
		}
		population = append(population, &candidate{vec: Enforce(e.model, vec, original)})
	}
	return population
}

func (e *Engine) evaluate(population []*candidate, original features.Vector, originalScore float64, scoreFn risk.ScoreFunc) {
	for _, c := range population {
		c.score = boundedScore(scoreFn(c.vec))
		c.distance = Distance(e.model, original, c.vec)
		c.feasibility = Feasibility(e.model, original, c.vec)
		c.fitness = Fitness(e.cfg.Fitness, originalScore, c.score, e.cfg.TargetScore, c.distance, c.feasibility)
	}
}

// boundedScore keeps a pluggable scorer's output inside [0,100]; NaN counts as maximal risk.
func boundedScore(v float64) float64 {
	if math.IsNaN(v) {
		return 100
	}
	return math.Max(0, math.Min(100, v))
}

// nextGeneration expects population sorted by fitness, best first.
func (e *Engine) nextGeneration(rng *rand.Rand, population []*candidate, original features.Vector) []*candidate {
	size := e.cfg.PopulationSize
	elite := maxInt(e.cfg.MinElite, int(float64(len(population))*e.cfg.EliteFraction))
	elite = minInt(elite, len(population))

	next := make([]*candidate, 0, size)
	for i := 0; i < elite; i++ {
		next = append(next, &candidate{vec: population[i].vec.Clone()})
	}
	for len(next) < size {
		a := e.tournament(rng, population)
		b := e.tournament(rng, population)
		child := Crossover(rng, a.vec, b.vec)
		child = Mutate(rng, e.model, child, original, e.cfg.MutationRate)
		child = Enforce(e.model, child, original)
		next = append(next, &candidate{vec: child})
	}
	return next
}

func (e *Engine) tournament(rng *rand.Rand, population []*candidate) *candidate {
	var best *candidate
	for i := 0; i < e.cfg.TournamentSize; i++ {
		c := population[rng.Intn(len(population))]
		if best == nil || c.fitness > best.fitness {
			best = c
		}
	}
	return best
}

func (e *Engine) summarize(run *RunStats, population []*candidate) {
	if len(population) == 0 {
		return
	}
	scores := make([]float64, len(population))
	fitness := make([]float64, len(population))
	for i, c := range population {
		scores[i] = c.score
		fitness[i] = c.fitness
	}
	run.BestScore = roundTo(floats.Min(scores), 2)
	run.BelowTarget = countBelow(population, e.cfg.TargetScore)
	if median, err := stats.Median(fitness); err == nil && !math.IsNaN(median) {
		run.MedianFitness = roundTo(median, 4)
	}
}

func countBelow(population []*candidate, target float64) int {
	n := 0
	for _, c := range population {
		if c.score < target {
			n++
		}
	}
	return n
}

// dedupe drops counterfactuals proposing exactly the same edits, keeping the first.
func dedupe(cfs []domainCF.Counterfactual) []domainCF.Counterfactual {
	seen := make(map[string]bool, len(cfs))
	out := make([]domainCF.Counterfactual, 0, len(cfs))
	for _, cf := range cfs {
		sig := signature(cf)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, cf)
	}
	return out
}

func signature(cf domainCF.Counterfactual) string {
	var b strings.Builder
	for _, k := range cf.ChangedKeys() {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(cf.ChangedFeatures[k].To, 'g', -1, 64))
		b.WriteByte(';')
	}
	return b.String()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
