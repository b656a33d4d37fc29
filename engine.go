package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DatasetFiles names the three resources the engine loads.
type DatasetFiles struct {
	Descriptions string
	Precautions  string
	Vaccinations string
}

// DefaultDatasetFiles are the resource ids used by the chatbot's static data.
var DefaultDatasetFiles = DatasetFiles{
	Descriptions: "symptom_Description.csv",
	Precautions:  "symptom_precaution.csv",
	Vaccinations: "vaccination_schedule.json",
}

// LoadReport records the availability of each resource from the last build.
type LoadReport struct {
	Descriptions string `json:"descriptions"`
	Precautions  string `json:"precautions"`
	Vaccinations string `json:"vaccinations"`
}

// snapshot is one immutable build of the datasets.
type snapshot struct {
	matcher  *TopicMatcher
	kb       *KnowledgeBase
	vaccines []VaccinationEntry
	report   LoadReport
	loadedAt time.Time
	loaded   int // resources that loaded
}

func (s *snapshot) anyLoaded() bool { return s.loaded > 0 }

// Engine answers health queries from the offline datasets.
// It loads once (Unloaded -> Loading -> Ready) and is read-only afterwards,
// except for explicit full reloads that swap in a new snapshot.
type Engine struct {
	loader   *DatasetLoader
	files    DatasetFiles
	aliases  AliasTable
	renderer *Renderer

	state   readinessFlag
	once    sync.Once
	current atomic.Pointer[snapshot]
	reloads singleflight.Group
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

func WithAliases(t AliasTable) EngineOption {
	return func(e *Engine) { e.aliases = t }
}

func WithDatasetFiles(f DatasetFiles) EngineOption {
	return func(e *Engine) { e.files = f }
}

func NewEngine(loader *DatasetLoader, opts ...EngineOption) *Engine {
	e := &Engine{
		loader:   loader,
		files:    DefaultDatasetFiles,
		aliases:  DefaultAliases,
		renderer: NewRenderer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load performs the one-time dataset load. Concurrent and later calls wait
// for the first one to finish. The engine is Ready afterwards even if some
// or all resources were unavailable.
func (e *Engine) Load(ctx context.Context) {
	e.once.Do(func() {
		e.state.advance(Unloaded, Loading)
		log.Info().Msg("Loading offline datasets")
		s := e.build(ctx)
		e.current.Store(s)
		e.state.advance(Loading, Ready)
		log.Info().
			Int("topics", s.kb.Len()).
			Int("vaccination_entries", len(s.vaccines)).
			Msg("Offline engine ready")
	})
}

// Reload rebuilds the datasets and swaps the new snapshot in. Concurrent
// reloads share one build, which is not cancelled with the caller. A build
// in which no resource loaded keeps the current snapshot. Before the first
// load it is the same as Load.
func (e *Engine) Reload(ctx context.Context) int {
	if e.state.Load() != Ready {
		e.Load(ctx)
		return e.current.Load().kb.Len()
	}
	v, _, _ := e.reloads.Do("reload", func() (interface{}, error) {
		s := e.build(context.WithoutCancel(ctx))
		if !s.anyLoaded() {
			log.Warn().
				Str("descriptions", s.report.Descriptions).
				Str("precautions", s.report.Precautions).
				Str("vaccinations", s.report.Vaccinations).
				Msg("Reload found no datasets, keeping current snapshot")
			return e.current.Load().kb.Len(), nil
		}
		e.current.Store(s)
		log.Info().Int("topics", s.kb.Len()).Msg("Offline datasets reloaded")
		return s.kb.Len(), nil
	})
	return v.(int)
}

// build loads the three resources concurrently and processes them only once
// all of them have settled.
func (e *Engine) build(ctx context.Context) *snapshot {
	var (
		g                errgroup.Group
		descRes, precRes Resource[string]
		vaccRes          Resource[[]VaccinationEntry]
	)
	g.Go(func() error {
		descRes = e.loader.FetchText(ctx, e.files.Descriptions)
		return nil
	})
	g.Go(func() error {
		precRes = e.loader.FetchText(ctx, e.files.Precautions)
		return nil
	})
	g.Go(func() error {
		vaccRes = FetchStructured[[]VaccinationEntry](ctx, e.loader, e.files.Vaccinations)
		return nil
	})
	_ = g.Wait()

	kb := BuildKnowledgeBase(descRes.OrDefault(""), precRes.OrDefault(""))
	vaccines := vaccRes.OrDefault(nil)
	if vaccines == nil {
		vaccines = []VaccinationEntry{}
	}
	return &snapshot{
		matcher:  NewTopicMatcher(kb, e.aliases),
		kb:       kb,
		vaccines: vaccines,
		report: LoadReport{
			Descriptions: descRes.Status(),
			Precautions:  precRes.Status(),
			Vaccinations: vaccRes.Status(),
		},
		loadedAt: time.Now(),
		loaded:   countAvailable(descRes.Available(), precRes.Available(), vaccRes.Available()),
	}
}

func countAvailable(flags ...bool) int {
	n := 0
	for _, ok := range flags {
		if ok {
			n++
		}
	}
	return n
}

// Readiness returns the current load state.
func (e *Engine) Readiness() Readiness { return e.state.Load() }

// Ready reports whether the datasets finished loading.
func (e *Engine) Ready() bool { return e.state.Load() == Ready }

// Match resolves a query to a topic. It never matches before the engine is ready.
func (e *Engine) Match(query string) (MatchResult, bool) {
	s := e.loadedSnapshot()
	if s == nil {
		return MatchResult{}, false
	}
	return s.matcher.Match(query)
}

// Vaccinations returns the loaded vaccination schedule.
func (e *Engine) Vaccinations() []VaccinationEntry {
	s := e.loadedSnapshot()
	if s == nil {
		return nil
	}
	return append([]VaccinationEntry(nil), s.vaccines...)
}

// Topics returns the topic names in knowledge base order.
func (e *Engine) Topics() []string {
	s := e.loadedSnapshot()
	if s == nil {
		return nil
	}
	return s.kb.Names()
}

// Report returns the load report and time of the current snapshot.
func (e *Engine) Report() (LoadReport, time.Time, bool) {
	s := e.loadedSnapshot()
	if s == nil {
		return LoadReport{}, time.Time{}, false
	}
	return s.report, s.loadedAt, true
}

func (e *Engine) loadedSnapshot() *snapshot {
	if !e.Ready() {
		return nil
	}
	return e.current.Load()
}
