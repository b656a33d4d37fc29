package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSource holds each Open until its gate is closed.
type gatedSource struct {
	data  mapSource
	gates map[string]chan struct{}
}

func (g *gatedSource) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if gate, ok := g.gates[id]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.data.Open(ctx, id)
}

func newTestEngine(t *testing.T, source Source) *Engine {
	t.Helper()
	e := NewEngine(NewDatasetLoader(source))
	e.Load(context.Background())
	require.True(t, e.Ready())
	return e
}

func TestEngine_NotReadyBeforeLoad(t *testing.T) {
	e := NewEngine(NewDatasetLoader(testDatasets()))

	assert.Equal(t, Unloaded, e.Readiness())
	_, ok := e.Match("malaria")
	assert.False(t, ok)
	assert.Nil(t, e.Vaccinations())
	assert.Equal(t, KindLoading, e.Respond("malaria").Kind)
}

func TestEngine_ReadyOnlyAfterAllLoadsSettle(t *testing.T) {
	files := DefaultDatasetFiles
	src := &gatedSource{
		// descriptions and vaccinations are missing and will fail
		data: mapSource{files.Precautions: testPrecautions},
		gates: map[string]chan struct{}{
			files.Descriptions: make(chan struct{}),
			files.Precautions:  make(chan struct{}),
			files.Vaccinations: make(chan struct{}),
		},
	}
	e := NewEngine(NewDatasetLoader(src))

	done := make(chan struct{})
	go func() {
		e.Load(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return e.Readiness() == Loading }, time.Second, 5*time.Millisecond)

	close(src.gates[files.Descriptions])
	close(src.gates[files.Vaccinations])
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Loading, e.Readiness(), "two of three loads settled")
	assert.Equal(t, KindLoading, e.Respond("malaria").Kind)

	close(src.gates[files.Precautions])
	<-done
	assert.Equal(t, Ready, e.Readiness())

	res, ok := e.Match("malaria")
	require.True(t, ok)
	assert.Equal(t, noDescription, res.Topic.Description)
	assert.Empty(t, e.Vaccinations())

	report, _, ok := e.Report()
	require.True(t, ok)
	assert.Contains(t, report.Descriptions, "unavailable")
	assert.Equal(t, "loaded", report.Precautions)
	assert.Contains(t, report.Vaccinations, "unavailable")
}

func TestEngine_LoadRunsOnce(t *testing.T) {
	e := newTestEngine(t, testDatasets())
	before := e.Topics()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Load(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, Ready, e.Readiness())
	assert.Equal(t, before, e.Topics())
}

func TestEngine_AllLoadsFailStillReady(t *testing.T) {
	e := newTestEngine(t, mapSource{})

	assert.Empty(t, e.Topics())
	assert.Empty(t, e.Vaccinations())
	assert.Equal(t, KindNotFound, e.Respond("malaria").Kind)
}

func TestEngine_Reload(t *testing.T) {
	src := testDatasets()
	e := newTestEngine(t, src)
	assert.Len(t, e.Topics(), 4)

	src[DefaultDatasetFiles.Descriptions] = testDescriptions + "Typhoid,Bacterial infection\n"
	n := e.Reload(context.Background())

	assert.Equal(t, 5, n)
	assert.Equal(t, Ready, e.Readiness())
	res, ok := e.Match("typhoid")
	require.True(t, ok)
	assert.Equal(t, "Bacterial infection", res.Topic.Description)
}

func TestEngine_ReloadBeforeLoad(t *testing.T) {
	e := NewEngine(NewDatasetLoader(testDatasets()))
	n := e.Reload(context.Background())
	assert.Equal(t, 4, n)
	assert.True(t, e.Ready())
}

func TestEngine_CustomAliases(t *testing.T) {
	e := NewEngine(NewDatasetLoader(testDatasets()), WithAliases(AliasTable{{Term: "fever", Canonical: "malaria"}}))
	e.Load(context.Background())

	res, ok := e.Match("fever")
	require.True(t, ok)
	assert.Equal(t, "malaria", res.Topic.Name)

	_, ok = e.Match("sugar")
	assert.False(t, ok)
}

func TestEngine_ReloadIgnoresCallerCancellation(t *testing.T) {
	dir := t.TempDir()
	files := DefaultDatasetFiles
	require.NoError(t, os.WriteFile(filepath.Join(dir, files.Descriptions), []byte(testDescriptions), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, files.Precautions), []byte(testPrecautions), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, files.Vaccinations), []byte(testVaccinations), 0o644))

	e := newTestEngine(t, NewDirSource(dir))
	topics := e.Topics()
	vaccines := e.Vaccinations()
	require.Len(t, topics, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := e.Reload(ctx)

	assert.Equal(t, 4, n)
	assert.Equal(t, topics, e.Topics())
	assert.Equal(t, vaccines, e.Vaccinations())
	report, _, ok := e.Report()
	require.True(t, ok)
	assert.Equal(t, "loaded", report.Descriptions)
}

func TestEngine_ReloadKeepsSnapshotWhenNothingLoads(t *testing.T) {
	src := testDatasets()
	e := newTestEngine(t, src)
	topics := e.Topics()
	vaccines := e.Vaccinations()

	for id := range src {
		delete(src, id)
	}
	n := e.Reload(context.Background())

	assert.Equal(t, len(topics), n)
	assert.Equal(t, topics, e.Topics())
	assert.Equal(t, vaccines, e.Vaccinations())

	res, ok := e.Match("malaria")
	require.True(t, ok)
	assert.Len(t, res.Topic.Precautions, 4)
}

func TestEngine_ReloadWithPartialData(t *testing.T) {
	src := testDatasets()
	e := newTestEngine(t, src)

	delete(src, DefaultDatasetFiles.Descriptions)
	delete(src, DefaultDatasetFiles.Vaccinations)
	n := e.Reload(context.Background())

	// precautions alone still form a usable snapshot
	assert.Equal(t, 3, n)
	assert.Empty(t, e.Vaccinations())
	report, _, _ := e.Report()
	assert.Contains(t, report.Descriptions, "unavailable")
}
