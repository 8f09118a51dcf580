package validate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalagman/swarm/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sh(script string) []string { return []string{"sh", "-c", script} }

func TestProbe_FirstExitZeroWins(t *testing.T) {
	r := NewRunner(Config{})
	a, attempts, err := r.Probe(context.Background(), t.TempDir(), [][]string{
		{"definitely-not-a-binary-xyz"},
		sh("exit 1"),
		sh("echo second"),
		sh("echo third"),
	})
	require.NoError(t, err)
	assert.Equal(t, "second\n", a.Output)
	assert.Len(t, attempts, 2)
}

func TestProbe_NoneSucceeds(t *testing.T) {
	r := NewRunner(Config{})
	_, _, err := r.Probe(context.Background(), t.TempDir(), [][]string{sh("exit 2"), nil})
	assert.True(t, errors.Is(err, model.ErrValidationSkipped))
}

func TestTest_ParsesMochaOutput(t *testing.T) {
	var logBuf bytes.Buffer
	r := NewRunner(Config{Test: [][]string{sh(`echo "  8 passing"; echo "  2 failing"`)}}, WithLog(&logBuf))

	sum := r.Test(context.Background(), t.TempDir())
	assert.Equal(t, 8, sum.Passed)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 10, sum.Total)
	assert.Contains(t, logBuf.String(), "8 passing")
}

func TestTest_FailingSuiteIsZeroSummary(t *testing.T) {
	r := NewRunner(Config{Test: [][]string{sh(`echo "8 passing"; echo "2 failing"; exit 1`)}})
	assert.Equal(t, &model.TestSummary{}, r.Test(context.Background(), t.TempDir()))
}

func TestE2E_FailingRunIsZeroSummary(t *testing.T) {
	r := NewRunner(Config{
		E2E:          [][]string{sh(`mkdir -p test-results && echo x > test-results/a.png && echo "3 passed"; echo "1 failed"; exit 1`)},
		ArtifactDirs: []string{"test-results"},
	})
	sum := r.E2E(context.Background(), t.TempDir())
	assert.Equal(t, &model.E2ESummary{ArtifactPaths: []string{}}, sum)
}

func TestTest_SkippedIsZeroSummary(t *testing.T) {
	r := NewRunner(Config{Test: [][]string{sh("exit 1")}})
	assert.Equal(t, &model.TestSummary{}, r.Test(context.Background(), t.TempDir()))
}

func TestTest_ConfiguredParserChain(t *testing.T) {
	script := sh(`echo '{"passed": 5, "failed": 1}'; echo "9 passing"`)

	byDefault := NewRunner(Config{Test: [][]string{script}})
	assert.Equal(t, 9, byDefault.Test(context.Background(), t.TempDir()).Passed)

	jsonOnly := NewRunner(Config{Test: [][]string{script}, Parsers: Parsers{Test: []string{ParserJSON}}})
	sum := jsonOnly.Test(context.Background(), t.TempDir())
	assert.Equal(t, 5, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 6, sum.Total)
}

func TestBuild(t *testing.T) {
	ok := NewRunner(Config{Build: [][]string{sh("exit 1"), sh("exit 0")}})
	assert.Equal(t, model.BuildSuccess, ok.Build(context.Background(), t.TempDir()))

	bad := NewRunner(Config{Build: [][]string{sh("exit 1")}})
	assert.Equal(t, model.BuildFailed, bad.Build(context.Background(), t.TempDir()))

	none := NewRunner(Config{})
	assert.Equal(t, model.BuildFailed, none.Build(context.Background(), t.TempDir()))
}

func TestE2E_CollectsArtifacts(t *testing.T) {
	dir := t.TempDir()
	dest := t.TempDir()
	r := NewRunner(Config{
		E2E:          [][]string{sh(`mkdir -p test-results/run && echo trace > test-results/run/trace.zip && echo "3 passed"`)},
		ArtifactDirs: []string{"test-results", "missing"},
	}, WithArtifactDest(dest))

	sum := r.E2E(context.Background(), dir)
	assert.Equal(t, 3, sum.Passed)
	assert.Equal(t, 3, sum.Total)
	require.Len(t, sum.ArtifactPaths, 1)
	assert.Equal(t, filepath.Join(dest, "test-results", "run", "trace.zip"), sum.ArtifactPaths[0])

	data, err := os.ReadFile(sum.ArtifactPaths[0])
	require.NoError(t, err)
	assert.Equal(t, "trace\n", string(data))
}

func TestE2E_SkippedHasEmptyArtifacts(t *testing.T) {
	sum := NewRunner(Config{}).E2E(context.Background(), t.TempDir())
	assert.Equal(t, 0, sum.Total)
	assert.NotNil(t, sum.ArtifactPaths)
}
