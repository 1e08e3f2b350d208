package sync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendhunt/data-sync-service/internal/config"
	"github.com/tendhunt/data-sync-service/internal/models"
	"github.com/tendhunt/data-sync-service/internal/storage"
)

func newTestRunner() *Runner {
	return NewRunner(storage.NewMemoryStore(), config.SyncConfig{
		FatMaxItems: 10,
		CfMaxItems:  10,
		HTTPTimeout: time.Second,
	}, zerolog.Nop())
}

func TestRunnerUnknownSource(t *testing.T) {
	_, err := newTestRunner().Run(context.Background(), models.Source("EBAY"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}

func TestRunnerRejectsConcurrentRun(t *testing.T) {
	runner := newTestRunner()

	// Simulate an in-flight run by holding the source lock.
	runner.locks[models.SourceFindATender].Lock()
	defer runner.locks[models.SourceFindATender].Unlock()

	_, err := runner.Run(context.Background(), models.SourceFindATender)
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestRunnerBuildsPerSourceAdapters(t *testing.T) {
	runner := NewRunner(storage.NewMemoryStore(), config.SyncConfig{
		FatMaxItems: 900,
		CfMaxItems:  600,
	}, zerolog.Nop())

	_, _, fatMax := runner.build(models.SourceFindATender)
	assert.Equal(t, 900, fatMax)

	_, _, cfMax := runner.build(models.SourceContractsFinder)
	assert.Equal(t, 600, cfMax)

	// Adapters are fresh per call, never shared.
	a1, _, _ := runner.build(models.SourceFindATender)
	a2, _, _ := runner.build(models.SourceFindATender)
	assert.NotSame(t, a1, a2)
}
