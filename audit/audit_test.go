package audit_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/audit"
)

// testLogger returns a logger for tests. By default it discards all
// output. Set IPSECMGR_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("IPSECMGR_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJournalRecordsEvents(t *testing.T) {
	j, err := audit.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	ctx := context.Background()
	j.RecordEvent(ctx, "reserve-spi", 100, ipsecmgr.ClassSPI, 1, nil)
	j.RecordEvent(ctx, "create-transform", 100, ipsecmgr.ClassTransform, 0, fmt.Errorf("injected failure"))
	j.RecordEvent(ctx, "reserve-spi", 200, ipsecmgr.ClassSPI, 2, nil)

	events, err := j.Events(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 2, "events are scoped per principal")

	assert.Equal(t, "reserve-spi", events[0].Op)
	assert.Equal(t, ipsecmgr.Principal(100), events[0].Principal)
	assert.Equal(t, ipsecmgr.ResourceID(1), events[0].Resource)
	assert.Equal(t, "ok", events[0].Outcome)
	assert.False(t, events[0].At.IsZero())

	assert.Equal(t, "create-transform", events[1].Op)
	assert.Equal(t, "injected failure", events[1].Outcome)
}

func TestJournalPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	j, err := audit.Open(path, testLogger())
	require.NoError(t, err)
	j.RecordEvent(context.Background(), "reserve-spi", 100, ipsecmgr.ClassSPI, 1, nil)
	require.NoError(t, j.Close())

	j, err = audit.Open(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	events, err := j.Events(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestJournalEmptyForUnknownPrincipal(t *testing.T) {
	j, err := audit.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	events, err := j.Events(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, events)
}
