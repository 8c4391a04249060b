package quota_test

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frobware/go-ipsecmgr/quota"
)

// testLogger returns a logger for tests. By default it discards all
// output. Set IPSECMGR_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("IPSECMGR_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTrackerTakeGive(t *testing.T) {
	tr := quota.NewTracker("spi", 2, testLogger())

	assert.True(t, tr.Available())
	assert.Equal(t, 0, tr.Current())
	assert.Equal(t, 2, tr.Max())

	tr.Take()
	assert.True(t, tr.Available())
	assert.Equal(t, 1, tr.Current())

	tr.Take()
	assert.False(t, tr.Available())
	assert.Equal(t, 2, tr.Current())

	tr.Give()
	assert.True(t, tr.Available())
	assert.Equal(t, 1, tr.Current())

	tr.Give()
	assert.Equal(t, 0, tr.Current())
}

func TestTrackerZeroMaxAdmitsNothing(t *testing.T) {
	tr := quota.NewTracker("transform", 0, testLogger())
	assert.False(t, tr.Available())
}

func TestTrackerTakeBeyondLimitStillCounts(t *testing.T) {
	// Take on a full tracker is a caller bug, but the counter must
	// still advance so the matching Give balances.
	tr := quota.NewTracker("spi", 1, testLogger())
	tr.Take()
	tr.Take()
	assert.Equal(t, 2, tr.Current())

	tr.Give()
	tr.Give()
	assert.Equal(t, 0, tr.Current())
}

func TestTrackerGiveOnEmptyClamps(t *testing.T) {
	tr := quota.NewTracker("spi", 1, testLogger())
	tr.Give()
	assert.Equal(t, 0, tr.Current())
	assert.True(t, tr.Available())
}

func TestTrackerString(t *testing.T) {
	tr := quota.NewTracker("encap-socket", 2, testLogger())
	tr.Take()
	assert.Equal(t, "encap-socket: 1/2", tr.String())
}
