package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-ipsecmgr/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logging.Level
	}{
		{"trace", logging.LevelTrace},
		{"debug", logging.LevelDebug},
		{"info", logging.LevelInfo},
		{"warn", logging.LevelWarn},
		{"WARNING", logging.LevelWarn},
		{"error", logging.LevelError},
		{" Err ", logging.LevelError},
	}
	for _, tc := range tests {
		got, err := logging.ParseLevel(tc.in)
		require.NoError(t, err, "level %q", tc.in)
		assert.Equal(t, tc.want, got, "level %q", tc.in)
	}

	_, err := logging.ParseLevel("verbose")
	assert.Error(t, err)
}

func TestParseSpec(t *testing.T) {
	spec, err := logging.ParseSpec("")
	require.NoError(t, err)
	assert.Equal(t, logging.LevelInfo, spec.BaseLevel)
	assert.Empty(t, spec.Components)

	spec, err = logging.ParseSpec("warn,manager=debug,registry=trace")
	require.NoError(t, err)
	assert.Equal(t, logging.LevelWarn, spec.BaseLevel)
	assert.Equal(t, logging.LevelDebug, spec.LevelFor("manager"))
	assert.Equal(t, logging.LevelTrace, spec.LevelFor("registry"))
	assert.Equal(t, logging.LevelWarn, spec.LevelFor("xfrm"), "unnamed components use the base level")
}

func TestParseSpecErrors(t *testing.T) {
	for _, in := range []string{
		"bogus",
		"manager=bogus",
		"info,warn",
		"=debug",
	} {
		_, err := logging.ParseSpec(in)
		assert.Error(t, err, "spec %q", in)
	}
}

func TestComponentFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{
		CLISpec: "warn,manager=debug",
		Output:  &buf,
	})
	require.NoError(t, err)

	logger.With("component", "manager").Debug("manager debug visible")
	logger.With("component", "xfrm").Info("xfrm info hidden")
	logger.With("component", "xfrm").Warn("xfrm warn visible")
	logger.Info("base info hidden")

	out := buf.String()
	assert.Contains(t, out, "manager debug visible")
	assert.NotContains(t, out, "xfrm info hidden")
	assert.Contains(t, out, "xfrm warn visible")
	assert.NotContains(t, out, "base info hidden")
}

func TestComponentOnRecordAttrs(t *testing.T) {
	// The component attribute may arrive on the record itself rather
	// than via With.
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{
		CLISpec: "error,manager=debug",
		Output:  &buf,
	})
	require.NoError(t, err)

	logger.Debug("inline component", "component", "manager")
	assert.Contains(t, buf.String(), "inline component")
}

func TestSpecPrecedence(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{
		CLISpec:    "debug",
		EnvSpec:    "error",
		ConfigSpec: "error",
		Output:     &buf,
	})
	require.NoError(t, err)

	logger.Debug("cli spec wins")
	assert.Contains(t, buf.String(), "cli spec wins")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{
		Format: logging.FormatJSON,
		Output: &buf,
	})
	require.NoError(t, err)

	logger.Info("hello", "k", "v")

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "v", record["k"])
}

func TestInvalidSpecFailsNew(t *testing.T) {
	_, err := logging.New(logging.Options{CLISpec: "nope"})
	assert.Error(t, err)
}
