package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := WrapExitError(ExitCommandError, "read", errors.New("no such file"))
	assert.Equal(t, "read: no such file", wrapped.Error())
	assert.Equal(t, "no such file", errors.Unwrap(wrapped).Error())
}

func TestOutputFormatterText(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}

	assert.NoError(t, f.Success("all good", map[string]int{"n": 1}))
	assert.NoError(t, f.Error("E", "broken", "details"))
	assert.Equal(t, "all good\nError [E]: broken\n", buf.String())
}

func TestOutputFormatterJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	assert.NoError(t, f.Error("E", "broken", nil))
	assert.JSONEq(t, `{"status":"error","error":{"code":"E","message":"broken"}}`, buf.String())
}

func TestVerboseLogUsesErrWriter(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}

	f.VerboseLog("loaded %d", 3)
	assert.Empty(t, out.String())
	assert.Equal(t, "loaded 3\n", errOut.String())

	f.Verbose = false
	f.VerboseLog("hidden")
	assert.Equal(t, "loaded 3\n", errOut.String())
}

func TestRootInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "functions")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
