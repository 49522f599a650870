package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xlsprobe/internal/harness"
	"github.com/roach88/xlsprobe/internal/store"
	"github.com/roach88/xlsprobe/internal/transcript"
)

func seedHistory(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	runs := []store.Run{
		{ID: "run-a", StartedAt: start, FinishedAt: start.Add(time.Second), Simulator: "gem5",
			Firmware: "fw_sim", Verdict: harness.VerdictPass, LinesExpected: 2, BytesReceived: 8},
		{ID: "run-b", StartedAt: start, FinishedAt: start.Add(2 * time.Second), Simulator: "gem5",
			Firmware: "fw_sim_axi", Verdict: harness.VerdictFail, FailureKind: harness.KindMismatch,
			FailureMessage: "CONTENT_MISMATCH: 1 differing segment(s)", LinesExpected: 2, BytesReceived: 8,
			Records: []transcript.Record{
				{Position: 3, Op: transcript.OpDelete, Content: "DONE"},
				{Position: 3, Op: transcript.OpInsert, Content: "FAIL"},
			}},
	}
	for _, r := range runs {
		require.NoError(t, st.WriteRun(context.Background(), r))
	}
	return path
}

func executeHistory(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestHistoryList(t *testing.T) {
	db := seedHistory(t)

	out, err := executeHistory(t, "text", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, "run-a")
	assert.Contains(t, out, "CONTENT_MISMATCH")
	// Newest first.
	assert.Less(t, bytes.Index([]byte(out), []byte("run-b")), bytes.Index([]byte(out), []byte("run-a")))
}

func TestHistoryFilter(t *testing.T) {
	db := seedHistory(t)

	out, err := executeHistory(t, "json", "--db", db, "--firmware", "fw_sim")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   []store.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "run-a", resp.Data[0].ID)
}

func TestHistoryShowRun(t *testing.T) {
	db := seedHistory(t)

	out, err := executeHistory(t, "text", "--db", db, "run-b")
	require.NoError(t, err)
	assert.Contains(t, out, "Verdict:   fail")
	assert.Contains(t, out, "Duration:  2s")
	assert.Contains(t, out, `byte 3: - "DONE"`)
	assert.Contains(t, out, `byte 3: + "FAIL"`)
}

func TestHistoryUnknownRun(t *testing.T) {
	db := seedHistory(t)

	out, err := executeHistory(t, "text", "--db", db, "run-z")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeRunNotFound+"]")
}

func TestHistoryEmpty(t *testing.T) {
	out, err := executeHistory(t, "text", "--db", filepath.Join(t.TempDir(), "new.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestHistoryDatabaseFromConfig(t *testing.T) {
	db := seedHistory(t)
	cfgPath := filepath.Join(t.TempDir(), "xlsprobe.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("history_db: "+db+"\n"), 0644))

	out, err := executeHistory(t, "text", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "run-b")
}

func TestHistoryRequiresDatabase(t *testing.T) {
	_, err := executeHistory(t, "text")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--db")
}
