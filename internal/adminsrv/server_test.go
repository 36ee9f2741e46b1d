package adminsrv

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartServerHealthzAndDebugVars(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordRun("epoch-writer", nil)
	tracker.RecordRun("cranker", errors.New("boom"))

	baseURL, shutdown, err := StartServer("127.0.0.1:0", tracker)
	require.NoError(t, err)
	defer shutdown()

	resp, err := http.Get(baseURL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, len(resp.Header.Values("X-Request-Id")))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))

	resp2, err := http.Get(baseURL + "/debug/vars")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var statuses map[string]RunStatus
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&statuses))
	require.True(t, statuses["epoch-writer"].LastSuccessAt.Unix() > 0)
	require.Equal(t, "boom", statuses["cranker"].LastError)
}

func TestTrackerRecordRunOverwritesPreviousError(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordRun("writer", errors.New("first failure"))
	tracker.RecordRun("writer", nil)

	snap := tracker.snapshot()
	require.Empty(t, snap["writer"].LastError)
	require.False(t, snap["writer"].LastSuccessAt.IsZero())
}
