package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"coursepilot/core"
)

func postJSON(t *testing.T, handler echo.HandlerFunc, body string) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func waitForStatus(t *testing.T, taskID string, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		code, out := postJSON(t, GetTaskRoute, `{"task_id":"`+taskID+`"}`)
		require.Equal(t, http.StatusOK, code)
		if out["status"] == want {
			return out
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", taskID, want)
	return nil
}

func TestCreateTaskCompletes(t *testing.T) {
	Init(func(ctx context.Context, req Request) (*Summary, error) {
		return &Summary{Videos: 3, Works: 1}, nil
	})

	code, out := postJSON(t, CreateTaskRoute, `{"phone":"13800001111","passwd":"pw"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, out["success"])
	taskID := out["task_id"].(string)
	require.NotEmpty(t, taskID)

	done := waitForStatus(t, taskID, "completed")
	require.Equal(t, true, done["success"])
	summary := done["summary"].(map[string]interface{})
	require.EqualValues(t, 3, summary["videos"])
	require.EqualValues(t, 1, summary["works"])

	// Completed tasks are evicted on read.
	code, out = postJSON(t, GetTaskRoute, `{"task_id":"`+taskID+`"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid task_id", out["error"])
}

func TestCreateTaskReportsLoginFailure(t *testing.T) {
	Init(func(ctx context.Context, req Request) (*Summary, error) {
		return nil, core.ErrLoginFailed
	})

	_, out := postJSON(t, CreateTaskRoute, `{"phone":"13800001111"}`)
	taskID := out["task_id"].(string)

	failed := waitForStatus(t, taskID, "error")
	require.Equal(t, false, failed["success"])
	require.Equal(t, "login failed", failed["error"])
}

func TestCreateTaskRequiresPhone(t *testing.T) {
	Init(func(ctx context.Context, req Request) (*Summary, error) { return &Summary{}, nil })

	code, out := postJSON(t, CreateTaskRoute, `{"passwd":"pw"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "missing phone", out["error"])
}

func TestCreateTaskRejectsWrongContentType(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("phone=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	require.NoError(t, CreateTaskRoute(e.NewContext(req, rec)))
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestGetTaskUnknownID(t *testing.T) {
	code, out := postJSON(t, GetTaskRoute, `{"task_id":"nope"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid task_id", out["error"])
}
