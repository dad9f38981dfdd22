package matchmaker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "cron-secret"

func newTestRouter(repo Repo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(newTestService(repo, nil), testSecret, "test")

	r := gin.New()
	r.POST("/matchmaking/process", h.RequireSecret, h.Process)
	r.GET("/matchmaking/debug/process", h.DebugProcess)

	// 测试中用 header 代替 JWT
	player := r.Group("/", func(c *gin.Context) {
		c.Set("address", c.GetHeader("X-Address"))
		c.Next()
	})
	player.POST("/matchmaking/queue", h.Enqueue)
	player.GET("/matchmaking/queue/:lobbyId", h.QueueStatus)
	player.DELETE("/matchmaking/queue/:lobbyId", h.Cancel)
	player.GET("/matches/:id", h.GetMatch)
	player.GET("/notifications", h.Notifications)
	player.POST("/notifications/:id/read", h.MarkRead)
	return r
}

func do(r *gin.Engine, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func bearer(s string) map[string]string { return map[string]string{"Authorization": "Bearer " + s} }

func TestProcessHandler_RequiresSecret(t *testing.T) {
	r := newTestRouter(NewMemoryRepo())

	for name, header := range map[string]map[string]string{
		"missing":   nil,
		"wrong":     bearer("nope"),
		"no bearer": {"Authorization": testSecret},
	} {
		t.Run(name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/matchmaking/process", nil, header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			body := decode(t, w)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, "authorization", body["kind"])
		})
	}
}

func TestProcessHandler_Success(t *testing.T) {
	repo := NewMemoryRepo()
	seed(t, repo, entry("e1", "l1", at(1)), entry("e2", "l2", at(2)), entry("e3", "l3", at(3)))
	r := newTestRouter(repo)

	w := do(r, http.MethodPost, "/matchmaking/process", nil, bearer(testSecret))
	require.Equal(t, http.StatusOK, w.Code)

	var resp ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "Processed 2 queue entries, created 1 matches", resp.Message)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "l1", resp.Matches[0].LobbyA)

	// 空队列也是成功
	w = do(r, http.MethodPost, "/matchmaking/process", nil, bearer(testSecret))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, []interface{}{}, body["matches"])
}

func TestProcessHandler_Failures(t *testing.T) {
	t.Run("store unavailable", func(t *testing.T) {
		r := newTestRouter(&faultyRepo{Repo: NewMemoryRepo(), pendingErr: errors.New("connection refused")})
		w := do(r, http.MethodPost, "/matchmaking/process", nil, bearer(testSecret))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decode(t, w)
		assert.Equal(t, "store_unavailable", body["kind"])
		assert.Equal(t, []interface{}{}, body["matches"])
	})

	t.Run("partial pairing", func(t *testing.T) {
		base := NewMemoryRepo()
		seed(t, base, entry("e1", "l1", at(1)), entry("e2", "l2", at(2)), entry("e3", "l3", at(3)), entry("e4", "l4", at(4)))
		r := newTestRouter(&faultyRepo{Repo: base, failSaveMatchAt: 2})

		w := do(r, http.MethodPost, "/matchmaking/process", nil, bearer(testSecret))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decode(t, w)
		assert.Equal(t, "partial_pairing", body["kind"])
		assert.Len(t, body["matches"], 1)
	})
}

func TestDebugProcessHandler(t *testing.T) {
	repo := NewMemoryRepo()
	seed(t, repo, entry("e1", "l1", at(1)), entry("e2", "l2", at(2)))
	r := newTestRouter(repo)

	w := do(r, http.MethodGet, "/matchmaking/debug/process", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp DebugProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Len(t, resp.Matches, 1)
	assert.Equal(t, "test", resp.Debug.Environment)
	assert.Equal(t, 2, resp.Debug.ProcessedCount)
	assert.NotEmpty(t, resp.Debug.Timestamp)
}

func TestQueueHandlers(t *testing.T) {
	repo := NewMemoryRepo()
	r := newTestRouter(repo)
	owner := map[string]string{"X-Address": "0xOwner"}
	req := EnqueueRequest{
		LobbyID:  "lobby-1",
		Members:  []Member{{ID: "0xOwner", Name: "owner"}, {ID: "0xMate", Name: "mate"}},
		GameType: "ranked",
		TeamSize: 2,
		Platform: "pc",
	}

	w := do(r, http.MethodPost, "/matchmaking/queue", req, owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created QueueEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "lobby-1", created.LobbyID)
	assert.Equal(t, "0xOwner", created.OwnerID)

	w = do(r, http.MethodPost, "/matchmaking/queue", req, owner)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/matchmaking/queue", EnqueueRequest{LobbyID: "lobby-2", Members: req.Members}, map[string]string{"X-Address": "0xStranger"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPost, "/matchmaking/queue", map[string]interface{}{"lobbyId": "lobby-3", "members": []Member{}}, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/matchmaking/queue", EnqueueRequest{LobbyID: "lobby-4", Members: req.Members, TeamSize: 1}, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/matchmaking/queue/lobby-1", nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode(t, w)["id"])

	w = do(r, http.MethodGet, "/matchmaking/queue/unknown", nil, owner)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodDelete, "/matchmaking/queue/lobby-1", nil, map[string]string{"X-Address": "0xMate"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodDelete, "/matchmaking/queue/lobby-1", nil, owner)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/matchmaking/queue/lobby-1", nil, owner)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMatchAndNotificationHandlers(t *testing.T) {
	repo := NewMemoryRepo()
	seed(t, repo, entry("e1", "l1", at(1)), entry("e2", "l2", at(2)))
	res, err := newTestService(repo, nil).ProcessQueue(context.Background())
	require.NoError(t, err)
	matchID := res.MatchesCreated[0].MatchID

	r := newTestRouter(repo)
	me := map[string]string{"X-Address": "owner-l1"}

	w := do(r, http.MethodGet, "/matches/"+matchID, nil, me)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "l2", decode(t, w)["lobbyB"])

	w = do(r, http.MethodGet, "/matches/nope", nil, me)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/notifications?limit=5", nil, me)
	require.Equal(t, http.StatusOK, w.Code)
	var inbox struct {
		Notifications []Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inbox))
	require.Len(t, inbox.Notifications, 1)
	n := inbox.Notifications[0]
	assert.Equal(t, matchID, n.MatchID)

	w = do(r, http.MethodPost, "/notifications/"+n.ID+"/read", nil, map[string]string{"X-Address": "mate-l2"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/notifications/"+n.ID+"/read", nil, me)
	assert.Equal(t, http.StatusOK, w.Code)

	list, err := repo.Notifications(context.Background(), "owner-l1", 1)
	require.NoError(t, err)
	assert.True(t, list[0].Read)
}
