package matchmaker

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc         *Service
	secret      string
	environment string
}

func NewHandler(svc *Service, secret, environment string) *Handler {
	return &Handler{svc: svc, secret: secret, environment: environment}
}

var errBadSecret = &Error{Kind: KindAuthorization, Op: "matchmaker.authorize", Err: errors.New("missing or invalid bearer secret")}

// RequireSecret 校验 Authorization: Bearer <matchmaker.secret>
func (h *Handler) RequireSecret(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || h.secret == "" ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.secret)) != 1 {
		writeError(c, errBadSecret)
		c.Abort()
		return
	}
	c.Next()
}

func statusOf(err error) int {
	switch {
	case IsKind(err, KindAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyQueued), errors.Is(err, ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, ErrNotLobbyOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidLobby), errors.Is(err, ErrEmptyLobby), errors.Is(err, ErrInvalidMember),
		errors.Is(err, ErrInvalidTeamSize), errors.Is(err, ErrLobbyTooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	body := gin.H{"status": "error", "error": err.Error()}
	if k := KindOf(err); k != KindUnknown {
		body["kind"] = k.String()
	}
	c.JSON(statusOf(err), body)
}

func summarize(res *RunResult) string {
	return fmt.Sprintf("Processed %d queue entries, created %d matches", res.ProcessedCount, len(res.MatchesCreated))
}

// POST /matchmaking/process  Authorization: Bearer <secret>
func (h *Handler) Process(c *gin.Context) {
	res, err := h.svc.ProcessQueue(c.Request.Context())
	if err != nil {
		// 失败前已提交的对局不会回滚，一并返回
		c.JSON(statusOf(err), gin.H{
			"status":  "error",
			"error":   err.Error(),
			"kind":    KindOf(err).String(),
			"matches": res.MatchesCreated,
		})
		return
	}
	c.JSON(http.StatusOK, ProcessResponse{
		Status:  "success",
		Message: summarize(res),
		Matches: res.MatchesCreated,
	})
}

// GET|POST /matchmaking/debug/process  无鉴权，仅 matchmaker.debug=true 时挂载
func (h *Handler) DebugProcess(c *gin.Context) {
	res, err := h.svc.ProcessQueue(c.Request.Context())
	debug := DebugInfo{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Environment:    h.environment,
		ProcessedCount: res.ProcessedCount,
	}
	if err != nil {
		c.JSON(statusOf(err), gin.H{
			"status":  "error",
			"error":   err.Error(),
			"kind":    KindOf(err).String(),
			"matches": res.MatchesCreated,
			"debug":   debug,
		})
		return
	}
	c.JSON(http.StatusOK, DebugProcessResponse{
		ProcessResponse: ProcessResponse{
			Status:  "success",
			Message: summarize(res),
			Matches: res.MatchesCreated,
		},
		Debug: debug,
	})
}

// POST /matchmaking/queue  body: {lobbyId, members, gameType, teamSize, platform, mode}
func (h *Handler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	entry, err := h.svc.Enqueue(c.Request.Context(), c.GetString("address"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// GET /matchmaking/queue/:lobbyId
func (h *Handler) QueueStatus(c *gin.Context) {
	entry, err := h.svc.QueueStatus(c.Request.Context(), c.Param("lobbyId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// DELETE /matchmaking/queue/:lobbyId
func (h *Handler) Cancel(c *gin.Context) {
	if err := h.svc.Cancel(c.Request.Context(), c.GetString("address"), c.Param("lobbyId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GET /matches/:id
func (h *Handler) GetMatch(c *gin.Context) {
	m, err := h.svc.Match(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// GET /notifications?limit=20
func (h *Handler) Notifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	list, err := h.svc.Notifications(c.Request.Context(), c.GetString("address"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// POST /notifications/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	if err := h.svc.MarkRead(c.Request.Context(), c.GetString("address"), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
