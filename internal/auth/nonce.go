package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"StakeArena/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const nonceTTL = 5 * time.Minute

// NonceStore 登录 nonce，一次性使用，防止重放
type NonceStore interface {
	Put(ctx context.Context, nonce string) error
	// Take 取出并删除；不存在或已过期返回 false
	Take(ctx context.Context, nonce string) (bool, error)
}

type memNonces struct {
	mu     sync.Mutex
	nonces map[string]time.Time // nonce -> 过期时间
}

func NewMemoryNonceStore() NonceStore {
	return &memNonces{nonces: make(map[string]time.Time)}
}

func (m *memNonces) Put(ctx context.Context, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for n, exp := range m.nonces {
		if now.After(exp) {
			delete(m.nonces, n)
		}
	}
	m.nonces[nonce] = now.Add(nonceTTL)
	return nil
}

func (m *memNonces) Take(ctx context.Context, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.nonces[nonce]
	if !ok {
		return false, nil
	}
	delete(m.nonces, nonce)
	return time.Now().Before(exp), nil
}

type redisNonces struct {
	rdb *redis.Client
}

// NewRedisNonceStore 多实例部署时用，nonce 存在 auth:nonce:{nonce}
func NewRedisNonceStore(rdb *redis.Client) NonceStore {
	return &redisNonces{rdb: rdb}
}

func nonceKey(nonce string) string { return "auth:nonce:" + nonce }

func (r *redisNonces) Put(ctx context.Context, nonce string) error {
	return r.rdb.Set(ctx, nonceKey(nonce), 1, nonceTTL).Err()
}

func (r *redisNonces) Take(ctx context.Context, nonce string) (bool, error) {
	// DEL 返回删除个数，并发登录只有一个能拿到 1
	n, err := r.rdb.Del(ctx, nonceKey(nonce)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GET|POST /auth/nonce
func (h *Handler) Nonce(c *gin.Context) {
	nonce, err := generateNonce()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate nonce"})
		return
	}

	if err := h.nonces.Put(c.Request.Context(), nonce); err != nil {
		utils.Log.Error("store nonce", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store nonce"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"nonce": nonce, "message": SignMessage(nonce)})
}
