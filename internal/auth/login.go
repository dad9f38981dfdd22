package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"StakeArena/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 24 * time.Hour

type LoginRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
}

type Handler struct {
	nonces    NonceStore
	jwtSecret []byte
	now       func() time.Time
}

// 工厂方法：创建 handler
func NewHandler(nonces NonceStore, jwtSecret []byte) *Handler {
	return &Handler{nonces: nonces, jwtSecret: jwtSecret, now: time.Now}
}

// SignMessage 钱包 personal_sign 的明文
func SignMessage(nonce string) string {
	return "Sign this message to authenticate with StakeArena. Nonce: " + nonce
}

// RecoverAddress 按 MetaMask personal_sign 规则恢复签名地址
func RecoverAddress(msg, signature string) (string, error) {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	hash := crypto.Keccak256Hash([]byte(prefix))

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", err
	}
	if len(sigBytes) != crypto.SignatureLength {
		return "", errors.New("signature must be 65 bytes")
	}
	// 修正 V 值
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash.Bytes(), sigBytes)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

// POST /auth/login  body: {address, signature, nonce}
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	// 只允许一次
	ok, err := h.nonces.Take(c.Request.Context(), req.Nonce)
	if err != nil {
		utils.Log.Error("take nonce", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "nonce store unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nonce"})
		return
	}

	recovered, err := RecoverAddress(SignMessage(req.Nonce), req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verify failed"})
		return
	}
	if !strings.EqualFold(recovered, req.Address) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature mismatch"})
		return
	}

	// ✓ 签名验证成功 → 生成 JWT
	now := h.now()
	claims := jwt.MapClaims{
		"sub": recovered,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	jwtStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "jwt generation failed"})
		return
	}

	utils.Log.Info("wallet login", "address", recovered)
	c.JSON(http.StatusOK, gin.H{"jwt": jwtStr})
}
