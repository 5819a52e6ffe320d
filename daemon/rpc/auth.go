package jsonrpc

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/store"
	"github.com/dgrijalva/jwt-go"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spruceid/siwe-go"
	"go.uber.org/zap"
)

const (
	nonceTTL = 10 * time.Minute
	tokenTTL = 12 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

type VerifySiwe struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type Claims struct {
	UserWallet string `json:"userWallet"`
	jwt.StandardClaims
}

// siweAuth issues tokens to makers who sign in with their EVM wallet. Only the
// latest token of a wallet, as recorded in the store, is accepted.
type siweAuth struct {
	domain string
	secret []byte
	store  store.Store
	logger *zap.Logger

	mu     *sync.Mutex
	nonces map[string]time.Time
}

func newSiweAuth(domain, secret string, s store.Store, logger *zap.Logger) (*siweAuth, error) {
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		logger.Warn("no jwt secret configured, maker tokens will not survive a restart")
	}
	return &siweAuth{
		domain: domain,
		secret: key,
		store:  s,
		logger: logger,
		mu:     new(sync.Mutex),
		nonces: map[string]time.Time{},
	}, nil
}

func (a *siweAuth) nonce() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		nonce := siwe.GenerateNonce()

		a.mu.Lock()
		now := time.Now()
		for n, expiry := range a.nonces {
			if now.After(expiry) {
				delete(a.nonces, n)
			}
		}
		a.nonces[nonce] = now.Add(nonceTTL)
		a.mu.Unlock()

		ctx.JSON(http.StatusOK, gin.H{"nonce": nonce})
	}
}

func (a *siweAuth) verify() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		req := VerifySiwe{}
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wallet, err := a.Verify(req)
		if err != nil {
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		token, err := a.issue(ctx.Request.Context(), wallet)
		if err != nil {
			a.logger.Error("issuing token", zap.String("wallet", wallet.Hex()), zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// Verify checks the signed SIWE message and consumes its nonce. It returns
// the wallet that signed it.
func (a *siweAuth) Verify(req VerifySiwe) (common.Address, error) {
	parsedMessage, err := siwe.ParseMessage(req.Message)
	if err != nil {
		return common.Address{}, fmt.Errorf("parsing message: %w", err)
	}
	if a.domain != "" && parsedMessage.GetDomain() != a.domain {
		return common.Address{}, fmt.Errorf("message is for domain %q", parsedMessage.GetDomain())
	}

	a.mu.Lock()
	expiry, ok := a.nonces[parsedMessage.GetNonce()]
	delete(a.nonces, parsedMessage.GetNonce())
	a.mu.Unlock()
	if !ok || time.Now().After(expiry) {
		return common.Address{}, fmt.Errorf("unknown or expired nonce")
	}

	valid, err := parsedMessage.ValidNow()
	if err != nil {
		return common.Address{}, fmt.Errorf("validating message: %w", err)
	}
	if !valid {
		return common.Address{}, fmt.Errorf("message is not valid now")
	}

	signer, err := recoverSigner(parsedMessage.String(), req.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("verifying signature: %w", err)
	}
	if signer != parsedMessage.GetAddress() {
		return common.Address{}, fmt.Errorf("message signed by %v instead of %v", signer, parsedMessage.GetAddress())
	}
	return signer, nil
}

func (a *siweAuth) issue(ctx context.Context, wallet common.Address) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserWallet: strings.ToLower(wallet.Hex()),
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.NewString(),
			ExpiresAt: now.Add(tokenTTL).Unix(),
			IssuedAt:  now.Unix(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", err
	}
	if err := a.store.PutToken(ctx, claims.UserWallet, token); err != nil {
		return "", err
	}
	return token, nil
}

// authenticate returns the wallet of a bearer token.
func (a *siweAuth) authenticate(ctx context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}
	wallet, ok := claims["userWallet"].(string)
	if !ok || wallet == "" {
		return "", fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}

	latest, err := a.store.Token(ctx, wallet)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if latest != tokenString {
		return "", fmt.Errorf("%w: token was superseded", ErrInvalidToken)
	}
	return wallet, nil
}

func recoverSigner(msg, signature string) (common.Address, error) {
	sigBytes, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, err
	}
	if len(sigBytes) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	if sigBytes[64] != 27 && sigBytes[64] != 28 {
		return common.Address{}, fmt.Errorf("invalid signature recovery byte")
	}
	sigBytes[64] -= 27
	pubkey, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sigBytes)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}
