package jsonrpc

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/catalogfi/xswap/daemon/rpc/methods"
	"github.com/catalogfi/xswap/daemon/types"
	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/catalogfi/xswap/pkg/gate"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const callerKey = "caller"

type RPC interface {
	AddCommand(cmd methods.Method)
	HandleJSONRPC(ctx *gin.Context)
	Handler() http.Handler
	Run(ctx context.Context) error
}

type rpc struct {
	commands   map[string]methods.Method
	coreConfig types.CoreConfig
	authsha    [sha256.Size]byte
	siwe       *siweAuth
	router     *gin.Engine
	logger     *zap.Logger
}

// Request defines a JSON-RPC 2.0 request object.
type Request struct {
	Version string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response defines a JSON-RPC 2.0 response object.
type Response struct {
	Version string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error defines a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Error codes
const (
	ErrorCodeParseError        = -32700
	ErrorMessageParseError     = "Parse error"
	ErrorCodeInvalidRequest    = -32600
	ErrorMessageInvalidRequest = "Invalid Request"
	ErrorCodeMethodNotFound    = -32601
	ErrorMessageMethodNotFound = "Method not found"
	ErrorCodeInvalidParams     = -32602
	ErrorMessageInvalidParams  = "Invalid params"
	ErrorCodeInternalError     = -32603
	ErrorMessageInternalError  = "Internal error"

	ErrorCodeRejected     = -32000
	ErrorMessageRejected  = "Request rejected"
	ErrorCodeForbidden    = -32003
	ErrorMessageForbidden = "Forbidden"
	ErrorCodeNotFound     = -32004
	ErrorMessageNotFound  = "Not found"
)

func NewResponse(id interface{}, result json.RawMessage, err *Error) Response {
	return Response{
		Version: "2.0",
		ID:      id,
		Result:  result,
		Error:   err,
	}
}

func NewError(code int, message string, data string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func NewRpcServer(cfg types.CoreConfig) (RPC, error) {
	envConfig := cfg.EnvConfig
	if envConfig.RpcUserName == "" || envConfig.RpcPassword == "" {
		return nil, fmt.Errorf("rpc username and password must be specified")
	}
	if cfg.Coordinator == nil || cfg.Store == nil {
		return nil, fmt.Errorf("rpc server needs a coordinator and a store")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger.With(zap.String("service", "rpc"))

	auth, err := newSiweAuth(envConfig.SiweDomain, envConfig.JWTSecret, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	login := envConfig.RpcUserName + ":" + envConfig.RpcPassword
	r := &rpc{
		commands:   make(map[string]methods.Method),
		coreConfig: cfg,
		authsha:    sha256.Sum256([]byte("Basic " + base64.StdEncoding.EncodeToString([]byte(login)))),
		siwe:       auth,
		logger:     logger,
	}
	for _, cmd := range methods.All() {
		r.AddCommand(cmd)
	}
	r.router = r.routes()
	return r, nil
}

func (r *rpc) routes() *gin.Engine {
	s := gin.New()
	s.Use(gin.Recovery())
	s.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	s.GET("/nonce", r.siwe.nonce())
	s.POST("/verify", r.siwe.verify())
	s.GET("/health", gin.WrapH(r.healthHandler()))

	authRoutes := s.Group("/")
	authRoutes.Use(r.authenticateUser)
	{
		authRoutes.POST("/", r.HandleJSONRPC)
		authRoutes.GET("/events", r.events)
	}
	return s
}

func (r *rpc) AddCommand(cmd methods.Method) {
	r.commands[cmd.Name()] = cmd
}

func (r *rpc) Handler() http.Handler {
	return r.router
}

func (r *rpc) HandleJSONRPC(ctx *gin.Context) {
	req := Request{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, NewResponse(req.ID, nil, NewError(ErrorCodeParseError, ErrorMessageParseError, err.Error())))
		return
	}
	if req.Version != "2.0" {
		ctx.JSON(http.StatusBadRequest, NewResponse(req.ID, nil, NewError(ErrorCodeInvalidRequest, ErrorMessageInvalidRequest, "jsonrpc must be 2.0")))
		return
	}

	cmd, ok := r.commands[req.Method]
	if !ok {
		ctx.JSON(http.StatusNotFound, NewResponse(req.ID, nil, NewError(ErrorCodeMethodNotFound, ErrorMessageMethodNotFound, req.Method)))
		return
	}

	caller := callerOf(ctx)
	result, err := cmd.Query(ctx.Request.Context(), &r.coreConfig, caller, req.Params)
	if err != nil {
		status, rpcErr := toError(err)
		if status == http.StatusInternalServerError {
			r.logger.Error("method failed", zap.String("method", req.Method), zap.Error(err))
		}
		ctx.JSON(status, NewResponse(req.ID, nil, rpcErr))
		return
	}

	ctx.JSON(http.StatusOK, NewResponse(req.ID, result, nil))
}

// toError maps a method failure to its http status and JSON-RPC error.
func toError(err error) (int, *Error) {
	switch {
	case errors.Is(err, types.ErrInvalidParams):
		return http.StatusBadRequest, NewError(ErrorCodeInvalidParams, ErrorMessageInvalidParams, err.Error())
	case errors.Is(err, types.ErrForbidden), errors.Is(err, types.ErrOperatorOnly):
		return http.StatusForbidden, NewError(ErrorCodeForbidden, ErrorMessageForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, NewError(ErrorCodeNotFound, ErrorMessageNotFound, err.Error())
	case errors.Is(err, coordinator.ErrUnknownChain),
		errors.Is(err, coordinator.ErrAmountLimit),
		errors.Is(err, coordinator.ErrNotCancellable),
		errors.Is(err, coordinator.ErrSecretUnavailable),
		errors.Is(err, hashlock.ErrHashMismatch),
		errors.Is(err, gate.ErrUnauthorized),
		errors.Is(err, store.ErrDuplicateOrder),
		errors.Is(err, swap.ErrInvalidAmount),
		errors.Is(err, swap.ErrMissingAccount),
		errors.Is(err, swap.ErrSameChain),
		errors.Is(err, swap.ErrMissingHashlock),
		errors.Is(err, swap.ErrTimelockOrder),
		errors.Is(err, swap.ErrDstAfterSrc):
		return http.StatusUnprocessableEntity, NewError(ErrorCodeRejected, ErrorMessageRejected, err.Error())
	default:
		return http.StatusInternalServerError, NewError(ErrorCodeInternalError, ErrorMessageInternalError, err.Error())
	}
}

// authenticateUser accepts the operator's basic credentials or a bearer token
// issued by /verify. Websocket clients may pass the token as a query value.
func (r *rpc) authenticateUser(ctx *gin.Context) {
	authhdr := ctx.GetHeader("Authorization")
	if authhdr == "" && ctx.Query("token") != "" {
		authhdr = "Bearer " + ctx.Query("token")
	}

	switch {
	case strings.HasPrefix(authhdr, "Basic "):
		authsha := sha256.Sum256([]byte(authhdr))
		if subtle.ConstantTimeCompare(authsha[:], r.authsha[:]) != 1 {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized Invalid credentials"})
			return
		}
		ctx.Set(callerKey, types.Caller{Operator: true})
	case strings.HasPrefix(authhdr, "Bearer "):
		wallet, err := r.siwe.authenticate(ctx.Request.Context(), strings.TrimPrefix(authhdr, "Bearer "))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
			return
		}
		ctx.Set(callerKey, types.Caller{Address: wallet})
	default:
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized Invalid credentials"})
		return
	}
	ctx.Next()
}

func callerOf(ctx *gin.Context) types.Caller {
	if caller, ok := ctx.Get(callerKey); ok {
		return caller.(types.Caller)
	}
	return types.Caller{}
}

// Run serves until ctx is done, then shuts the server down.
func (r *rpc) Run(ctx context.Context) error {
	service := &http.Server{
		Addr:    r.coreConfig.EnvConfig.RPCServer,
		Handler: r.router,
	}

	errs := make(chan error, 1)
	go func() {
		r.logger.Info("listening", zap.String("addr", service.Addr))
		if err := service.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		return err
	}
	r.logger.Info("stopped")
	return nil
}
