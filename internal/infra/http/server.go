package http

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"

	"title/internal/config"
	"title/internal/domain"
	"title/internal/infra/bridge"
	"title/internal/infra/gatewayauth"
	"title/internal/infra/ratelimit"
	"title/internal/infra/wasm"
	"title/internal/usecase"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine

	env      domain.Environment
	state    *usecase.EnvironmentState
	registry usecase.ExtensionRegistry

	verifyUC *usecase.VerifyContent
	signUC   *usecase.SignMint
	treeUC   *usecase.CreateTree

	gatewayPubkey ed25519.PublicKey

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool

	maxSingleContentBytes uint64
	maxConcurrentBytes    uint64
}

// NewServer wires the full dependency graph from configuration. The
// environment must already hold its generated keys.
func NewServer(cfg config.Config, env domain.Environment) (*Server, error) {
	gatewayPubkey, err := gatewayauth.ParseGatewayPubkey(cfg.GatewayPubkey)
	if err != nil {
		return nil, err
	}
	if gatewayPubkey == nil {
		log.Printf("GATEWAY_PUBKEY not set; gateway auth disabled (development only)")
	}

	fetcher := bridge.NewFetcher(cfg.BridgeAddr, int64(cfg.MaxConcurrentBytes))

	modules, err := wasm.ParseModuleList(cfg.TrustedWasmModules)
	if err != nil {
		return nil, fmt.Errorf("parse TRUSTED_WASM_MODULES: %w", err)
	}
	var loader wasm.Loader
	if cfg.WasmBaseURL != "" {
		loader = &wasm.BridgeLoader{
			BaseURL: cfg.WasmBaseURL,
			Fetch: func(ctx context.Context, url string) ([]byte, error) {
				res := fetcher.NewReservation()
				defer res.Release()
				return fetcher.Get(ctx, url, cfg.MaxSingleContentBytes, domain.ResolveBudget(nil), res)
			},
		}
	} else {
		loader = &wasm.FileLoader{Dir: cfg.WasmDir}
	}
	registry := wasm.NewRegistry(loader, modules)

	trust := &usecase.StaticTrust{Config: domain.TrustConfig{
		CoreCollectionMint:          cfg.CoreCollectionMint,
		ExtCollectionMint:           cfg.ExtCollectionMint,
		TrustedTimestampAuthorities: splitList(cfg.TrustedTSAKeys),
		TrustedWasmModules:          modules,
	}}

	coreCollection, err := parseCollection(cfg.CoreCollectionMint)
	if err != nil {
		return nil, fmt.Errorf("COLLECTION_MINT: %w", err)
	}
	extCollection, err := parseCollection(cfg.ExtCollectionMint)
	if err != nil {
		return nil, fmt.Errorf("EXT_COLLECTION_MINT: %w", err)
	}

	state := usecase.NewEnvironmentState()
	deps := ServerDeps{
		Env:      env,
		State:    state,
		Registry: registry,
		Verify: &usecase.VerifyContent{
			Env:      env,
			Fetcher:  fetcher,
			Registry: registry,
			Runner:   wasm.NewRunner(cfg.WasmFuelLimit, cfg.WasmMemoryBytes),
			Trust:    trust,
			State:    state,
		},
		Sign: &usecase.SignMint{
			Env:            env,
			Fetcher:        fetcher,
			State:          state,
			CoreCollection: coreCollection,
			ExtCollection:  extCollection,
		},
		CreateTree:    &usecase.CreateTree{Env: env, State: state},
		GatewayPubkey: gatewayPubkey,
	}
	if cfg.RateLimitRequests > 0 {
		if cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, nil); err == nil {
				deps.RateLimiter = limiter
			}
		}
		if deps.RateLimiter == nil {
			deps.RateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys})
		}
	}
	return NewServerWithDeps(cfg, deps), nil
}

// ServerDeps is the explicit wiring used by tests.
type ServerDeps struct {
	Env           domain.Environment
	State         *usecase.EnvironmentState
	Registry      usecase.ExtensionRegistry
	Verify        *usecase.VerifyContent
	Sign          *usecase.SignMint
	CreateTree    *usecase.CreateTree
	GatewayPubkey ed25519.PublicKey
	RateLimiter   domain.RateLimiter
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:                   cfg,
		r:                     r,
		env:                   deps.Env,
		state:                 deps.State,
		registry:              deps.Registry,
		verifyUC:              deps.Verify,
		signUC:                deps.Sign,
		treeUC:                deps.CreateTree,
		gatewayPubkey:         deps.GatewayPubkey,
		rateLimiter:           deps.RateLimiter,
		rateLimitRequests:     cfg.RateLimitRequests,
		rateLimitWindow:       cfg.RateLimitWindow(),
		rateLimitFailClosed:   cfg.RateLimitFailClosed,
		maxSingleContentBytes: cfg.MaxSingleContentBytes,
		maxConcurrentBytes:    cfg.MaxConcurrentBytes,
	}
	r.Use(s.accessLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/health", func(c *gin.Context) {
		c.String(200, "ok")
	})
	s.r.GET("/.well-known/title-node-info", s.handleNodeInfo)

	s.r.POST("/create-tree", s.handleCreateTree)
	s.r.POST("/verify", s.handleVerify)
	s.r.POST("/sign", s.handleSign)

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, 404, "NOT_FOUND", "no such route")
	})
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

func parseCollection(encoded string) (*solana.PublicKey, error) {
	if encoded == "" {
		return nil, nil
	}
	pk, err := solana.PublicKeyFromBase58(encoded)
	if err != nil {
		return nil, err
	}
	return &pk, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
