package main

import (
	"log"

	"title/internal/config"
	"title/internal/domain"
	httpinfra "title/internal/infra/http"
	"title/internal/infra/runtime"
)

func main() {
	cfg := config.FromEnv()

	var env domain.Environment
	switch cfg.TeeRuntime {
	case "mock":
		log.Printf("starting with mock environment")
		env = runtime.NewMock()
	case "nitro":
		log.Printf("starting with nitro environment")
		env = runtime.NewNitro()
	default:
		log.Fatalf("unsupported TEE_RUNTIME %q (supported: mock, nitro)", cfg.TeeRuntime)
	}

	// Keys exist exactly once per process, before the HTTP surface
	// opens. A restart rotates them and invalidates prior attestations.
	if err := env.GenerateSigningKeypair(); err != nil {
		log.Fatalf("signing keypair: %v", err)
	}
	if err := env.GenerateEncryptionKeypair(); err != nil {
		log.Fatalf("encryption keypair: %v", err)
	}
	if err := env.GenerateTreeKeypair(); err != nil {
		log.Fatalf("tree keypair: %v", err)
	}

	srv, err := httpinfra.NewServer(cfg, env)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	log.Printf("titled listening on %s (inactive)", cfg.HTTPAddr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
