package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"title/internal/domain"
)

const attestationURI = "https://storage.example/attestation.json"

// testBlockhash58 is a valid base58 32-byte hash.
const testBlockhash58 = "11111111111111111111111111111111"

func storedAttestation(t *testing.T, env domain.Environment, creatorWallet string) []byte {
	t.Helper()
	payload := domain.CorePayload{
		ContentHash:   "0x1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd",
		ContentType:   "image/jpeg",
		CreatorWallet: creatorWallet,
		Nodes:         []domain.GraphNode{{ID: "0xabc", Type: domain.NodeFinal}},
	}
	attributes := []domain.Attribute{{TraitType: "protocol", Value: domain.ProtocolCore}}
	att, err := sealAttestation(env, domain.ProtocolCore, payload, attributes)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(att)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestSignProducesPartialTransaction(t *testing.T) {
	env := newEnv(t)
	creator := solana.PublicKeyFromBytes(env.TreePubkey()) // any valid base58 wallet
	stored := storedAttestation(t, env, creator.String())

	uc := &SignMint{
		Env:     env,
		Fetcher: &fakeFetcher{responses: map[string][]byte{attestationURI: stored}},
		State:   activeState(t),
	}

	resp, err := uc.Execute(context.Background(), domain.SignRequest{
		RecentBlockhash: testBlockhash58,
		Requests:        []domain.SignRequestItem{{SignedJSONURI: attestationURI}},
	}, domain.ResolveBudget(nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(resp.PartialTxs) != 1 {
		t.Fatalf("partial txs: %d", len(resp.PartialTxs))
	}

	wire, err := base64.StdEncoding.DecodeString(resp.PartialTxs[0])
	if err != nil {
		t.Fatal(err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(wire))
	if err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if tx.Message.Header.NumRequiredSignatures != 2 {
		t.Fatalf("signers: %d", tx.Message.Header.NumRequiredSignatures)
	}

	// The environment slot holds a signature, the creator slot is empty.
	teeKey := solana.PublicKeyFromBytes(env.SigningPubkey())
	var teeSigned, creatorSigned bool
	for i, key := range tx.Message.AccountKeys[:2] {
		empty := tx.Signatures[i].IsZero()
		if key.Equals(teeKey) {
			teeSigned = !empty
		}
		if key.Equals(creator) {
			creatorSigned = !empty
		}
	}
	if !teeSigned {
		t.Fatal("environment signature missing")
	}
	if creatorSigned {
		t.Fatal("creator slot must stay unsigned")
	}
}

func TestSignRejectsAttestationFromOtherEnvironment(t *testing.T) {
	env1 := newEnv(t)
	env2 := newEnv(t) // a restarted environment: different keys

	creator := solana.PublicKeyFromBytes(env1.TreePubkey())
	stored := storedAttestation(t, env1, creator.String())

	uc := &SignMint{
		Env:     env2,
		Fetcher: &fakeFetcher{responses: map[string][]byte{attestationURI: stored}},
		State:   activeState(t),
	}

	_, err := uc.Execute(context.Background(), domain.SignRequest{
		RecentBlockhash: testBlockhash58,
		Requests:        []domain.SignRequestItem{{SignedJSONURI: attestationURI}},
	}, domain.ResolveBudget(nil))
	if !errors.Is(err, domain.ErrRejectedSignature) {
		t.Fatalf("expected ErrRejectedSignature, got %v", err)
	}
}

func TestSignBatchIsAtomic(t *testing.T) {
	env := newEnv(t)
	creator := solana.PublicKeyFromBytes(env.TreePubkey())
	stored := storedAttestation(t, env, creator.String())

	uc := &SignMint{
		Env: env,
		Fetcher: &fakeFetcher{responses: map[string][]byte{
			attestationURI: stored,
			// second URI missing: the fetch fails
		}},
		State: activeState(t),
	}

	_, err := uc.Execute(context.Background(), domain.SignRequest{
		RecentBlockhash: testBlockhash58,
		Requests: []domain.SignRequestItem{
			{SignedJSONURI: attestationURI},
			{SignedJSONURI: "https://storage.example/missing.json"},
		},
	}, domain.ResolveBudget(nil))
	if err == nil {
		t.Fatal("batch with a failing item succeeded")
	}
}

func TestSignRefusesWhileInactive(t *testing.T) {
	env := newEnv(t)
	uc := &SignMint{Env: env, Fetcher: &fakeFetcher{}, State: NewEnvironmentState()}

	_, err := uc.Execute(context.Background(), domain.SignRequest{
		RecentBlockhash: testBlockhash58,
		Requests:        []domain.SignRequestItem{{SignedJSONURI: attestationURI}},
	}, domain.ResolveBudget(nil))
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}
