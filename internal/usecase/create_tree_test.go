package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"title/internal/domain"
)

func TestCreateTreeActivatesEnvironment(t *testing.T) {
	env := newEnv(t)
	state := NewEnvironmentState()
	uc := &CreateTree{Env: env, State: state}

	resp, err := uc.Execute(context.Background(), domain.CreateTreeRequest{
		MaxDepth:        20,
		MaxBufferSize:   64,
		RecentBlockhash: testBlockhash58,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	wire, err := base64.StdEncoding.DecodeString(resp.PartialTx)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(wire))
	if err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	// payer == tree creator (the environment), so signing key + tree key.
	if tx.Message.Header.NumRequiredSignatures != 2 {
		t.Fatalf("signers: %d", tx.Message.Header.NumRequiredSignatures)
	}
	if len(tx.Message.Instructions) != 3 {
		t.Fatalf("instructions: %d", len(tx.Message.Instructions))
	}
	for i := range tx.Signatures {
		if tx.Signatures[i].IsZero() {
			t.Fatalf("signature slot %d empty: self-paying bootstrap must be fully signed", i)
		}
	}

	if resp.TreeAddress == "" || resp.SigningPubkey == "" {
		t.Fatalf("response: %+v", resp)
	}
	encPub, err := base64.StdEncoding.DecodeString(resp.EncryptionPubkey)
	if err != nil || len(encPub) != 32 {
		t.Fatalf("encryption pubkey: %v len=%d", err, len(encPub))
	}

	if state.Current() != domain.StateActive {
		t.Fatal("state not active")
	}
	tree, ok := state.TreeAddress()
	if !ok || tree.String() != resp.TreeAddress {
		t.Fatalf("tree address: %v %s", ok, resp.TreeAddress)
	}
}

func TestCreateTreeIsOneShot(t *testing.T) {
	env := newEnv(t)
	uc := &CreateTree{Env: env, State: NewEnvironmentState()}

	req := domain.CreateTreeRequest{
		MaxDepth:        14,
		MaxBufferSize:   64,
		RecentBlockhash: testBlockhash58,
	}
	if _, err := uc.Execute(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	_, err := uc.Execute(context.Background(), req)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCreateTreeValidatesShape(t *testing.T) {
	env := newEnv(t)
	uc := &CreateTree{Env: env, State: NewEnvironmentState()}

	cases := []domain.CreateTreeRequest{
		{MaxDepth: 0, MaxBufferSize: 64, RecentBlockhash: testBlockhash58},
		{MaxDepth: 64, MaxBufferSize: 64, RecentBlockhash: testBlockhash58},
		{MaxDepth: 20, MaxBufferSize: 0, RecentBlockhash: testBlockhash58},
		{MaxDepth: 20, MaxBufferSize: 64, RecentBlockhash: "not-base58-!"},
	}
	for i, req := range cases {
		if _, err := uc.Execute(context.Background(), req); !errors.Is(err, domain.ErrBadRequest) {
			t.Fatalf("case %d: expected ErrBadRequest, got %v", i, err)
		}
	}
	if uc.State.Current() != domain.StateInactive {
		t.Fatal("failed bootstrap must not activate")
	}
}

func TestEnvironmentStateSingleActivation(t *testing.T) {
	s := NewEnvironmentState()
	if err := s.RequireActive(); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("inactive RequireActive: %v", err)
	}

	var tree solana.PublicKey
	tree[0] = 1
	if err := s.Activate(tree); err != nil {
		t.Fatal(err)
	}
	if err := s.RequireActive(); err != nil {
		t.Fatal(err)
	}
	if err := s.Activate(tree); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second activation: %v", err)
	}
}
