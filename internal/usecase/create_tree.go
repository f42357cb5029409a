package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"title/internal/domain"
	"title/internal/infra/solanatx"
)

// CreateTree is the one-shot tree bootstrap: build the Merkle tree
// account creation transaction, sign it with the environment and tree
// keys, and flip the environment Active. A second call fails.
type CreateTree struct {
	Env   domain.Environment
	State *EnvironmentState

	// mu serializes the whole bootstrap; the state transition has a
	// single writer.
	mu sync.Mutex
}

// Limits the on-chain program accepts for tree shape.
const (
	maxTreeDepth      = 30
	maxTreeBufferSize = 2048
)

// Execute performs the bootstrap.
func (uc *CreateTree) Execute(_ context.Context, req domain.CreateTreeRequest) (*domain.CreateTreeResponse, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.State.Current() != domain.StateInactive {
		return nil, fmt.Errorf("%w: tree already created", domain.ErrInvalidState)
	}
	if req.MaxDepth == 0 || req.MaxDepth > maxTreeDepth {
		return nil, fmt.Errorf("%w: max_depth must be in 1..%d", domain.ErrBadRequest, maxTreeDepth)
	}
	if req.MaxBufferSize == 0 || req.MaxBufferSize > maxTreeBufferSize {
		return nil, fmt.Errorf("%w: max_buffer_size must be in 1..%d", domain.ErrBadRequest, maxTreeBufferSize)
	}

	blockhash, err := solana.HashFromBase58(req.RecentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("%w: recent_blockhash is not base58", domain.ErrBadRequest)
	}

	signingPubkey := solana.PublicKeyFromBytes(uc.Env.SigningPubkey())
	treePubkey := solana.PublicKeyFromBytes(uc.Env.TreePubkey())

	// The environment wallet pays by default, keeping tree authority
	// entirely inside the enclave; an explicit payer co-signs later.
	payer := signingPubkey
	if req.Payer != "" {
		payer, err = solana.PublicKeyFromBase58(req.Payer)
		if err != nil {
			return nil, fmt.Errorf("%w: payer is not base58", domain.ErrBadRequest)
		}
	}

	tx, err := solanatx.BuildCreateTreeTx(payer, treePubkey, signingPubkey, req.MaxDepth, req.MaxBufferSize, blockhash)
	if err != nil {
		return nil, fmt.Errorf("%w: build create-tree transaction: %v", domain.ErrInternal, err)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: serialize message: %v", domain.ErrInternal, err)
	}

	treeSig, err := uc.Env.TreeSign(message)
	if err != nil {
		return nil, fmt.Errorf("%w: tree signature: %v", domain.ErrInternal, err)
	}
	if err := solanatx.ApplyPartialSignature(tx, treePubkey, treeSig); err != nil {
		return nil, fmt.Errorf("%w: apply tree signature: %v", domain.ErrInternal, err)
	}

	envSig, err := uc.Env.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("%w: environment signature: %v", domain.ErrInternal, err)
	}
	if err := solanatx.ApplyPartialSignature(tx, signingPubkey, envSig); err != nil {
		return nil, fmt.Errorf("%w: apply environment signature: %v", domain.ErrInternal, err)
	}

	wire, err := solanatx.SerializeTransaction(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize transaction: %v", domain.ErrInternal, err)
	}

	if err := uc.State.Activate(treePubkey); err != nil {
		return nil, err
	}

	return &domain.CreateTreeResponse{
		PartialTx:        base64.StdEncoding.EncodeToString(wire),
		TreeAddress:      treePubkey.String(),
		SigningPubkey:    base58.Encode(uc.Env.SigningPubkey()),
		EncryptionPubkey: base64.StdEncoding.EncodeToString(uc.Env.EncryptionPubkey()),
	}, nil
}
