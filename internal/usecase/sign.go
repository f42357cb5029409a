package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"title/internal/domain"
	"title/internal/infra/solanatx"
)

// SignMint is the /sign pipeline: re-fetch each stored attestation,
// verify it against this environment's current signing key ("verify on
// sign"), and emit a partially signed mint transaction per item. A batch
// succeeds or fails as a whole.
type SignMint struct {
	Env     domain.Environment
	Fetcher Fetcher
	State   *EnvironmentState

	CoreCollection *solana.PublicKey
	ExtCollection  *solana.PublicKey
}

// Execute processes one authenticated sign request.
func (uc *SignMint) Execute(ctx context.Context, req domain.SignRequest, budget domain.ResolvedBudget) (*domain.SignResponse, error) {
	if err := uc.State.RequireActive(); err != nil {
		return nil, err
	}
	if len(req.Requests) == 0 {
		return nil, fmt.Errorf("%w: requests is required", domain.ErrBadRequest)
	}

	blockhash, err := solana.HashFromBase58(req.RecentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("%w: recent_blockhash is not base58", domain.ErrBadRequest)
	}

	tree, ok := uc.State.TreeAddress()
	if !ok {
		return nil, fmt.Errorf("%w: merkle tree not created", domain.ErrInvalidState)
	}

	signingPubkey := uc.Env.SigningPubkey()
	teeKey := solana.PublicKeyFromBytes(signingPubkey)

	partialTxs := make([]string, 0, len(req.Requests))
	for _, item := range req.Requests {
		encoded, err := uc.signOne(ctx, item, budget, tree, teeKey, signingPubkey, blockhash)
		if err != nil {
			return nil, err
		}
		partialTxs = append(partialTxs, encoded)
	}
	return &domain.SignResponse{PartialTxs: partialTxs}, nil
}

func (uc *SignMint) signOne(ctx context.Context, item domain.SignRequestItem, budget domain.ResolvedBudget, tree, teeKey solana.PublicKey, signingPubkey []byte, blockhash solana.Hash) (string, error) {
	reservation := uc.Fetcher.NewReservation()
	defer reservation.Release()

	body, err := uc.Fetcher.Get(ctx, item.SignedJSONURI, domain.MaxSignedAttestationBytes, budget, reservation)
	if err != nil {
		return "", err
	}

	var att domain.SignedAttestation
	if err := json.Unmarshal(body, &att); err != nil {
		return "", fmt.Errorf("%w: stored attestation is not valid JSON", domain.ErrBadRequest)
	}

	// The attestation must name this environment's current key and its
	// signature must verify under it. A restart rotated the key, so any
	// attestation from a previous life is rejected here, as is a URI
	// pointing at someone else's attestation.
	if att.TeePubkey != base58.Encode(signingPubkey) {
		return "", fmt.Errorf("%w: attestation was issued under a different environment key", domain.ErrRejectedSignature)
	}
	if err := verifyAttestationSignature(signingPubkey, &att); err != nil {
		return "", err
	}

	var payload struct {
		ContentHash   string `json:"content_hash"`
		CreatorWallet string `json:"creator_wallet"`
		ExtensionID   string `json:"extension_id"`
	}
	if err := json.Unmarshal(att.Payload, &payload); err != nil {
		return "", fmt.Errorf("%w: attestation payload malformed", domain.ErrBadRequest)
	}
	if payload.ContentHash == "" || payload.CreatorWallet == "" {
		return "", fmt.Errorf("%w: attestation payload missing content_hash or creator_wallet", domain.ErrBadRequest)
	}

	creator, err := solana.PublicKeyFromBase58(payload.CreatorWallet)
	if err != nil {
		return "", fmt.Errorf("%w: creator_wallet is not base58", domain.ErrBadRequest)
	}

	collection := uc.CoreCollection
	symbol := "TITLE"
	if att.Protocol == domain.ProtocolExtension {
		collection = uc.ExtCollection
		if payload.ExtensionID != "" {
			symbol = strings.ToUpper(payload.ExtensionID)
		}
	}

	tx, err := solanatx.BuildMintV2Tx(solanatx.MintParams{
		Tree:            tree,
		TreeDelegate:    teeKey,
		LeafOwner:       creator,
		ContentHash:     payload.ContentHash,
		MetadataURI:     item.SignedJSONURI,
		Symbol:          symbol,
		Collection:      collection,
		RecentBlockhash: blockhash,
	})
	if err != nil {
		return "", fmt.Errorf("%w: build mint transaction: %v", domain.ErrInternal, err)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("%w: serialize message: %v", domain.ErrInternal, err)
	}
	signature, err := uc.Env.Sign(message)
	if err != nil {
		return "", fmt.Errorf("%w: sign transaction: %v", domain.ErrInternal, err)
	}
	if err := solanatx.ApplyPartialSignature(tx, teeKey, signature); err != nil {
		return "", fmt.Errorf("%w: apply signature: %v", domain.ErrInternal, err)
	}

	wire, err := solanatx.SerializeTransaction(tx)
	if err != nil {
		return "", fmt.Errorf("%w: serialize transaction: %v", domain.ErrInternal, err)
	}
	return base64.StdEncoding.EncodeToString(wire), nil
}
