// Package solanatx builds the compressed-NFT transactions the engine
// partially signs: the one-shot Merkle tree bootstrap and the per-token
// mint-v2 instruction.
package solanatx

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Program addresses the mint path touches.
var (
	BubblegumProgramID = solana.MustPublicKeyFromBase58("BGUMAp9Gq7iTEuizy4pqaxsTyUCBK68MDfK752saRPUY")
	// SPL account compression v2, used by Bubblegum v2 trees.
	AccountCompressionV2ID = solana.MustPublicKeyFromBase58("mcmt6YrQEMKw8Mw43FmpRLmf7BqRnFMKmAcbxE3xkAW")
	NoopProgramID          = solana.MustPublicKeyFromBase58("noopb9bkMVfRPU8AsbpTUg8AQkHtKwMYZiFUjNRtMmV")
	MplCoreProgramID       = solana.MustPublicKeyFromBase58("CoREENxT6tW1HoK8ypY1SxRMZTcVPm7R94rH4PZNhX7d")
)

// createTreeComputeUnits bounds the bootstrap transaction's budget.
const createTreeComputeUnits = 400_000

// DeriveTreeConfig derives the Bubblegum tree-config PDA for a tree.
func DeriveTreeConfig(merkleTree solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{merkleTree.Bytes()}, BubblegumProgramID)
}

// DeriveMplCoreCPISigner derives the CPI signer PDA used for
// collection-bound mints.
func DeriveMplCoreCPISigner() (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("mpl_core_cpi_signer")}, BubblegumProgramID)
}

// MerkleTreeAccountSize is the byte size of a concurrent Merkle tree
// account for the given shape. The layout must match the on-chain
// program byte for byte:
//
//	header:    discriminator(8) + account type(1) + max_buffer_size(4) +
//	           max_depth(4) + authority(32) + creation_slot(8) +
//	           is_batch_initialized(1) + padding(5)
//	tree:      sequence_number(8) + active_index(8) + buffer_size(8)
//	changelog: (root(32) + path(depth*32) + index(4) + padding(4)) * buffer
//	rightmost: leaf(32) + proof(depth*32) + index(4)
func MerkleTreeAccountSize(maxDepth, maxBufferSize uint32) uint64 {
	d := uint64(maxDepth)
	b := uint64(maxBufferSize)

	header := uint64(8 + 1 + 4 + 4 + 32 + 8 + 1 + 5)
	treeHeader := uint64(24)
	changeLog := 32 + d*32 + 4 + 4
	rightmostPath := 32 + d*32 + 4

	return header + treeHeader + b*changeLog + rightmostPath
}

// RentExemptMinimum approximates the rent-exempt lamport balance for an
// account of the given size: (128 + data_len) * 6960.
func RentExemptMinimum(dataLen uint64) uint64 {
	return (128 + dataLen) * 6960
}

// anchorDiscriminator derives the 8-byte Anchor instruction tag.
func anchorDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// BuildCreateTreeTx assembles the tree bootstrap transaction: a compute
// budget bump, the tree account allocation, and the Bubblegum v2
// create-tree-config CPI. The payer signs later unless it is the tree
// creator itself.
func BuildCreateTreeTx(payer, treePubkey, treeCreator solana.PublicKey, maxDepth, maxBufferSize uint32, blockhash solana.Hash) (*solana.Transaction, error) {
	space := MerkleTreeAccountSize(maxDepth, maxBufferSize)
	lamports := RentExemptMinimum(space)

	computeIx := computebudget.NewSetComputeUnitLimitInstruction(createTreeComputeUnits).Build()

	createAccountIx := system.NewCreateAccountInstruction(
		lamports,
		space,
		AccountCompressionV2ID,
		payer,
		treePubkey,
	).Build()

	treeConfig, _, err := DeriveTreeConfig(treePubkey)
	if err != nil {
		return nil, fmt.Errorf("derive tree config: %w", err)
	}

	data := new(bytes.Buffer)
	data.Write(anchorDiscriminator("create_tree_config_v2"))
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], maxDepth)
	data.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], maxBufferSize)
	data.Write(u32[:])
	data.WriteByte(0) // public: Option<bool> = None

	createTreeIx := solana.NewInstruction(
		BubblegumProgramID,
		solana.AccountMetaSlice{
			solana.Meta(treeConfig).WRITE(),
			solana.Meta(treePubkey).WRITE().SIGNER(),
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(treeCreator).SIGNER(),
			solana.Meta(NoopProgramID),
			solana.Meta(AccountCompressionV2ID),
			solana.Meta(system.ProgramID),
		},
		data.Bytes(),
	)

	return solana.NewTransaction(
		[]solana.Instruction{computeIx, createAccountIx, createTreeIx},
		blockhash,
		solana.TransactionPayer(payer),
	)
}

// MintParams describes one mint-v2 leaf.
type MintParams struct {
	Tree            solana.PublicKey
	TreeDelegate    solana.PublicKey // the environment signing key
	LeafOwner       solana.PublicKey // creator wallet; also fee payer
	ContentHash     string
	MetadataURI     string
	Symbol          string
	Collection      *solana.PublicKey
	RecentBlockhash solana.Hash
}

// BuildMintV2Tx assembles a Bubblegum v2 mint transaction. The leaf
// owner pays fees and signs last; the environment co-signs as tree
// delegate (and collection authority when a collection is attached).
func BuildMintV2Tx(p MintParams) (*solana.Transaction, error) {
	treeConfig, _, err := DeriveTreeConfig(p.Tree)
	if err != nil {
		return nil, fmt.Errorf("derive tree config: %w", err)
	}

	metadata, err := encodeMetadataArgsV2(p)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	data := new(bytes.Buffer)
	data.Write(anchorDiscriminator("mint_v2"))
	data.Write(metadata)

	accounts := solana.AccountMetaSlice{
		solana.Meta(treeConfig).WRITE(),
		solana.Meta(p.LeafOwner).WRITE().SIGNER(),
		solana.Meta(p.TreeDelegate).SIGNER(),
		solana.Meta(p.LeafOwner),
		solana.Meta(p.Tree).WRITE(),
		solana.Meta(NoopProgramID),
		solana.Meta(AccountCompressionV2ID),
		solana.Meta(system.ProgramID),
	}
	if p.Collection != nil {
		cpiSigner, _, err := DeriveMplCoreCPISigner()
		if err != nil {
			return nil, fmt.Errorf("derive cpi signer: %w", err)
		}
		accounts = append(accounts,
			solana.Meta(*p.Collection).WRITE(),
			solana.Meta(p.TreeDelegate).SIGNER(), // collection authority
			solana.Meta(cpiSigner),
			solana.Meta(MplCoreProgramID),
		)
	}

	mintIx := solana.NewInstruction(BubblegumProgramID, accounts, data.Bytes())

	return solana.NewTransaction(
		[]solana.Instruction{mintIx},
		p.RecentBlockhash,
		solana.TransactionPayer(p.LeafOwner),
	)
}

// LeafName derives the token display name from a content hash: "Title #"
// plus the first eight hex digits.
func LeafName(contentHash string) string {
	suffix := contentHash
	if len(suffix) > 2 {
		end := len(suffix)
		if end > 10 {
			end = 10
		}
		suffix = suffix[2:end]
	}
	return "Title #" + suffix
}

// encodeMetadataArgsV2 borsh-encodes the MetadataArgsV2 structure.
func encodeMetadataArgsV2(p MintParams) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	symbol := p.Symbol
	if symbol == "" {
		symbol = "TITLE"
	}

	if err := writeBorshString(enc, LeafName(p.ContentHash)); err != nil {
		return nil, err
	}
	if err := writeBorshString(enc, symbol); err != nil {
		return nil, err
	}
	if err := writeBorshString(enc, p.MetadataURI); err != nil {
		return nil, err
	}
	if err := enc.WriteUint16(0, binary.LittleEndian); err != nil { // seller_fee_basis_points
		return nil, err
	}
	if err := enc.WriteBool(false); err != nil { // primary_sale_happened
		return nil, err
	}
	if err := enc.WriteBool(false); err != nil { // is_mutable
		return nil, err
	}
	// token_standard: Some(NonFungible)
	if err := enc.WriteByte(1); err != nil {
		return nil, err
	}
	if err := enc.WriteByte(0); err != nil {
		return nil, err
	}
	// creators: one unverified creator with full share
	if err := enc.WriteUint32(1, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(p.LeafOwner.Bytes(), false); err != nil {
		return nil, err
	}
	if err := enc.WriteBool(false); err != nil { // verified
		return nil, err
	}
	if err := enc.WriteByte(100); err != nil { // share
		return nil, err
	}
	// collection: Option<Pubkey>
	if p.Collection != nil {
		if err := enc.WriteByte(1); err != nil {
			return nil, err
		}
		if err := enc.WriteBytes(p.Collection.Bytes(), false); err != nil {
			return nil, err
		}
	} else if err := enc.WriteByte(0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeBorshString(enc *bin.Encoder, s string) error {
	if err := enc.WriteUint32(uint32(len(s)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes([]byte(s), false)
}

// ApplyPartialSignature places an externally produced Ed25519 signature
// into the transaction's signature slot for pubkey.
func ApplyPartialSignature(tx *solana.Transaction, pubkey solana.PublicKey, signature []byte) error {
	if len(signature) != 64 {
		return fmt.Errorf("signature must be 64 bytes, got %d", len(signature))
	}
	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) < numSigners {
		padded := make([]solana.Signature, numSigners)
		copy(padded, tx.Signatures)
		tx.Signatures = padded
	}
	for i := 0; i < numSigners && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(pubkey) {
			copy(tx.Signatures[i][:], signature)
			return nil
		}
	}
	return fmt.Errorf("pubkey %s is not a required signer", pubkey)
}

// SerializeTransaction renders the wire form of a (partially) signed
// transaction.
func SerializeTransaction(tx *solana.Transaction) ([]byte, error) {
	return tx.MarshalBinary()
}
