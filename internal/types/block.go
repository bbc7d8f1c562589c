package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"time"
)

// BlockHeader contains the metadata of a block
type BlockHeader struct {
	Version       uint32 `json:"version"`
	Height        uint64 `json:"height"`
	PrevBlockHash Hash   `json:"prevBlockHash"`
	MerkleRoot    Hash   `json:"merkleRoot"`
	Timestamp     int64  `json:"timestamp"`
	Target        uint32 `json:"target"`
	Nonce         uint64 `json:"nonce"`
	Hash          Hash   `json:"hash"`
}

// Block represents a complete block in the blockchain
type Block struct {
	Header       *BlockHeader   `json:"header"`
	Transactions []*Transaction `json:"transactions"`
}

// NewBlock creates a new block on top of the given parent.
func NewBlock(prevHash Hash, height uint64, transactions []*Transaction, target uint32) *Block {
	header := &BlockHeader{
		Version:       1,
		Height:        height,
		PrevBlockHash: prevHash,
		Timestamp:     time.Now().Unix(),
		Target:        target,
		Nonce:         0,
		MerkleRoot:    CalculateMerkleRoot(transactions),
	}

	block := &Block{
		Header:       header,
		Transactions: transactions,
	}

	block.Header.Hash = ComputeBlockHash(header)
	return block
}

// NewGenesisBlock creates the genesis (first) block
func NewGenesisBlock() *Block {
	header := &BlockHeader{
		Version:       1,
		Height:        0,
		PrevBlockHash: ZeroHash,
		Timestamp:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
		Target:        InitialTarget,
		Nonce:         0,
	}

	block := &Block{
		Header:       header,
		Transactions: []*Transaction{},
	}

	block.Header.MerkleRoot = CalculateMerkleRoot(block.Transactions)
	block.Header.Hash = ComputeBlockHash(header)
	return block
}

// InitialTarget is the genesis difficulty target. Higher values mean an
// easier target and therefore less work per block.
const InitialTarget uint32 = 1000

// ComputeBlockHash calculates the block hash using double SHA-256
func ComputeBlockHash(header *BlockHeader) Hash {
	var buf bytes.Buffer

	binary.Write(&buf, binary.BigEndian, header.Version)
	binary.Write(&buf, binary.BigEndian, header.Height)
	buf.Write(header.PrevBlockHash[:])
	buf.Write(header.MerkleRoot[:])
	binary.Write(&buf, binary.BigEndian, header.Timestamp)
	binary.Write(&buf, binary.BigEndian, header.Target)
	binary.Write(&buf, binary.BigEndian, header.Nonce)

	first := sha256.Sum256(buf.Bytes())
	return sha256.Sum256(first[:])
}

// Serialize converts the entire block to bytes (including transactions)
func (b *Block) Serialize() ([]byte, error) {
	return json.Marshal(b)
}

// DeserializeBlock reconstructs a block from bytes
func DeserializeBlock(data []byte) (*Block, error) {
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// CalculateMerkleRoot computes the merkle root of transactions
func CalculateMerkleRoot(transactions []*Transaction) Hash {
	if len(transactions) == 0 {
		return ZeroHash
	}

	hashes := make([][]byte, len(transactions))
	for i, tx := range transactions {
		h := tx.Hash()
		hashes[i] = h[:]
	}

	// Build merkle tree bottom-up, duplicating the last hash on odd levels
	for len(hashes) > 1 {
		if len(hashes)%2 != 0 {
			hashes = append(hashes, hashes[len(hashes)-1])
		}

		var newLevel [][]byte
		for i := 0; i < len(hashes); i += 2 {
			combined := append(hashes[i], hashes[i+1]...)
			hash := sha256.Sum256(combined)
			newLevel = append(newLevel, hash[:])
		}

		hashes = newLevel
	}

	var root Hash
	copy(root[:], hashes[0])
	return root
}

// IsGenesis returns true if this is the genesis block
func (b *Block) IsGenesis() bool {
	return b.Header.Height == 0 && b.Header.PrevBlockHash.IsZero()
}

// Size returns the approximate size of the block in bytes
func (b *Block) Size() int {
	data, _ := b.Serialize()
	return len(data)
}

// Validate performs structural validation on the block: header hash and
// merkle root integrity, target sanity, coinbase placement, and per
// transaction structure. It does not touch chain context; parent
// linkage, checkpoints and spendability are checked by the chain state.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrInvalidBlockHash
	}

	// Check timestamp is reasonable (not too far in future)
	maxFutureTime := time.Now().Unix() + 7200 // 2 hours tolerance
	if b.Header.Timestamp > maxFutureTime {
		return ErrInvalidTimestamp
	}

	if b.Header.Target == 0 {
		return ErrInvalidTarget
	}

	// Verify merkle root
	calculatedRoot := CalculateMerkleRoot(b.Transactions)
	if calculatedRoot != b.Header.MerkleRoot {
		return ErrInvalidMerkleRoot
	}

	// Verify block hash
	calculatedHash := ComputeBlockHash(b.Header)
	if calculatedHash != b.Header.Hash {
		return ErrInvalidBlockHash
	}

	// Only the first transaction may be a coinbase, and a non-empty
	// block must carry exactly one.
	for i, tx := range b.Transactions {
		if tx.IsCoinbase() && i != 0 {
			return ErrMultipleCoinbase
		}
		if err := tx.Validate(); err != nil {
			return err
		}
	}
	if len(b.Transactions) > 0 && !b.Transactions[0].IsCoinbase() {
		return ErrMissingCoinbase
	}

	return nil
}
