package ledger

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
)

const HashSize = 32

var (
	ErrEmptyTree      = errors.New("empty merkle tree")
	ErrInvalidHashLen = errors.New("invalid hash length")
	ErrInvalidIndex   = errors.New("invalid leaf index")
	ErrInvalidSize    = errors.New("invalid tree size")
)

// NodeHash is the RFC 6962 interior node hash.
func NodeHash(left, right []byte) []byte {
	hasher := sha256.New()
	hasher.Write([]byte{0x01})
	hasher.Write(left)
	hasher.Write(right)
	return hasher.Sum(nil)
}

func Root(leaves [][]byte) ([]byte, error) {
	level, err := cloneAndValidateLeaves(leaves)
	if err != nil {
		return nil, err
	}
	return merkleTreeHash(level)
}

func InclusionPath(leaves [][]byte, leafIndex int) ([][]byte, error) {
	level, err := cloneAndValidateLeaves(leaves)
	if err != nil {
		return nil, err
	}
	if leafIndex < 0 || leafIndex >= len(level) {
		return nil, ErrInvalidIndex
	}
	path := make([][]byte, 0)
	if err := inclusionPath(level, leafIndex, &path); err != nil {
		return nil, err
	}
	return path, nil
}

func VerifyInclusion(leafHash []byte, leafIndex int, treeSize int, path [][]byte, expectedRoot []byte) (bool, error) {
	if treeSize <= 0 {
		return false, ErrInvalidSize
	}
	if leafIndex < 0 || leafIndex >= treeSize {
		return false, ErrInvalidIndex
	}
	if err := validateHash(leafHash); err != nil {
		return false, err
	}
	if err := validateHash(expectedRoot); err != nil {
		return false, err
	}
	for _, p := range path {
		if err := validateHash(p); err != nil {
			return false, err
		}
	}
	hash, used, err := rootFromPath(leafHash, leafIndex, treeSize, path)
	if err != nil {
		return false, err
	}
	if used != len(path) {
		return false, ErrInvalidSize
	}
	return bytes.Equal(hash, expectedRoot), nil
}

func merkleTreeHash(leaves [][]byte) ([]byte, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if len(leaves) == 1 {
		return cloneHash(leaves[0]), nil
	}
	k := largestPowerOfTwoLessThan(len(leaves))
	left, err := merkleTreeHash(leaves[:k])
	if err != nil {
		return nil, err
	}
	right, err := merkleTreeHash(leaves[k:])
	if err != nil {
		return nil, err
	}
	return NodeHash(left, right), nil
}

func cloneAndValidateLeaves(leaves [][]byte) ([][]byte, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	out := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		if err := validateHash(leaf); err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		out[i] = cloneHash(leaf)
	}
	return out, nil
}

func validateHash(hash []byte) error {
	if len(hash) != HashSize {
		return ErrInvalidHashLen
	}
	return nil
}

func inclusionPath(leaves [][]byte, leafIndex int, path *[][]byte) error {
	if len(leaves) == 1 {
		return nil
	}
	k := largestPowerOfTwoLessThan(len(leaves))
	if leafIndex < k {
		if err := inclusionPath(leaves[:k], leafIndex, path); err != nil {
			return err
		}
		rightRoot, err := merkleTreeHash(leaves[k:])
		if err != nil {
			return err
		}
		*path = append(*path, rightRoot)
		return nil
	}
	if err := inclusionPath(leaves[k:], leafIndex-k, path); err != nil {
		return err
	}
	leftRoot, err := merkleTreeHash(leaves[:k])
	if err != nil {
		return err
	}
	*path = append(*path, leftRoot)
	return nil
}

func rootFromPath(leafHash []byte, leafIndex int, treeSize int, path [][]byte) ([]byte, int, error) {
	if treeSize <= 0 {
		return nil, 0, ErrInvalidSize
	}
	if treeSize == 1 {
		if leafIndex != 0 {
			return nil, 0, ErrInvalidIndex
		}
		return cloneHash(leafHash), 0, nil
	}
	k := largestPowerOfTwoLessThan(treeSize)
	if leafIndex < k {
		leftRoot, used, err := rootFromPath(leafHash, leafIndex, k, path)
		if err != nil {
			return nil, 0, err
		}
		if used >= len(path) {
			return nil, 0, ErrInvalidSize
		}
		return NodeHash(leftRoot, path[used]), used + 1, nil
	}
	rightRoot, used, err := rootFromPath(leafHash, leafIndex-k, treeSize-k, path)
	if err != nil {
		return nil, 0, err
	}
	if used >= len(path) {
		return nil, 0, ErrInvalidSize
	}
	return NodeHash(path[used], rightRoot), used + 1, nil
}

func cloneHash(hash []byte) []byte {
	if hash == nil {
		return nil
	}
	out := make([]byte, len(hash))
	copy(out, hash)
	return out
}

func largestPowerOfTwoLessThan(value int) int {
	power := 1
	for power<<1 < value {
		power <<= 1
	}
	return power
}
