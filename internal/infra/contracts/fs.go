// Package contracts resolves submitted contract references to local files.
package contracts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

// Resolver maps a contract reference to a readable file. With a non-empty
// root, references are paths relative to it and may not escape; with an
// empty root any local path is accepted (the CLI's mode).
type Resolver struct {
	root     string
	maxBytes int64
}

func NewResolver(root string, maxBytes int64) *Resolver {
	return &Resolver{root: root, maxBytes: maxBytes}
}

func (r *Resolver) Resolve(ctx context.Context, ref string) (domain.Contract, error) {
	if err := ctx.Err(); err != nil {
		return domain.Contract{}, fmt.Errorf("resolve contract: %w", err)
	}
	if strings.TrimSpace(ref) == "" {
		return domain.Contract{}, fmt.Errorf("%w: empty contract reference", domain.ErrInvalidInput)
	}

	path := ref
	if r.root != "" {
		if filepath.IsAbs(ref) {
			return domain.Contract{}, fmt.Errorf("%w: contract reference must be relative", domain.ErrInvalidInput)
		}
		path = filepath.Join(r.root, filepath.Clean(ref))
		rel, err := filepath.Rel(r.root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return domain.Contract{}, fmt.Errorf("%w: contract reference escapes contract root", domain.ErrInvalidInput)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("%w: contract %s not readable", domain.ErrInvalidInput, ref)
	}
	if !info.Mode().IsRegular() {
		return domain.Contract{}, fmt.Errorf("%w: contract %s is not a regular file", domain.ErrInvalidInput, ref)
	}
	if info.Size() == 0 {
		return domain.Contract{}, fmt.Errorf("%w: contract %s is empty", domain.ErrInvalidInput, ref)
	}
	if r.maxBytes > 0 && info.Size() > r.maxBytes {
		return domain.Contract{}, fmt.Errorf("%w: contract %s exceeds %d bytes", domain.ErrInvalidInput, ref, r.maxBytes)
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("%w: contract %s not readable", domain.ErrInvalidInput, ref)
	}
	defer file.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return domain.Contract{}, fmt.Errorf("hash contract %s: %w", ref, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return domain.Contract{
		Ref:       ref,
		Path:      abs,
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
		SizeBytes: info.Size(),
	}, nil
}
