package contracts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

func TestResolveUnderRoot(t *testing.T) {
	root := t.TempDir()
	body := []byte("pragma solidity ^0.8.0; contract Vault {}")
	if err := os.WriteFile(filepath.Join(root, "vault.sol"), body, 0o644); err != nil {
		t.Fatalf("write contract: %v", err)
	}

	r := NewResolver(root, 1<<20)
	c, err := r.Resolve(context.Background(), "vault.sol")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Ref != "vault.sol" {
		t.Fatalf("ref = %q", c.Ref)
	}
	if c.SizeBytes != int64(len(body)) {
		t.Fatalf("size = %d, want %d", c.SizeBytes, len(body))
	}
	sum := sha256.Sum256(body)
	if c.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("sha256 = %s", c.SHA256)
	}
	if !filepath.IsAbs(c.Path) {
		t.Fatalf("path not absolute: %s", c.Path)
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.sol")
	if err := os.WriteFile(outside, []byte("contract X {}"), 0o644); err != nil {
		t.Fatalf("write outside file: %v", err)
	}

	r := NewResolver(root, 0)
	for _, ref := range []string{
		"../secret.sol",
		"a/../../secret.sol",
		outside,
	} {
		if _, err := r.Resolve(context.Background(), ref); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("ref %q: err = %v, want ErrInvalidInput", ref, err)
		}
	}
}

func TestResolveMissingAndEmpty(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "empty.sol"), nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}

	r := NewResolver(root, 0)
	if _, err := r.Resolve(context.Background(), "missing.sol"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("missing: err = %v, want ErrInvalidInput", err)
	}
	if _, err := r.Resolve(context.Background(), "empty.sol"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty: err = %v, want ErrInvalidInput", err)
	}
	if _, err := r.Resolve(context.Background(), "  "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("blank ref: err = %v, want ErrInvalidInput", err)
	}
}

func TestResolveSizeCap(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "big.sol"), make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("write contract: %v", err)
	}

	r := NewResolver(root, 1024)
	if _, err := r.Resolve(context.Background(), "big.sol"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("oversize: err = %v, want ErrInvalidInput", err)
	}
}

func TestResolveWithoutRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct.sol")
	if err := os.WriteFile(path, []byte("contract Direct {}"), 0o644); err != nil {
		t.Fatalf("write contract: %v", err)
	}

	r := NewResolver("", 0)
	c, err := r.Resolve(context.Background(), path)
	if err != nil {
		t.Fatalf("resolve absolute path: %v", err)
	}
	if c.Path != path {
		t.Fatalf("path = %q, want %q", c.Path, path)
	}
}
