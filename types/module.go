// Package types defines the values shared by the host, the spawner and the
// module process.
package types

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// CompiledModule is an already compiled module payload with the slug used to
// attribute logs and errors to it. It is never mutated after creation.
type CompiledModule struct {
	Slug   string   `cbor:"slug"`
	Code   []byte   `cbor:"code"`
	Digest [32]byte `cbor:"digest"`
}

// NewCompiledModule computes the digest of code
func NewCompiledModule(slug string, code []byte) CompiledModule {
	return CompiledModule{
		Slug:   slug,
		Code:   code,
		Digest: blake3.Sum256(code),
	}
}

// Verify checks the code still matches its digest
func (m *CompiledModule) Verify() error {
	if m.Slug == "" {
		return fmt.Errorf("module: empty slug")
	}
	if sum := blake3.Sum256(m.Code); sum != m.Digest {
		return fmt.Errorf("module %s: digest mismatch %s", m.Slug, hex.EncodeToString(sum[:8]))
	}
	return nil
}

// ShortDigest is the first 8 bytes of the digest in hex, for logging
func (m *CompiledModule) ShortDigest() string {
	return hex.EncodeToString(m.Digest[:8])
}

func (m CompiledModule) String() string {
	return fmt.Sprintf("CompiledModule[%s,%s,%v]", m.Slug, m.ShortDigest(), Size(len(m.Code)))
}
