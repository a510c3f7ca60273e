// Package builtin registers the entry points every module process provides.
// Import it for side effects.
package builtin

import (
	"errors"

	"github.com/criyle/go-forkserver/entry"
	"github.com/criyle/go-forkserver/pkg/frame"
	"github.com/criyle/go-forkserver/types"
)

var errEmptyModule = errors.New("module has no code")

func init() {
	entry.Register(types.FuncValidate, entry.Typed(validate))
	entry.Register(types.FuncEcho, entry.Typed(echo))
}

// validate checks the module arrived intact and is not empty
func validate(ctx *entry.Context, _ struct{}) (types.ValidateResult, error) {
	m := ctx.Module
	if err := m.Verify(); err != nil {
		return types.ValidateResult{}, err
	}
	if len(m.Code) == 0 {
		return types.ValidateResult{}, errEmptyModule
	}
	return types.ValidateResult{Digest: m.ShortDigest()}, nil
}

// echo returns its arguments
func echo(_ *entry.Context, args frame.RawMessage) (frame.RawMessage, error) {
	return args, nil
}
