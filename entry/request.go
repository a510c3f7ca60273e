package entry

import (
	"github.com/criyle/go-forkserver/pkg/frame"
	"github.com/criyle/go-forkserver/sandbox"
	"github.com/criyle/go-forkserver/types"
)

// Request is the payload a module process reads on start
type Request struct {
	Function string               `cbor:"function"`
	Module   types.CompiledModule `cbor:"module"`
	Args     frame.RawMessage     `cbor:"args,omitempty"`
	Sandbox  sandbox.Config       `cbor:"sandbox"`
}

// EncodeRequest frames r as the payload of a spawn
func EncodeRequest(r *Request) ([]byte, error) {
	return frame.Encode(r)
}
