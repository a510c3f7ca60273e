package kernel

import (
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/criyle/go-forkserver/kernel"

// Attribute keys of call spans
var (
	AttrCallID   = attribute.Key("forkserver.call.id")
	AttrSlug     = attribute.Key("forkserver.module.slug")
	AttrFunction = attribute.Key("forkserver.function")
	AttrPid      = attribute.Key("forkserver.pid")
	AttrOutcome  = attribute.Key("forkserver.outcome")
	AttrExitCode = attribute.Key("forkserver.exit_code")
)
