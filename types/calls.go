package types

// Entry point names the kernel calls
const (
	FuncValidate      = "validate"
	FuncMigrateParams = "migrate_params"
	FuncRender        = "render"
	FuncFetch         = "fetch"
	FuncEcho          = "echo"
)

// ValidateResult is returned by the validate entry point
type ValidateResult struct {
	Digest string `cbor:"digest"`
}

// MigrateParamsRequest is the argument of migrate_params
type MigrateParamsRequest struct {
	Params map[string]any `cbor:"params"`
}

// FetchResult points at the file written by a fetch, relative to the base
// directory, with the errors the module reported
type FetchResult struct {
	Filename string   `cbor:"filename,omitempty"`
	Errors   []string `cbor:"errors,omitempty"`
}

// RenderRequest is the argument of render. Paths are as seen by the module.
type RenderRequest struct {
	BaseDir        string         `cbor:"basedir"`
	InputFilename  string         `cbor:"input_filename,omitempty"`
	Params         map[string]any `cbor:"params"`
	TabName        string         `cbor:"tab_name,omitempty"`
	FetchResult    *FetchResult   `cbor:"fetch_result,omitempty"`
	OutputFilename string         `cbor:"output_filename"`
}

// RenderResult is the result of render
type RenderResult struct {
	Filename string         `cbor:"filename,omitempty"`
	Errors   []string       `cbor:"errors,omitempty"`
	JSON     map[string]any `cbor:"json,omitempty"`
}

// FetchRequest is the argument of fetch. Paths are as seen by the module.
type FetchRequest struct {
	BaseDir         string         `cbor:"basedir"`
	Params          map[string]any `cbor:"params"`
	Secrets         map[string]any `cbor:"secrets,omitempty"`
	LastFetchResult *FetchResult   `cbor:"last_fetch_result,omitempty"`
	InputFilename   string         `cbor:"input_filename,omitempty"`
	OutputFilename  string         `cbor:"output_filename"`
}
