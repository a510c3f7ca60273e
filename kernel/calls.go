package kernel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/criyle/go-forkserver/sandbox"
	"github.com/criyle/go-forkserver/types"
)

// errWrongOutputFile is the stderr of a call whose result names a file other
// than the one it was given
const errWrongOutputFile = "module wrote to wrong output file"

// RenderCall is a render of a module. Paths are host paths: BaseDir lies
// inside Root and holds the input and output files.
type RenderCall struct {
	Root           string
	BaseDir        string
	InputFilename  string
	Params         map[string]any
	TabName        string
	FetchResult    *types.FetchResult
	OutputFilename string
}

// FetchCall is a fetch of a module. Paths are as in RenderCall.
type FetchCall struct {
	Root            string
	BaseDir         string
	Params          map[string]any
	Secrets         map[string]any
	LastFetchResult *types.FetchResult
	InputFilename   string
	OutputFilename  string
}

// Validate runs the module in a sandbox with no network and the base root
// read-only. It fails when the module does not load.
func (k *Kernel) Validate(ctx context.Context, module types.CompiledModule) error {
	var result types.ValidateResult
	return k.Run(ctx, Call{
		Module:   module,
		Function: types.FuncValidate,
		Sandbox:  k.readonlySandbox(),
		Timeout:  k.config.Timeouts.Validate,
	}, &result)
}

// MigrateParams returns params converted by the module to its current
// parameter schema
func (k *Kernel) MigrateParams(ctx context.Context, module types.CompiledModule, params map[string]any) (map[string]any, error) {
	var result map[string]any
	err := k.Run(ctx, Call{
		Module:   module,
		Function: types.FuncMigrateParams,
		Args:     types.MigrateParamsRequest{Params: params},
		Sandbox:  k.readonlySandbox(),
		Timeout:  k.config.Timeouts.MigrateParams,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Render renders the input file into the output file
func (k *Kernel) Render(ctx context.Context, module types.CompiledModule, c RenderCall) (types.RenderResult, error) {
	sb, base, err := k.outputSandbox(c.Root, c.BaseDir, c.OutputFilename)
	if err != nil {
		return types.RenderResult{}, err
	}
	var result types.RenderResult
	err = k.Run(ctx, Call{
		Module:   module,
		Function: types.FuncRender,
		Args: types.RenderRequest{
			BaseDir:        base,
			InputFilename:  c.InputFilename,
			Params:         c.Params,
			TabName:        c.TabName,
			FetchResult:    c.FetchResult,
			OutputFilename: c.OutputFilename,
		},
		Sandbox: sb,
		Timeout: k.config.Timeouts.Render,
	}, &result)
	if err != nil {
		return types.RenderResult{}, err
	}
	if err := checkOutputFile(module, types.FuncRender, result.Filename, c.OutputFilename); err != nil {
		return types.RenderResult{}, err
	}
	return result, nil
}

// Fetch fetches data into the output file
func (k *Kernel) Fetch(ctx context.Context, module types.CompiledModule, c FetchCall) (types.FetchResult, error) {
	sb, base, err := k.outputSandbox(c.Root, c.BaseDir, c.OutputFilename)
	if err != nil {
		return types.FetchResult{}, err
	}
	var result types.FetchResult
	err = k.Run(ctx, Call{
		Module:   module,
		Function: types.FuncFetch,
		Args: types.FetchRequest{
			BaseDir:         base,
			Params:          c.Params,
			Secrets:         c.Secrets,
			LastFetchResult: c.LastFetchResult,
			InputFilename:   c.InputFilename,
			OutputFilename:  c.OutputFilename,
		},
		Sandbox: sb,
		Timeout: k.config.Timeouts.Fetch,
	}, &result)
	if err != nil {
		return types.FetchResult{}, err
	}
	if err := checkOutputFile(module, types.FuncFetch, result.Filename, c.OutputFilename); err != nil {
		return types.FetchResult{}, err
	}
	return result, nil
}

func (k *Kernel) readonlySandbox() sandbox.Config {
	sb := k.config.Sandbox
	sb.Network = false
	sb.WritablePath = ""
	return sb
}

// outputSandbox creates the empty output file and returns the sandbox with
// that single file writable, together with the base directory as the module
// sees it. The root is only enforced by the filesystem step, so the call
// fails without it.
func (k *Kernel) outputSandbox(root, baseDir, output string) (sandbox.Config, string, error) {
	sb := k.config.Sandbox
	if sb.Steps&sandbox.StepFilesystem == 0 {
		return sandbox.Config{}, "", fmt.Errorf("kernel: %w", sandbox.ErrRootNotEnforced)
	}
	if output == "" || output != filepath.Base(output) {
		return sandbox.Config{}, "", fmt.Errorf("kernel: invalid output filename %q", output)
	}
	rel, err := filepath.Rel(root, baseDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return sandbox.Config{}, "", fmt.Errorf("kernel: base directory %q is outside root %q", baseDir, root)
	}

	f, err := os.OpenFile(filepath.Join(baseDir, output), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return sandbox.Config{}, "", fmt.Errorf("kernel: create output file: %w", err)
	}
	f.Close()

	sb.Root = root
	sb.WritablePath = filepath.Join("/", rel, output)
	sb.Network = true
	return sb, filepath.Join("/", rel), nil
}

func checkOutputFile(module types.CompiledModule, function, got, want string) error {
	if got == "" || got == want {
		return nil
	}
	return &ModuleError{
		Kind:     KindExited,
		Slug:     module.Slug,
		Function: function,
		Stderr:   errWrongOutputFile,
	}
}
