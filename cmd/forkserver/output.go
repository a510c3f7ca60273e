package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/criyle/go-forkserver/types"
	"gopkg.in/yaml.v3"
)

func writeOutput(w io.Writer, v any) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", output)
}

// loadModule reads a module file, the slug defaults to the file name
func loadModule(path, slug string) (types.CompiledModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return types.CompiledModule{}, fmt.Errorf("reading module: %w", err)
	}
	if slug == "" {
		slug = slugFromPath(path)
	}
	return types.NewCompiledModule(slug, code), nil
}
