package main

import (
	"context"
	"os"

	"github.com/criyle/go-forkserver/types"
	"github.com/spf13/cobra"
)

type validateResult struct {
	Slug   string `json:"slug" yaml:"slug"`
	Digest string `json:"digest" yaml:"digest"`
	Size   string `json:"size" yaml:"size"`
}

func newValidateCmd() *cobra.Command {
	var path, slug string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a module loads in the validation sandbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.Context(), path, slug)
		},
	}
	cmd.Flags().StringVar(&path, "module", "", "Module file")
	cmd.Flags().StringVar(&slug, "slug", "", "Module slug (default file name)")
	cmd.MarkFlagRequired("module")
	return cmd
}

func runValidate(ctx context.Context, path, slug string) error {
	module, err := loadModule(path, slug)
	if err != nil {
		return err
	}
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.kernel.Validate(ctx, module); err != nil {
		return err
	}
	return writeOutput(os.Stdout, validateResult{
		Slug:   module.Slug,
		Digest: module.ShortDigest(),
		Size:   types.Size(len(module.Code)).String(),
	})
}
