package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arduino/libraries-repository-engine/internal/render"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Set     []string // name=value pairs
	JSON    bool     // escape values as JSON string content
	Reverse bool     // templatize instead of render
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <template|->",
		Short: "Render a ${name} template",
		Long: `Substitute ${name} placeholders in a template file (or stdin with "-") and
print the result. $$ renders as a literal $. With --reverse the input is a
rendered document and values are replaced by their placeholders.

Examples:
  engine-verify render --set base_download_url=https://example.com/ db.json
  engine-verify render --json --set checksum_placeholder=SHA-256:... db.json
  engine-verify render --reverse --set working_dir=/tmp/run db.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "template value as name=value (repeatable)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "escape values for JSON string content")
	cmd.Flags().BoolVar(&opts.Reverse, "reverse", false, "replace values by placeholders")

	return cmd
}

func runRender(opts *RenderOptions, path string, cmd *cobra.Command) error {
	values, err := parseValues(opts.Set)
	if err != nil {
		return err
	}

	var data []byte
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read template", err)
	}

	var renderOpts []render.Option
	if opts.JSON {
		renderOpts = append(renderOpts, render.WithEscaper(render.JSONString))
	}

	var out []byte
	if opts.Reverse {
		out = render.Templatize(data, values, renderOpts...)
	} else {
		out, err = render.Render(data, values, renderOpts...)
		if err != nil {
			return WrapExitError(ExitFailure, "render failed", err)
		}
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(map[string]any{"output": string(out)})
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// parseValues reads name=value pairs.
func parseValues(pairs []string) (render.Values, error) {
	values := render.Values{}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --set %q: want name=value", p))
		}
		values[name] = value
	}
	return values, nil
}
