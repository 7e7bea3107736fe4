package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JonMunkholm/lacvalidator/internal/core"
)

type validateOptions struct {
	files             []string
	codes             []string
	metadata          string
	exportSummaries   []string
	exportSpreadsheet bool
	output            string
}

func (o *validateOptions) register(fs *pflag.FlagSet) {
	fs.StringArrayVarP(&o.files, "file", "f", nil, "table file to validate, as path or path=description (repeatable)")
	fs.StringSliceVarP(&o.codes, "code", "c", nil, "rule codes to run (default: whole catalog)")
	fs.StringVarP(&o.metadata, "metadata", "m", "", "metadata as a JSON object, or @file")
	fs.StringSliceVar(&o.exportSummaries, "export-summary", nil, "save CSV summaries of these kinds after validating")
	fs.BoolVar(&o.exportSpreadsheet, "export-spreadsheet", false, "save the spreadsheet report after validating")
	fs.StringVarP(&o.output, "output", "o", "-", "write the result JSON here")
}

// validationClient is the part of the bridge the validate command drives.
type validationClient interface {
	LoadRuntime(ctx context.Context, onProgress func(string)) error
	HandleUploaded903Data(ctx context.Context, files []core.UploadedFile, selected []core.ErrorSelected, metadata core.UploadMetadata) (core.ValidationResult, []string, error)
	LoadErrorDefinitions(ctx context.Context) ([]core.ErrorDefinition, error)
	SaveErrorSummary(ctx context.Context, kind string) error
	SaveExcelSummary(ctx context.Context) error
}

type validateOutput struct {
	Result core.ValidationResult `json:"result"`
	Errors []string              `json:"errors"`
}

func newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate files once and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			client, closeBridge, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer closeBridge()

			out := cmd.OutOrStdout()
			if opts.output != "-" {
				f, err := os.Create(opts.output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return runValidate(cmd.Context(), client, opts, out, cmd.ErrOrStderr())
		},
	}
	opts.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runValidate(ctx context.Context, client validationClient, opts *validateOptions, out, progress io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	files, err := readFiles(opts.files)
	if err != nil {
		return err
	}
	metadata, err := parseMetadata(opts.metadata)
	if err != nil {
		return err
	}

	if err := client.LoadRuntime(ctx, func(text string) {
		fmt.Fprintln(progress, text)
	}); err != nil {
		return explain(err)
	}

	selected, err := selection(ctx, client, opts.codes)
	if err != nil {
		return explain(err)
	}

	result, lines, err := client.HandleUploaded903Data(ctx, files, selected, metadata)
	if err != nil {
		return explain(err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(validateOutput{Result: result, Errors: lines}); err != nil {
		return err
	}
	if len(lines) > 0 {
		return fmt.Errorf("validation failed: %s", lines[0])
	}

	for _, kind := range opts.exportSummaries {
		if err := client.SaveErrorSummary(ctx, kind); err != nil {
			return explain(err)
		}
	}
	if opts.exportSpreadsheet {
		if err := client.SaveExcelSummary(ctx); err != nil {
			return explain(err)
		}
	}
	return nil
}

// explain puts the user-facing message and code in front of errors the
// rule-engine layer recognises. Unknown errors are returned unchanged.
func explain(err error) error {
	if !core.IsUserFacing(err) {
		return err
	}
	return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
}

// selection selects codes, or the whole catalog when codes is empty.
func selection(ctx context.Context, client validationClient, codes []string) ([]core.ErrorSelected, error) {
	if len(codes) == 0 {
		defs, err := client.LoadErrorDefinitions(ctx)
		if err != nil {
			return nil, err
		}
		return core.Selection(defs), nil
	}

	selected := make([]core.ErrorSelected, 0, len(codes))
	for _, code := range codes {
		selected = append(selected, core.ErrorSelected{Code: code, Selected: true})
	}
	return selected, nil
}

// readFiles reads "path" or "path=description" file specs. The
// description defaults to the file name without its extension.
func readFiles(specs []string) ([]core.UploadedFile, error) {
	if len(specs) == 0 {
		return nil, errors.New("no files provided")
	}

	files := make([]core.UploadedFile, 0, len(specs))
	for _, spec := range specs {
		path, description, ok := strings.Cut(spec, "=")
		if !ok {
			base := filepath.Base(path)
			description = strings.TrimSuffix(base, filepath.Ext(base))
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, core.UploadedFile{
			Name:        filepath.Base(path),
			Description: description,
			FileContent: content,
		})
	}
	return files, nil
}

func parseMetadata(raw string) (core.UploadMetadata, error) {
	metadata := core.UploadMetadata{}
	if raw == "" {
		return metadata, nil
	}

	data := []byte(raw)
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read metadata: %w", err)
		}
		data = b
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return metadata, nil
}
