package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/garyjia/nfe-danfe/internal/danfe"
	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/internal/export"
	"github.com/garyjia/nfe-danfe/internal/label"
	"github.com/garyjia/nfe-danfe/internal/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newParseCommand(g *globalOptions) *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "parse <nfe.xml>",
		Short: "Print the normalized invoice as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, g)
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			inv, err := a.pipeline.Parse(f)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(a.stdout)
			if !compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(inv)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Print JSON on a single line")
	return cmd
}

func newDanfeCommand(g *globalOptions) *cobra.Command {
	var (
		output string
		page   int
	)

	cmd := &cobra.Command{
		Use:   "danfe <nfe.xml>",
		Short: "Render the DANFE as PDF, or one page as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, g)
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			res, err := processFile(a, args[0], pipeline.Options{Document: true})
			if err != nil {
				return err
			}

			data := res.Document
			if page > 0 {
				if data, err = danfe.Rasterize(res.Document, page-1); err != nil {
					return err
				}
			}

			if output == "" {
				ext := ".pdf"
				if page > 0 {
					ext = fmt.Sprintf("-%d.png", page)
				}
				output = "danfe-" + res.Invoice.Identification.AccessKey + ext
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return err
			}

			a.logger.Info("DANFE written", zap.String("path", output))
			fmt.Fprintln(a.stdout, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default danfe-<key>.pdf)")
	cmd.Flags().IntVar(&page, "png", 0, "Rasterize this page (1-based) to PNG instead of writing the PDF")
	return cmd
}

type labelFlags struct {
	count       int
	consolidate bool
	unNumber    string
	risk        string
	class       string
}

func (f *labelFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.count, "count", 0, "Number of volumes (default: declared in the invoice)")
	cmd.Flags().BoolVar(&f.consolidate, "consolidate", false, "Add a master label over the whole set")
	cmd.Flags().StringVar(&f.unNumber, "un", "", "Hazard override: UN number")
	cmd.Flags().StringVar(&f.risk, "risk", "", "Hazard override: risk code")
	cmd.Flags().StringVar(&f.class, "class", "", "Hazard override: class")
}

func (f *labelFlags) options() label.DeriveOptions {
	opts := label.DeriveOptions{Count: f.count, Consolidate: f.consolidate}
	if un := strings.TrimSpace(f.unNumber); un != "" {
		opts.Hazard = &entity.Hazard{UNNumber: un, RiskCode: f.risk, Classification: f.class}
	}
	return opts
}

func newLabelsCommand(g *globalOptions) *cobra.Command {
	var (
		lf     labelFlags
		output string
		format string
	)

	cmd := &cobra.Command{
		Use:   "labels <nfe.xml>",
		Short: "Derive volume labels and print them as PDF, XLSX manifest or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "pdf", "xlsx", "json":
			default:
				return fmt.Errorf("unknown format %q (want pdf, xlsx or json)", format)
			}

			a, err := setup(cmd, g)
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			res, err := processFile(a, args[0], pipeline.Options{
				Labels:     lf.options(),
				LabelSheet: format == "pdf",
			})
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "pdf":
				data = res.LabelSheet
			case "xlsx":
				data, err = export.NewWriter(a.logger).LabelManifest(res.Labels.Volumes, res.Labels.Master)
			case "json":
				data, err = json.MarshalIndent(res.Labels, "", "  ")
			}
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = a.stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, output)
			return nil
		},
	}
	lf.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file; stdout when empty")
	cmd.Flags().StringVar(&format, "format", "pdf", "Output format: pdf, xlsx or json")
	return cmd
}

func processFile(a *app, path string, opts pipeline.Options) (*pipeline.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return a.pipeline.Process(f, opts)
}
