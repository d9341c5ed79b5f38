// Command riskctl runs the risk pipeline from the command line and manages
// artifacts and feedback exports for operators.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cardiovision-risk-engine/internal/assembler"
	"github.com/cardiovision-risk-engine/internal/config"
	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/feedback"
	"github.com/cardiovision-risk-engine/internal/fixtures"
	"github.com/cardiovision-risk-engine/internal/logging"
	"github.com/cardiovision-risk-engine/internal/service"
)

// options are the global flags shared by every subcommand
type options struct {
	artifactDir string
	dataDir     string
	threshold   float64
	logLevel    string
	asJSON      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	lite := config.LoadLiteConfig()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "riskctl",
		Short:         "Heart attack risk assessment and explanation tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.artifactDir, "artifacts", "a", lite.ArtifactDir, "Directory holding preprocessor.json, the model and population.csv")
	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", lite.DataDir, "Directory holding the feedback database")
	rootCmd.PersistentFlags().Float64Var(&opts.threshold, "threshold", lite.Pipeline.RiskThreshold, "Probability above which a patient is High Risk")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print JSON instead of text")

	rootCmd.AddCommand(assessCmd(opts, lite))
	rootCmd.AddCommand(validateCmd(opts, lite))
	rootCmd.AddCommand(inspectCmd(opts, lite))
	rootCmd.AddCommand(demoArtifactsCmd())
	rootCmd.AddCommand(sampleRecordCmd())
	rootCmd.AddCommand(exportFeedbackCmd(opts))
	rootCmd.AddCommand(importFeedbackCmd(opts))

	return rootCmd
}

// assessCmd runs the full pipeline on a record file
func assessCmd(opts *options, lite *config.LiteConfig) *cobra.Command {
	var recordPath string

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Estimate and explain the heart attack risk of one patient record",
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := readRecord(recordPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			svc, err := buildService(opts, lite)
			if err != nil {
				return err
			}

			result, err := svc.CalculateRisk(cmd.Context(), record)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, result)
			}
			fmt.Fprintf(out, "Assessment: %s\n", result.ID)
			fmt.Fprintf(out, "Risk: %s (probability %.1f%%, threshold %.2f)\n", result.RiskLabel, result.Probability*100, result.Threshold)
			fmt.Fprintf(out, "Model: %s %s\n", result.ModelKind, result.ModelVersion)
			fmt.Fprintf(out, "Explanation status: %s\n\n", result.ExplanationStatus)
			fmt.Fprintln(out, result.ExplanationText)
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&recordPath, "record", "r", "", "Patient record JSON file (- for stdin)")
	_ = cmd.MarkFlagRequired("record")
	return cmd
}

// validateCmd checks a record without running the model
func validateCmd(opts *options, lite *config.LiteConfig) *cobra.Command {
	var recordPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a patient record for missing or malformed fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := readRecord(recordPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			svc, err := buildService(opts, lite)
			if err != nil {
				return err
			}

			fv, err := svc.ValidateRecord(cmd.Context(), record)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, fv)
			}
			fmt.Fprintf(out, "Record is valid (%d features)\n", fv.Len())
			for _, name := range fv.Names() {
				v, _ := fv.Get(name)
				fmt.Fprintf(out, "  %-26s %s\n", name, v)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&recordPath, "record", "r", "", "Patient record JSON file (- for stdin)")
	_ = cmd.MarkFlagRequired("record")
	return cmd
}

// inspectCmd describes the loaded artifacts
func inspectCmd(opts *options, lite *config.LiteConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Describe the model, transform and explainer in the artifact directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(opts, lite)
			if err != nil {
				return err
			}
			desc := svc.DescribeModel()

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, desc)
			}
			fmt.Fprintf(out, "Model:        %s %s\n", desc.ModelKind, desc.ModelVersion)
			fmt.Fprintf(out, "Path:         %s\n", desc.ModelPath)
			fmt.Fprintf(out, "Transform:    %s (%d inputs, %d encoded columns)\n", desc.PreprocessorVersion, len(desc.InputFeatures), len(desc.EncodedColumns))
			fmt.Fprintf(out, "Explainer:    %s\n", desc.Explainer)
			fmt.Fprintf(out, "Background:   %d rows\n", desc.BackgroundRows)
			fmt.Fprintf(out, "Threshold:    %.2f\n", desc.RiskThreshold)
			return nil
		},
	}
}

// demoArtifactsCmd writes a self-consistent artifact set for trials
func demoArtifactsCmd() *cobra.Command {
	var (
		outDir     string
		kind       string
		population int
		seed       uint64
	)

	cmd := &cobra.Command{
		Use:   "demo-artifacts",
		Short: "Write demo preprocessor, model and population artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fixtures.WriteArtifacts(outDir, kind, population, seed); err != nil {
				return fmt.Errorf("failed to write artifacts: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s demo artifacts to %s\n", kind, outDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "./artifacts", "Output directory")
	cmd.Flags().StringVar(&kind, "kind", "tree", "Model family: tree or neural")
	cmd.Flags().IntVar(&population, "population", 500, "Rows in the synthetic background population")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Seed for the synthetic population")
	return cmd
}

// sampleRecordCmd prints a demo patient record to start from
func sampleRecordCmd() *cobra.Command {
	var risk string

	cmd := &cobra.Command{
		Use:   "sample-record",
		Short: "Print a demo patient record as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(risk) {
			case "high":
				return writeJSON(cmd.OutOrStdout(), fixtures.HighRiskRecord())
			case "low":
				return writeJSON(cmd.OutOrStdout(), fixtures.LowRiskRecord())
			default:
				return fmt.Errorf("unknown risk level %q (want high or low)", risk)
			}
		},
	}

	cmd.Flags().StringVar(&risk, "risk", "high", "Which demo patient to print: high or low")
	return cmd
}

// exportFeedbackCmd dumps the local feedback database as JSON
func exportFeedbackCmd(opts *options) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export-feedback",
		Short: "Export clinician feedback from the local database",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openFeedback(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", outPath, err)
				}
				defer f.Close()
				out = f
			}
			return store.ExportJSON(cmd.Context(), out)
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "Output file (- for stdout)")
	return cmd
}

// importFeedbackCmd loads a feedback export into the local database
func importFeedbackCmd(opts *options) *cobra.Command {
	var inPath string

	cmd := &cobra.Command{
		Use:   "import-feedback",
		Short: "Import a feedback export into the local database",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(inPath)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", inPath, err)
			}
			defer f.Close()

			store, err := openFeedback(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			imported, skipped, err := store.ImportJSON(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries, skipped %d already present\n", imported, skipped)
			return nil
		},
	}

	cmd.Flags().StringVarP(&inPath, "in", "i", "", "Feedback export file")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func buildService(opts *options, lite *config.LiteConfig) (*service.RiskService, error) {
	logger := logging.NewLogger(domain.LoggingConfig{Level: opts.logLevel, Format: "text", Output: "stderr"})

	artifactCfg := lite.Artifacts()
	artifactCfg.Dir = opts.artifactDir

	asm := assembler.NewDefault()
	artifacts, err := service.LoadArtifacts(artifactCfg, asm, logger)
	if err != nil {
		return nil, err
	}

	pipeline := lite.Pipeline
	pipeline.RiskThreshold = opts.threshold
	logger.WithFields(logrus.Fields{
		"artifacts": artifactCfg.Dir,
		"threshold": pipeline.RiskThreshold,
	}).Debug("Artifacts loaded")

	return service.NewRiskService(logger, asm, artifacts, pipeline)
}

func openFeedback(opts *options) (*feedback.SQLiteStore, error) {
	if err := os.MkdirAll(opts.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return feedback.NewSQLiteStore(filepath.Join(opts.dataDir, "feedback.db"))
}

func readRecord(path string, stdin io.Reader) (domain.PatientRecord, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open record: %w", err)
		}
		defer f.Close()
		r = f
	}

	var record domain.PatientRecord
	if err := json.NewDecoder(r).Decode(&record); err != nil {
		return nil, fmt.Errorf("record is not a JSON object of sections: %w", err)
	}
	return record, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
