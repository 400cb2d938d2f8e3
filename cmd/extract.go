package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/clinicsync/harvest-cli/internal/extract"
	"github.com/clinicsync/harvest-cli/internal/model"
	"github.com/clinicsync/harvest-cli/internal/source"
)

// defaultExtractID is a known-good identifier used when none is given.
const defaultExtractID = 3

var extractCmd = &cobra.Command{
	Use:   "extract [id]",
	Short: "Extract a single patient record by identifier",
	Long: `Looks up one identifier, extracts the full record and its visit
history, prints a summary, and writes the result as JSON into the
export directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.ValidateSource(); err != nil {
		return err
	}

	id := defaultExtractID
	if len(args) == 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed < 1 {
			return eris.Errorf("extract: invalid identifier %q", args[0])
		}
		id = parsed
	}

	src, err := source.NewWebSource(ctx, source.WebConfig{
		BaseURL:  cfg.Source.BaseURL,
		Username: cfg.Source.Username,
		Password: cfg.Source.Password,
		Timeout:  cfg.Source.Timeout(),
	})
	if err != nil {
		return eris.Wrap(err, "extract: open source session")
	}
	defer src.Close()

	if err := src.Reset(ctx); err != nil {
		return err
	}
	found, err := src.Search(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return eris.Errorf("extract: identifier %d not found", id)
	}
	if err := src.FocusFirstResult(ctx); err != nil {
		return err
	}

	ex := extract.New(src, nil)
	patient, err := ex.Record(ctx)
	if err != nil {
		return err
	}
	evolutions, err := ex.Evolutions(ctx, patient.ExternalID)
	if err != nil {
		return err
	}

	if err := writeExtract(cfg.Export.Dir, id, patient, evolutions); err != nil {
		return err
	}

	cmd.Printf("Patient: %s %s (hc %s)\n", patient.Lastname, patient.Name, patient.ExternalID)
	cmd.Printf("Document: %s\n", patient.Document)
	cmd.Printf("Debt: $%s / USD %s\n", patient.DebtPesos, patient.DebtDollars)
	cmd.Printf("Evolutions: %d\n", len(evolutions))
	return nil
}

func writeExtract(dir string, id int, patient *model.Patient, evolutions []model.Evolution) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "extract: create output dir")
	}

	payload := struct {
		Patient    *model.Patient    `json:"patient"`
		Evolutions []model.Evolution `json:"evolutions"`
	}{patient, evolutions}
	if payload.Evolutions == nil {
		payload.Evolutions = []model.Evolution{}
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return eris.Wrap(err, "extract: marshal")
	}

	path := filepath.Join(dir, "paciente_"+strconv.Itoa(id)+".json")
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "extract: write %s", path)
}
