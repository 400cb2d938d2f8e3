// Package checkpoint persists harvest progress as a three-artifact
// snapshot: a patient spreadsheet, a quoted CSV of evolutions, and a
// JSON backup that can be reloaded losslessly.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/clinicsync/harvest-cli/internal/model"
)

// Backup is the structured snapshot payload. It is the only artifact
// the consolidator reads back.
type Backup struct {
	Patients   []model.Patient   `json:"patients"`
	Evolutions []model.Evolution `json:"evolutions"`
}

// Snapshot describes one written checkpoint.
type Snapshot struct {
	Label           string
	SpreadsheetPath string
	EvolutionsPath  string // empty when there were no evolutions
	BackupPath      string
	Patients        int
	Evolutions      int
}

// Writer writes checkpoint snapshots under Dir.
type Writer struct {
	Dir string

	// now is swapped in tests for deterministic labels.
	now func() time.Time
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, now: time.Now}
}

// Flush writes one snapshot of the accumulated records. Progress
// flushes and the final flush differ only in the label tag. Safe to
// call with empty or partially-filled accumulators: the evolutions CSV
// is skipped when there is nothing to put in it.
func (w *Writer) Flush(patients []model.Patient, evolutions []model.Evolution, final bool) (*Snapshot, error) {
	tag := "progress"
	if final {
		tag = "FINAL"
	}
	return w.FlushLabeled(patients, evolutions, tag+"_"+w.timestamp())
}

// FlushLabeled writes one snapshot under an explicit label. The
// consolidator uses it for the merged dataset.
func (w *Writer) FlushLabeled(patients []model.Patient, evolutions []model.Evolution, label string) (*Snapshot, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "checkpoint: create output dir")
	}

	snap := &Snapshot{
		Label:      label,
		Patients:   len(patients),
		Evolutions: len(evolutions),
	}

	snap.SpreadsheetPath = filepath.Join(w.Dir, "pacientes_"+label+".xlsx")
	if err := writeSpreadsheet(snap.SpreadsheetPath, patients); err != nil {
		return nil, err
	}

	if len(evolutions) > 0 {
		snap.EvolutionsPath = filepath.Join(w.Dir, "evoluciones_"+label+".csv")
		if err := writeEvolutionsCSV(snap.EvolutionsPath, evolutions); err != nil {
			return nil, err
		}
	}

	snap.BackupPath = filepath.Join(w.Dir, "backup_"+label+".json")
	if err := writeBackup(snap.BackupPath, patients, evolutions); err != nil {
		return nil, err
	}

	zap.L().Info("checkpoint written",
		zap.String("label", label),
		zap.Int("patients", len(patients)),
		zap.Int("evolutions", len(evolutions)),
	)
	return snap, nil
}

// Load reads a structured backup written by a previous flush.
func Load(path string) (*Backup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: read backup %s", path)
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: parse backup %s", path)
	}
	return &b, nil
}

// timestamp yields a filename-safe UTC minute label.
func (w *Writer) timestamp() string {
	return w.now().UTC().Format("2006-01-02T15-04")
}

func writeSpreadsheet(path string, patients []model.Patient) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Pacientes")
	if err != nil {
		return eris.Wrap(err, "checkpoint: add sheet")
	}

	headerStyle := xlsx.NewStyle()
	headerStyle.Font.Bold = true
	headerStyle.Font.Color = "FFFFFFFF"
	headerStyle.Fill = *xlsx.NewFill("solid", "FF0066CC", "FF0066CC")
	headerStyle.ApplyFont = true
	headerStyle.ApplyFill = true

	header := sheet.AddRow()
	for _, col := range model.PatientColumns {
		cell := header.AddCell()
		cell.Value = col
		cell.SetStyle(headerStyle)
	}

	for i := range patients {
		row := sheet.AddRow()
		for _, value := range patients[i].Row() {
			row.AddCell().Value = value
		}
	}

	return eris.Wrapf(file.Save(path), "checkpoint: save %s", path)
}

// writeEvolutionsCSV writes the evolutions file in the fixed exchange
// format: unquoted header, every data field double-quoted with inner
// quotes doubled and newlines collapsed to spaces.
func writeEvolutionsCSV(path string, evolutions []model.Evolution) error {
	lines := make([]string, 0, len(evolutions)+1)
	lines = append(lines, strings.Join(model.EvolutionColumns, ","))

	for i := range evolutions {
		fields := evolutions[i].Row()
		quoted := make([]string, len(fields))
		for j, f := range fields {
			quoted[j] = quoteField(f)
		}
		lines = append(lines, strings.Join(quoted, ","))
	}

	err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
	return eris.Wrapf(err, "checkpoint: write %s", path)
}

func quoteField(s string) string {
	s = strings.ReplaceAll(s, `"`, `""`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return `"` + s + `"`
}

func writeBackup(path string, patients []model.Patient, evolutions []model.Evolution) error {
	b := Backup{Patients: patients, Evolutions: evolutions}
	if b.Patients == nil {
		b.Patients = []model.Patient{}
	}
	if b.Evolutions == nil {
		b.Evolutions = []model.Evolution{}
	}

	data, err := json.MarshalIndent(&b, "", "  ")
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal backup")
	}
	err = os.WriteFile(path, data, 0o644)
	return eris.Wrapf(err, "checkpoint: write %s", path)
}
