// Package extract turns a focused source record into model values.
package extract

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clinicsync/harvest-cli/internal/model"
	"github.com/clinicsync/harvest-cli/internal/normalize"
	"github.com/clinicsync/harvest-cli/internal/source"
)

// ErrEmptyResult means the focused record resolved neither an
// identifier nor a surname. The loop treats it like a not-found, not
// as a failure of the step itself.
var ErrEmptyResult = eris.New("extract: record has no identifier and no surname")

// DebtPredicate decides whether a balance marker counts as debt. The
// source's convention (debt amounts carry a highlight) is a heuristic,
// so it stays injectable.
type DebtPredicate func(source.DebtMarker) bool

// FlaggedAsDebt is the default predicate: only amounts the source
// styles as debt count.
func FlaggedAsDebt(m source.DebtMarker) bool { return m.Flagged }

// Extractor reads one patient and its visit history from a source
// session that currently has a record focused.
type Extractor struct {
	src    source.Source
	isDebt DebtPredicate
}

// New creates an Extractor. A nil predicate means FlaggedAsDebt.
func New(src source.Source, isDebt DebtPredicate) *Extractor {
	if isDebt == nil {
		isDebt = FlaggedAsDebt
	}
	return &Extractor{src: src, isDebt: isDebt}
}

// Record reads and normalizes the focused record. Returns
// ErrEmptyResult when the required identity fields are entirely absent.
func (e *Extractor) Record(ctx context.Context) (*model.Patient, error) {
	fields, err := e.src.ReadRecordFields(ctx)
	if err != nil {
		return nil, err
	}

	lastname, name := normalize.SplitFullName(fields.Get("full_name"))

	p := &model.Patient{
		ExternalID:         fields.Get("clinical_history_number"),
		Name:               name,
		Lastname:           lastname,
		Document:           fields.Get("document_number"),
		Email:              fields.Get("email"),
		Address:            fields.Get("address"),
		Municipality:       fields.Get("city"),
		Province:           fields.Get("state"),
		Phone:              phone(fields),
		HealthInsurance:    fields.Get("holder_name"),
		HealthInsuranceNum: fields.Get("affiliate_number"),
		BirthDate:          normalize.AssembleDate(fields.BirthDay, fields.BirthMonth, fields.BirthYear),
		GenderID:           normalize.Gender(fields.GenderLabel),
		DebtPesos:          e.debt(fields, "$"),
		DebtDollars:        e.debt(fields, "USD"),
	}

	if p.ExternalID == "" && p.Lastname == "" {
		return nil, ErrEmptyResult
	}
	return p, nil
}

// Evolutions navigates to the history view of the focused record and
// reads its visit entries. A navigation failure yields an empty list:
// the patient record itself is still worth keeping.
func (e *Extractor) Evolutions(ctx context.Context, externalID string) ([]model.Evolution, error) {
	if err := e.src.GoTo(ctx, source.ViewMedicalHistory); err != nil {
		zap.L().Warn("history view unavailable, skipping evolutions",
			zap.String("external_id", externalID),
			zap.Error(err),
		)
		return nil, nil
	}

	rows, err := e.src.ReadEvolutionRows(ctx)
	if err != nil {
		return nil, err
	}

	evolutions := make([]model.Evolution, 0, len(rows))
	for _, row := range rows {
		evolutions = append(evolutions, model.Evolution{
			ExternalID: externalID,
			Date:       normalize.ReformatDate(row.Date),
			Doctor:     row.Doctor,
			Content:    row.Content,
		})
	}
	return evolutions, nil
}

// phone joins dialing prefix and local number into one canonical value.
func phone(fields *source.Fields) string {
	raw := fields.Get("mobile_phone")
	if raw == "" {
		raw = fields.Get("cellphone")
	}
	prefix, number := normalize.Phone(raw)
	return prefix + number
}

// debt picks the first marker of the wanted currency that the
// predicate accepts and normalizes its amount.
func (e *Extractor) debt(fields *source.Fields, currency string) string {
	for _, m := range fields.Debts {
		if m.Currency != currency {
			continue
		}
		if e.isDebt(m) {
			return normalize.Currency(m.Raw, true)
		}
	}
	return "0"
}
