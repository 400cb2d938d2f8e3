// Package source defines the boundary to the interactive record
// source. The harvest loop only ever talks to the Source interface;
// the web implementation deals with the session and the DOM.
package source

import (
	"context"

	"github.com/rotisserie/eris"
)

// Views reachable through GoTo.
const (
	ViewPersonalData   = "personal-data"
	ViewMedicalHistory = "medical-history"
)

// ErrSessionDead marks the session as unusable (login rejected, session
// expired mid-run). It is never retried at the identifier level; the
// loop flushes what it has and exits.
var ErrSessionDead = eris.New("source session is dead")

// DebtMarker is one balance amount shown on the focused record, along
// with whether the source displays it as an outstanding debt. Which
// markers count as debt is decided by the extractor's predicate, not
// here.
type DebtMarker struct {
	Raw      string // e.g. "$ 1.234,56" or "USD 500,00"
	Currency string // "$" or "USD"
	Flagged  bool   // displayed with the source's debt styling
}

// Fields is the raw field map read off a focused record.
type Fields struct {
	Values      map[string]string // input name -> trimmed value
	BirthDay    string
	BirthMonth  string
	BirthYear   string
	GenderLabel string
	Debts       []DebtMarker
}

// Get returns the named value or the empty string.
func (f *Fields) Get(name string) string {
	return f.Values[name]
}

// EvolutionRow is one raw visit entry from the history view.
type EvolutionRow struct {
	Date    string
	Content string
	Doctor  string
}

// Source is the interactive record source. The session is stateful and
// single-user: calls must be strictly sequential, and the search
// context is not durable across identifiers, so every lookup starts
// with Reset. Implementations report transient faults via
// resilience.TransientError and fatal session loss via ErrSessionDead.
type Source interface {
	// Reset re-establishes a clean search context (known starting view,
	// identifier filter selected).
	Reset(ctx context.Context) error

	// Search looks up one identifier. false means a definitive
	// not-found, which is never retried.
	Search(ctx context.Context, id int) (bool, error)

	// FocusFirstResult selects the first search hit, leaving the
	// session in the "record focused" state.
	FocusFirstResult(ctx context.Context) error

	// ReadRecordFields reads the focused record's raw fields.
	ReadRecordFields(ctx context.Context) (*Fields, error)

	// GoTo navigates the focused session to another view.
	GoTo(ctx context.Context, view string) error

	// ReadEvolutionRows reads the visit rows of the current view.
	ReadEvolutionRows(ctx context.Context) ([]EvolutionRow, error)

	// Close releases the session. Safe to call more than once.
	Close() error
}
