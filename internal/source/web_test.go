package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicsync/harvest-cli/internal/resilience"
)

const recordPage = `<html><body>
<form>
  <input name="clinical_history_number" value="117"/>
  <input name="full_name" value="GARCIA Maria Elena"/>
  <input name="document_number" value="28456123"/>
  <input name="email" value="mgarcia@example.com"/>
  <input name="city" value=" Moron "/>
  <div data-field="birth_date">
    <input value="7"/><input value="3"/><input value="1985"/>
  </div>
  <button role="combobox" name="gender"><span>Femenino</span></button>
  <button data-state="closed">
    <div class="text-red-500">$ 1.234,56</div>
    <div>USD 500,00</div>
  </button>
</form>
</body></html>`

const searchHitPage = `<html><body>
<div role="listbox"><table><tbody>
  <tr><td><a href="/dashboard/patients/personal-data/117">GARCIA Maria Elena</a></td></tr>
</tbody></table></div>
</body></html>`

const emptySearchPage = `<html><body><div role="listbox"><table><tbody></tbody></table></div></body></html>`

const historyPage = `<html><body>
<table><tbody>
  <tr><td>09/01/2026</td><td>Control anual</td><td>Dr. Lopez</td></tr>
  <tr><td>30/11/2025</td><td>Extraccion</td><td>Dra. Ruiz</td></tr>
  <tr><td>malformed</td></tr>
</tbody></table>
</body></html>`

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("username") != "admin" || r.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	})
	mux.HandleFunc("/dashboard/patients/personal-data", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "":
			w.Write([]byte(emptySearchPage))
		case "117":
			w.Write([]byte(searchHitPage))
		case "503":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write([]byte(emptySearchPage))
		}
	})
	mux.HandleFunc("/dashboard/patients/personal-data/117", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(recordPage))
	})
	mux.HandleFunc("/dashboard/patients/medical-history", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(historyPage))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testSource(t *testing.T) *WebSource {
	t.Helper()
	srv := testServer(t)
	src, err := NewWebSource(context.Background(), WebConfig{
		BaseURL:  srv.URL,
		Username: "admin",
		Password: "secret",
	})
	require.NoError(t, err)
	return src
}

func TestNewWebSource_LoginRejected(t *testing.T) {
	srv := testServer(t)
	_, err := NewWebSource(context.Background(), WebConfig{
		BaseURL:  srv.URL,
		Username: "admin",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionDead)
}

func TestNewWebSource_RequiresBaseURL(t *testing.T) {
	_, err := NewWebSource(context.Background(), WebConfig{})
	assert.Error(t, err)
}

func TestSearch_FoundAndNotFound(t *testing.T) {
	src := testSource(t)
	ctx := context.Background()

	require.NoError(t, src.Reset(ctx))

	found, err := src.Search(ctx, 117)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = src.Search(ctx, 9999)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSearch_TransientStatus(t *testing.T) {
	src := testSource(t)

	_, err := src.Search(context.Background(), 503)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestReadRecordFields(t *testing.T) {
	src := testSource(t)
	ctx := context.Background()

	found, err := src.Search(ctx, 117)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, src.FocusFirstResult(ctx))

	fields, err := src.ReadRecordFields(ctx)
	require.NoError(t, err)

	assert.Equal(t, "117", fields.Get("clinical_history_number"))
	assert.Equal(t, "GARCIA Maria Elena", fields.Get("full_name"))
	assert.Equal(t, "Moron", fields.Get("city")) // values are trimmed

	assert.Equal(t, "7", fields.BirthDay)
	assert.Equal(t, "3", fields.BirthMonth)
	assert.Equal(t, "1985", fields.BirthYear)
	assert.Equal(t, "Femenino", fields.GenderLabel)

	require.Len(t, fields.Debts, 2)
	assert.Equal(t, DebtMarker{Raw: "$ 1.234,56", Currency: "$", Flagged: true}, fields.Debts[0])
	assert.Equal(t, DebtMarker{Raw: "USD 500,00", Currency: "USD", Flagged: false}, fields.Debts[1])
}

func TestFocusFirstResult_NoResults(t *testing.T) {
	src := testSource(t)
	ctx := context.Background()

	found, err := src.Search(ctx, 9999)
	require.NoError(t, err)
	require.False(t, found)

	assert.Error(t, src.FocusFirstResult(ctx))
}

func TestReadEvolutionRows(t *testing.T) {
	src := testSource(t)
	ctx := context.Background()

	require.NoError(t, src.GoTo(ctx, ViewMedicalHistory))

	rows, err := src.ReadEvolutionRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2) // the malformed single-cell row is skipped

	assert.Equal(t, "09/01/2026", rows[0].Date)
	assert.Equal(t, "Control anual", rows[0].Content)
	assert.Equal(t, "Dr. Lopez", rows[0].Doctor)
}
