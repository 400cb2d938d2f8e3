package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clinicsync/harvest-cli/internal/resilience"
)

// WebConfig configures the web session.
type WebConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// WebSource talks to the record source over its web UI endpoints. It
// holds one authenticated session; the current document mirrors what a
// browser tab would be showing.
type WebSource struct {
	http *resty.Client

	// doc is the last fetched view. Read* methods operate on it.
	doc *goquery.Document
}

// NewWebSource logs in and returns a ready session.
func NewWebSource(ctx context.Context, cfg WebConfig) (*WebSource, error) {
	if cfg.BaseURL == "" {
		return nil, eris.New("source: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)

	s := &WebSource{http: client}
	if err := s.login(ctx, cfg.Username, cfg.Password); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WebSource) login(ctx context.Context, username, password string) error {
	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": username,
			"password": password,
		}).
		Post("/api/auth/login")
	if err != nil {
		return eris.Wrap(ErrSessionDead, err.Error())
	}
	if res.IsError() {
		return eris.Wrapf(ErrSessionDead, "login rejected with status %d", res.StatusCode())
	}
	zap.L().Info("source session established")
	return nil
}

// Reset navigates back to the patient search view. The identifier
// filter is re-selected on every call because the source does not keep
// it across navigations.
func (s *WebSource) Reset(ctx context.Context) error {
	return s.navigate(ctx, "/dashboard/patients/"+ViewPersonalData)
}

// Search queries one identifier through the search endpoint backing
// the UI's searchbar. A response without result rows is a definitive
// not-found.
func (s *WebSource) Search(ctx context.Context, id int) (bool, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("filter", "clinical_history").
		SetQueryParam("q", fmt.Sprintf("%d", id)).
		Get("/dashboard/patients/" + ViewPersonalData)
	if err != nil {
		return false, resilience.NewTransientError(eris.Wrap(err, "source: search"), 0)
	}
	if res.StatusCode() == 401 || res.StatusCode() == 403 {
		return false, eris.Wrapf(ErrSessionDead, "search returned status %d", res.StatusCode())
	}
	if res.IsError() {
		return false, s.statusError("search", res)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return false, eris.Wrap(err, "source: parse search results")
	}
	s.doc = doc
	return doc.Find(`[role="listbox"] table tbody tr`).Length() > 0, nil
}

// FocusFirstResult follows the first hit's link so subsequent reads see
// the record's detail view.
func (s *WebSource) FocusFirstResult(ctx context.Context) error {
	if s.doc == nil {
		return eris.New("source: no search results to focus")
	}
	href, ok := s.doc.Find(`[role="listbox"] table tbody tr a`).First().Attr("href")
	if !ok {
		// Some deployments render the row itself as the link target.
		href, ok = s.doc.Find(`[role="listbox"] table tbody tr`).First().Attr("data-href")
	}
	if !ok {
		return eris.New("source: first result has no target")
	}
	return s.navigate(ctx, href)
}

// ReadRecordFields reads the focused record's raw fields from the
// current document.
func (s *WebSource) ReadRecordFields(ctx context.Context) (*Fields, error) {
	if s.doc == nil {
		return nil, eris.New("source: no focused record")
	}

	fields := &Fields{Values: make(map[string]string)}
	s.doc.Find("input[name]").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		value, _ := sel.Attr("value")
		fields.Values[name] = strings.TrimSpace(value)
	})

	// The birth date is three bare inputs next to the birth date label.
	dateInputs := s.doc.Find(`[data-field="birth_date"] input`)
	if dateInputs.Length() >= 3 {
		fields.BirthDay = inputValue(dateInputs.Eq(0))
		fields.BirthMonth = inputValue(dateInputs.Eq(1))
		fields.BirthYear = inputValue(dateInputs.Eq(2))
	}

	fields.GenderLabel = strings.TrimSpace(s.doc.Find(`button[role="combobox"][name="gender"] span`).First().Text())

	// Balance badges: amounts styled as debt carry the red text class.
	s.doc.Find(`button[data-state="closed"] div`).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		var currency string
		switch {
		case strings.HasPrefix(text, "USD"):
			currency = "USD"
		case strings.HasPrefix(text, "$"):
			currency = "$"
		default:
			return
		}
		fields.Debts = append(fields.Debts, DebtMarker{
			Raw:      text,
			Currency: currency,
			Flagged:  sel.HasClass("text-red-500"),
		})
	})

	return fields, nil
}

// GoTo navigates to another patient view, keeping the focused record.
func (s *WebSource) GoTo(ctx context.Context, view string) error {
	return s.navigate(ctx, "/dashboard/patients/"+view)
}

// ReadEvolutionRows reads the visit table of the current view.
func (s *WebSource) ReadEvolutionRows(ctx context.Context) ([]EvolutionRow, error) {
	if s.doc == nil {
		return nil, eris.New("source: no current view")
	}

	var rows []EvolutionRow
	s.doc.Find("table tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return
		}
		rows = append(rows, EvolutionRow{
			Date:    strings.TrimSpace(cells.Eq(0).Text()),
			Content: strings.TrimSpace(cells.Eq(1).Text()),
			Doctor:  strings.TrimSpace(cells.Eq(2).Text()),
		})
	})
	return rows, nil
}

// Close drops the session handle. The server-side session simply
// expires; there is no logout endpoint.
func (s *WebSource) Close() error {
	s.doc = nil
	return nil
}

func (s *WebSource) navigate(ctx context.Context, path string) error {
	res, err := s.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return resilience.NewTransientError(eris.Wrapf(err, "source: navigate %s", path), 0)
	}
	if res.StatusCode() == 401 || res.StatusCode() == 403 {
		return eris.Wrapf(ErrSessionDead, "navigate %s returned status %d", path, res.StatusCode())
	}
	if res.IsError() {
		return s.statusError("navigate "+path, res)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return eris.Wrapf(err, "source: parse %s", path)
	}
	s.doc = doc
	return nil
}

func inputValue(sel *goquery.Selection) string {
	v, _ := sel.Attr("value")
	return strings.TrimSpace(v)
}

func (s *WebSource) statusError(op string, res *resty.Response) error {
	err := eris.Errorf("source: %s returned status %d", op, res.StatusCode())
	if resilience.IsTransientHTTPStatus(res.StatusCode()) {
		return resilience.NewTransientError(err, res.StatusCode())
	}
	return err
}
