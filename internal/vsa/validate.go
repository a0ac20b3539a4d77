// Package vsa imports VSA mission spreadsheets into the store, keeping the
// (code, consultant, start date) triple unique across persisted missions.
package vsa

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/consultator/internal/model"
	"github.com/sells-group/consultator/internal/sheet"
)

// Column names of the VSA export. Matching is case-sensitive.
const (
	ColUserID      = "user_id"
	ColCode        = "Code"
	ColOrderID     = "Orderid"
	ColClient      = "name"
	ColDateStart   = "date_debut"
	ColDateEnd     = "date_fin"
	ColTJM         = "TJM"
	ColCJM         = "CJM"
	ColDescription = "description"
)

// HeaderColumns must all appear in the sheet header for an import to start.
// date_debut is included because without it no row could be deduplicated.
var HeaderColumns = []string{ColUserID, ColCode, ColOrderID, ColClient, ColDateStart}

// ValidationError rejects a single row. It is never fatal to a run.
type ValidationError struct {
	Line   int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("ligne %d: %s", e.Line, e.Reason)
	}
	return e.Reason
}

// requiredFields carries the trimmed required cells of a row. The col tag
// names the spreadsheet column reported back to the user.
type requiredFields struct {
	UserID  string `col:"user_id" validate:"required"`
	Code    string `col:"Code" validate:"required"`
	OrderID string `col:"Orderid" validate:"required"`
	Client  string `col:"name" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("col")
	})
	return v
}

// ValidateRow turns one spreadsheet row into a mission ready for resolution.
// It does not touch storage.
func ValidateRow(row sheet.Row) (*model.Mission, error) {
	req := requiredFields{
		UserID:  strings.TrimSpace(row.Get(ColUserID)),
		Code:    strings.TrimSpace(row.Get(ColCode)),
		OrderID: strings.TrimSpace(row.Get(ColOrderID)),
		Client:  strings.TrimSpace(row.Get(ColClient)),
	}
	if missing := missingFields(req); len(missing) > 0 {
		return nil, &ValidationError{
			Line:   row.Line,
			Reason: "champs requis manquants: " + strings.Join(missing, ", "),
		}
	}

	consultantID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, &ValidationError{Line: row.Line, Reason: err.Error()}
	}

	var dateStart *time.Time
	if raw := strings.TrimSpace(row.Get(ColDateStart)); raw != "" {
		d, ok := parseDate(raw)
		if !ok {
			return nil, &ValidationError{
				Line:   row.Line,
				Reason: fmt.Sprintf("format de date invalide pour %s: %q", ColDateStart, raw),
			}
		}
		dateStart = d
	}
	dateEnd, _ := parseDate(row.Get(ColDateEnd))

	return &model.Mission{
		ConsultantID: consultantID,
		Code:         req.Code,
		OrderID:      req.OrderID,
		ClientName:   req.Client,
		DateStart:    dateStart,
		DateEnd:      dateEnd,
		DailyRate:    parseDecimal(row.Get(ColTJM)),
		DailyCost:    parseDecimal(row.Get(ColCJM)),
		Description:  strings.TrimSpace(row.Get(ColDescription)),
		Status:       model.MissionStatusEnCours,
		Source:       model.MissionSourceVSA,
	}, nil
}

func missingFields(req requiredFields) []string {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return missing
}

// wholeFloat matches the rendering Excel produces for integral numeric
// cells ("42.0").
var wholeFloat = regexp.MustCompile(`^(\d+)\.0+$`)

// parseUserID accepts integers and integers followed by a zero fraction.
func parseUserID(raw string) (int64, error) {
	digits := raw
	if m := wholeFloat.FindStringSubmatch(raw); m != nil {
		digits = m[1]
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, eris.Errorf("%s invalide: %q", ColUserID, raw)
	}
	if id <= 0 {
		return 0, eris.Errorf("%s doit être positif: %q", ColUserID, raw)
	}
	return id, nil
}

var dateLayouts = []string{
	model.DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2/1/2006",
	"1/2/2006",
	"2-1-2006",
}

// Excel stores dates as days since 1899-12-30 (1900 date system).
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Serials below 1990-01-01 are far more likely to be a stray year or
// amount than a mission start.
const (
	minExcelSerial = 32874   // 1990-01-01
	maxExcelSerial = 2958465 // 9999-12-31
)

var excelSerial = regexp.MustCompile(`^\d+(\.\d+)?$`)

// parseDate tries every known layout in order, so day-first wins over
// month-first for ambiguous slashed dates. An empty cell yields (nil, true).
func parseDate(raw string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return dayOf(t), true
		}
	}
	if !excelSerial.MatchString(raw) {
		return nil, false
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial >= minExcelSerial && serial <= maxExcelSerial {
		return dayOf(excelEpoch.AddDate(0, 0, int(serial))), true
	}
	return nil, false
}

func dayOf(t time.Time) *time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

var amountCleaner = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "€", "")

// parseDecimal reads a French or English formatted amount. Anything
// unparseable yields nil.
func parseDecimal(raw string) *decimal.Decimal {
	s := amountCleaner.Replace(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
		}
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
