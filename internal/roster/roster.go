// Package roster loads the consultant roster from a CSV export so missions
// can be resolved against it.
package roster

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/consultator/internal/model"
	"github.com/sells-group/consultator/internal/sheet"
)

// Roster columns. id, first_name and last_name are required in the header.
const (
	ColID        = "id"
	ColFirstName = "first_name"
	ColLastName  = "last_name"
	ColEmail     = "email"
	ColPractice  = "practice"
	ColActive    = "active"
)

type rosterRow struct {
	ID        int64  `col:"id" validate:"gt=0"`
	FirstName string `col:"first_name" validate:"required"`
	LastName  string `col:"last_name" validate:"required"`
	Email     string `col:"email" validate:"omitempty,email"`
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("col")
	})
	return v
}()

// RowError describes a rejected roster line.
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) Error() string {
	return "ligne " + strconv.Itoa(e.Line) + ": " + e.Reason
}

// Load reads a roster CSV and returns the valid consultants along with one
// RowError per rejected line.
func Load(ctx context.Context, path, encoding string) ([]model.Consultant, []RowError, error) {
	records, err := sheet.ReadCSV(ctx, path, encoding)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "roster: read %s", path)
	}
	table, err := sheet.NewTable(records)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "roster: %s", path)
	}
	consultants, rowErrs, err := Parse(table)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "roster: %s", path)
	}
	return consultants, rowErrs, nil
}

// Parse converts table rows into consultants. Later rows with an already
// seen id replace earlier ones.
func Parse(table *sheet.Table) ([]model.Consultant, []RowError, error) {
	if missing := table.Missing(ColID, ColFirstName, ColLastName); len(missing) > 0 {
		return nil, nil, eris.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}

	var (
		out     []model.Consultant
		rowErrs []RowError
		index   = make(map[int64]int)
	)
	for _, row := range table.Rows {
		c, err := parseRow(row)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: row.Line, Reason: err.Error()})
			continue
		}
		if i, ok := index[c.ID]; ok {
			out[i] = c
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	return out, rowErrs, nil
}

func parseRow(row sheet.Row) (model.Consultant, error) {
	rawID := strings.TrimSpace(row.Get(ColID))
	id, err := strconv.ParseInt(strings.TrimSuffix(rawID, ".0"), 10, 64)
	if err != nil {
		return model.Consultant{}, eris.Errorf("id invalide: %q", rawID)
	}

	r := rosterRow{
		ID:        id,
		FirstName: strings.TrimSpace(row.Get(ColFirstName)),
		LastName:  strings.TrimSpace(row.Get(ColLastName)),
		Email:     strings.TrimSpace(row.Get(ColEmail)),
	}
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return model.Consultant{}, err
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return model.Consultant{}, eris.Errorf("champs invalides: %s", strings.Join(fields, ", "))
	}

	return model.Consultant{
		ID:        r.ID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Email:     r.Email,
		Practice:  strings.TrimSpace(row.Get(ColPractice)),
		Active:    parseActive(row.Get(ColActive)),
	}, nil
}

// parseActive defaults to true; only explicit negatives deactivate.
func parseActive(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "false", "non", "no", "inactif", "n":
		return false
	default:
		return true
	}
}
