package vsa

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/sells-group/consultator/internal/model"
)

// Summary tallies the outcome of an import run. Skipped counts both
// duplicates and rows whose consultant was not found.
type Summary struct {
	RunID    string
	File     string
	DryRun   bool
	Total    int
	Imported int
	Errors   int
	Skipped  int

	Duplicates int
	NotFound   int

	// ErrorReasons holds one message per errored row, in source order.
	ErrorReasons []string

	// MaxErrorsShown caps the reasons Print lists; 0 hides them.
	MaxErrorsShown int

	// Failed is set when the run stopped on a fatal error. Rows written
	// before that point were rolled back and are counted in RolledBack.
	Failed     bool
	Cause      string
	RolledBack int
}

// fail marks the run as aborted. Nothing written in its transaction
// survives, so Imported drops to zero.
func (s *Summary) fail(err error) {
	s.Failed = true
	s.Cause = err.Error()
	s.RolledBack = s.Imported
	s.Imported = 0
}

func (s *Summary) recordImported() { s.Imported++ }

func (s *Summary) recordError(reason string) {
	s.Errors++
	s.ErrorReasons = append(s.ErrorReasons, reason)
}

func (s *Summary) recordDuplicate() {
	s.Skipped++
	s.Duplicates++
}

func (s *Summary) recordNotFound() {
	s.Skipped++
	s.NotFound++
}

// SuccessRate returns the share of processed rows that were imported, as a
// percentage. It is 0 for an empty sheet.
func (s *Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Imported) / float64(s.Total) * 100
}

// Counts converts the summary to the tally stored with the import run.
func (s *Summary) Counts() model.ImportCounts {
	return model.ImportCounts{
		Total:      s.Total,
		Imported:   s.Imported,
		Errors:     s.Errors,
		Skipped:    s.Skipped,
		Duplicates: s.Duplicates,
		NotFound:   s.NotFound,
	}
}

var (
	headingColor = color.New(color.Bold)
	okColor      = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errColor     = color.New(color.FgRed)
)

// Print writes the end-of-run tally to w.
func (s *Summary) Print(w io.Writer) {
	title := "Import VSA terminé"
	if s.Failed {
		title = "Import VSA échoué"
	}
	if s.DryRun {
		title += " (simulation, aucune donnée écrite)"
	}
	if s.Failed {
		errColor.Fprintln(w, title)                                   //nolint:errcheck
		errColor.Fprintf(w, "  Cause                : %s\n", s.Cause) //nolint:errcheck
	} else {
		headingColor.Fprintln(w, title) //nolint:errcheck
	}
	if s.File != "" {
		fmt.Fprintf(w, "  Fichier              : %s\n", s.File)
	}
	if s.RunID != "" {
		fmt.Fprintf(w, "  Run                  : %s\n", s.RunID)
	}
	fmt.Fprintf(w, "  Lignes traitées      : %d\n", s.Total)
	if s.RolledBack > 0 {
		okColor.Fprintf(w, "  Missions importées   : %d (%d annulée(s))\n", s.Imported, s.RolledBack) //nolint:errcheck
	} else {
		okColor.Fprintf(w, "  Missions importées   : %d\n", s.Imported) //nolint:errcheck
	}
	errColor.Fprintf(w, "  Erreurs              : %d\n", s.Errors)  //nolint:errcheck
	warnColor.Fprintf(w, "  Ignorées             : %d (doublons: %d, consultants introuvables: %d)\n", //nolint:errcheck
		s.Skipped, s.Duplicates, s.NotFound)
	fmt.Fprintf(w, "  Taux de succès       : %.1f%%\n", s.SuccessRate())

	if s.MaxErrorsShown <= 0 || len(s.ErrorReasons) == 0 {
		return
	}
	errColor.Fprintln(w, "Erreurs:") //nolint:errcheck
	shown := min(len(s.ErrorReasons), s.MaxErrorsShown)
	for _, reason := range s.ErrorReasons[:shown] {
		fmt.Fprintf(w, "  - %s\n", reason)
	}
	if rest := len(s.ErrorReasons) - shown; rest > 0 {
		fmt.Fprintf(w, "  ... et %d autre(s)\n", rest)
	}
}
