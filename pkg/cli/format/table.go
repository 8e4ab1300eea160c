package format

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/bcpc-build/bcpc-build/pkg/store"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

var (
	shortHeaders = []string{"ID", "BUILD DIR", "NAME", "UPDATED", "STATE"}
	longHeaders  = []string{"ID", "NAME", "BUILD USER", "BUILD DIR", "SOURCE URL", "DESCRIPTION", "CREATED", "UPDATED", "STATE"}
)

// UnitTable renders build units with pterm.
type UnitTable struct {
	// Long lists every field.
	Long bool

	printer *pterm.TablePrinter
}

// NewUnitTable creates a table with the cyan bold header style.
func NewUnitTable() *UnitTable {
	headerStyle := pterm.NewStyle(pterm.FgCyan, pterm.Bold)
	return &UnitTable{
		printer: pterm.DefaultTable.WithHasHeader(true).WithHeaderStyle(headerStyle),
	}
}

// RenderUnits writes one row per unit in the order given.
func (t *UnitTable) RenderUnits(w io.Writer, units []*types.BuildUnit) error {
	if len(units) == 0 {
		_, err := fmt.Fprintln(w, "No build units found")
		return err
	}

	headers := shortHeaders
	if t.Long {
		headers = longHeaders
	}
	rows := [][]string{headers}
	for _, u := range units {
		if t.Long {
			rows = append(rows, []string{
				u.ID, u.Name, u.BuildUser, u.BuildDir,
				Truncate(u.SourceURL, 60), Truncate(u.Description, 40),
				formatTime(u.CreatedAt), formatTime(u.UpdatedAt), StateLabel(u.BuildState),
			})
			continue
		}
		rows = append(rows, []string{
			u.ID, u.BuildDir, u.Name, formatAge(u.UpdatedAt), StateLabel(u.BuildState),
		})
	}
	return t.render(w, rows)
}

// RenderUnit writes a property/value table for a single unit.
func (t *UnitTable) RenderUnit(w io.Writer, u *types.BuildUnit) error {
	rows := [][]string{
		{"PROPERTY", "VALUE"},
		{"id", u.ID},
		{"name", u.Name},
		{"build_user", u.BuildUser},
		{"build_dir", u.BuildDir},
		{"source_url", u.SourceURL},
		{"description", u.Description},
		{"build_state", StateLabel(u.BuildState)},
		{"created_at", formatTime(u.CreatedAt)},
		{"updated_at", formatTime(u.UpdatedAt)},
	}
	return t.render(w, rows)
}

// RenderHistory writes the recorded versions of a unit, newest first.
func (t *UnitTable) RenderHistory(w io.Writer, versions []store.HistoricalVersion) error {
	if len(versions) == 0 {
		_, err := fmt.Fprintln(w, "No history recorded")
		return err
	}
	rows := [][]string{{"VERSION", "TIME", "STATE", "SOURCE URL"}}
	for _, v := range versions {
		rows = append(rows, []string{
			v.Version, formatTime(v.Timestamp), StateLabel(v.Unit.BuildState), Truncate(v.Unit.SourceURL, 60),
		})
	}
	return t.render(w, rows)
}

func (t *UnitTable) render(w io.Writer, rows [][]string) error {
	out, err := t.printer.WithData(rows).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

// Write renders v as json or yaml.
func Write(w io.Writer, output string, v any) error {
	switch output {
	case OutputJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case OutputYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported output format %q", output)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatAge formats a time.Time as a human-readable age string
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}

	duration := time.Since(t)
	switch {
	case duration < time.Minute:
		return "Just now"
	case duration < time.Hour:
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	case duration < 24*time.Hour:
		return fmt.Sprintf("%dh", int(duration.Hours()))
	case duration < 30*24*time.Hour:
		return fmt.Sprintf("%dd", int(duration.Hours()/24))
	case duration < 365*24*time.Hour:
		return fmt.Sprintf("%dmo", int(duration.Hours()/24/30))
	}
	return fmt.Sprintf("%dy", int(duration.Hours()/24/365))
}
