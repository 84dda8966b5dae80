package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/homevisit/visitgrid/internal/domain/routing"
	"github.com/homevisit/visitgrid/internal/platform/db"
	"github.com/homevisit/visitgrid/internal/platform/syncq"
)

const timestampLayout = "2006-01-02 15:04:05"

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "table", "Output format (table|yaml)")
}

// render writes v as YAML or tbl as an aligned table.
func render(w io.Writer, format string, v interface{}, tbl *uitable.Table) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "table", "":
		_, err := fmt.Fprintln(w, tbl)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newTable(header ...interface{}) *uitable.Table {
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.AddRow(header...)
	return tbl
}

func migrationTable(statuses []db.MigrationStatus) *uitable.Table {
	tbl := newTable("VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, at := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format(timestampLayout)
			}
		}
		tbl.AddRow(s.Version, s.Name, status, at)
	}
	return tbl
}

func arrangeTable(res *routing.ArrangeResult) *uitable.Table {
	tbl := newTable("APPOINTMENT", "FROM", "TO", "DURATION", "ROUTED", "RESULT")
	for _, as := range res.Plan {
		result := "unchanged"
		switch {
		case as.Error != "":
			result = as.Error
		case as.Changed && res.DryRun:
			result = "would move"
		case as.Changed:
			result = "moved"
		}
		tbl.AddRow(as.AppointmentID, as.From, as.To, as.Duration, yesNo(as.Routed), result)
	}
	tbl.RightAlign(3)
	return tbl
}

func legsTable(day *routing.DayLegs) *uitable.Table {
	tbl := newTable("START", "APPOINTMENT", "MILES", "MINUTES", "FROM", "SOURCE")
	for _, s := range day.Stops {
		from := "previous"
		if s.FromHome {
			from = "home"
		}
		source := "estimate"
		if s.IsRealDistance {
			source = "road"
		}
		miles, minutes := "-", "-"
		if s.Miles != nil {
			miles = strconv.FormatFloat(*s.Miles, 'f', 1, 64)
		}
		if s.Minutes != nil {
			minutes = strconv.Itoa(*s.Minutes)
		}
		if s.Miles == nil && s.Minutes == nil {
			source = "unrouted"
		}
		tbl.AddRow(s.StartTime, s.AppointmentID, miles, minutes, from, source)
	}
	tbl.AddRow("", "TOTAL", strconv.FormatFloat(day.TotalMiles, 'f', 1, 64), day.TotalMinutes, "", "")
	tbl.RightAlign(2)
	tbl.RightAlign(3)
	return tbl
}

// outboxRow is the YAML form of an entry; payloads are shown as text.
type outboxRow struct {
	ID          string `yaml:"id"`
	Key         string `yaml:"key"`
	Op          string `yaml:"op"`
	Status      string `yaml:"status"`
	Attempts    int    `yaml:"attempts"`
	NextRetryAt string `yaml:"next_retry_at"`
	LastError   string `yaml:"last_error,omitempty"`
	Payload     string `yaml:"payload,omitempty"`
}

func outboxRows(entries []*syncq.Entry) []outboxRow {
	rows := make([]outboxRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, outboxRow{
			ID:          e.ID,
			Key:         e.Key,
			Op:          e.Op,
			Status:      e.Status,
			Attempts:    e.Attempts,
			NextRetryAt: e.NextRetryAt.Format(timestampLayout),
			LastError:   e.LastError,
			Payload:     string(e.Payload),
		})
	}
	return rows
}

func outboxTable(entries []*syncq.Entry) *uitable.Table {
	tbl := newTable("ID", "KEY", "OP", "STATUS", "ATTEMPTS", "NEXT RETRY", "LAST ERROR")
	tbl.MaxColWidth = 60
	for _, e := range entries {
		tbl.AddRow(e.ID, e.Key, e.Op, e.Status, e.Attempts, e.NextRetryAt.Format(timestampLayout), e.LastError)
	}
	return tbl
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
