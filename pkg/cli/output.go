package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
)

// Format selects how documents are written to stdout.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatTable:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown output format %q (want json, yaml or table)", s)
}

// tableRenderer draws one document kind as a table.
type tableRenderer func(w io.Writer, doc []byte) error

// printer writes documents in the selected format.
type printer struct {
	w      io.Writer
	format Format
}

func (p *printer) print(doc []byte, table tableRenderer) error {
	switch p.format {
	case FormatYAML:
		return writeYAML(p.w, doc)
	case FormatTable:
		if table != nil {
			return table(p.w, doc)
		}
	}
	return writeJSON(p.w, doc)
}

func writeJSON(w io.Writer, doc []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "render document", err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// writeYAML re-encodes a JSON document as block-style YAML, keeping key order.
func writeYAML(w io.Writer, doc []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(doc, &node); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "render document", err)
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// writeError renders err as an error document on w.
func writeError(w io.Writer, err error) {
	_, _ = w.Write(documents.MarshalError(err))
	_, _ = io.WriteString(w, "\n")
}

var (
	addedColor    = color.New(color.FgHiGreen).SprintFunc()
	removedColor  = color.New(color.FgHiRed).SprintFunc()
	modifiedColor = color.New(color.FgHiYellow).SprintFunc()
	mutedColor    = color.New(color.FgHiBlack).SprintFunc()
)

func kindColor(kind string) string {
	switch kind {
	case "accept_a", "accept_b", "added", "succeeded", "committed":
		return addedColor(kind)
	case "drop", "removed", "failed", "failed_partial", "cancelled":
		return removedColor(kind)
	case "skipped", "dry_run":
		return mutedColor(kind)
	}
	return modifiedColor(kind)
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewTable(w)
	h := make([]any, len(header))
	for i, s := range header {
		h[i] = s
	}
	table.Header(h...)
	for _, row := range rows {
		cells := make([]any, len(row))
		for i, s := range row {
			cells[i] = s
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}
	return table.Render()
}

func decodeDoc[T any](doc []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "render document", err)
	}
	return &v, nil
}

func score(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func schemaTable(w io.Writer, doc []byte) error {
	ir, err := decodeDoc[documents.SchemaIRDocument](doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s (%s, ir %s): %d entities\n", ir.SourceName, ir.SourceType, ir.IRVersion, len(ir.Entities))
	var rows [][]string
	for _, e := range ir.Entities {
		if len(e.Fields) == 0 {
			rows = append(rows, []string{e.EntityName, mutedColor("(no fields)"), "", "", "", ""})
		}
		for _, f := range e.Fields {
			def := ""
			if f.Default != nil {
				def = *f.Default
			}
			rows = append(rows, []string{e.EntityName, f.Name, f.DeclaredType, yesNo(f.Nullable), yesNo(f.IsPrimaryKey), def})
		}
	}
	return renderTable(w, []string{"Entity", "Field", "Type", "Nullable", "PK", "Default"}, rows)
}

func comparisonTable(w io.Writer, doc []byte) error {
	cmp, err := decodeDoc[documents.ComparisonDocument](doc)
	if err != nil {
		return err
	}
	var rows [][]string
	for _, c := range cmp.Changes.Added {
		rows = append(rows, []string{kindColor("added"), c.Scope, c.Path, "", ""})
	}
	for _, c := range cmp.Changes.Removed {
		rows = append(rows, []string{kindColor("removed"), c.Scope, c.Path, "", ""})
	}
	for _, m := range cmp.Changes.Modified {
		path := m.Path
		if m.NewPath != "" && m.NewPath != m.Path {
			path += " -> " + m.NewPath
		}
		attrs := make([]string, 0, len(m.Attributes))
		for _, a := range m.Attributes {
			attrs = append(attrs, fmt.Sprintf("%s: %v -> %v", a.Attribute, a.Old, a.New))
		}
		rows = append(rows, []string{kindColor("modified"), m.Scope, path, strings.Join(attrs, "; "), score(m.Score)})
	}
	if err := renderTable(w, []string{"Change", "Scope", "Path", "Attributes", "Score"}, rows); err != nil {
		return err
	}
	st := cmp.Statistics
	_, err = fmt.Fprintf(w, "%s vs %s: similarity %s, %d added, %d removed, %d modified (%s)\n",
		cmp.SourceA, cmp.SourceB, score(st.Similarity), st.Added, st.Removed, st.Modified, cmp.Config.Strategy)
	return err
}

func planTable(w io.Writer, doc []byte) error {
	plan, err := decodeDoc[documents.PlanDocument](doc)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(plan.Actions))
	for i, a := range plan.Actions {
		target := a.Target
		if a.RenameTo != "" {
			target += " -> " + a.RenameTo
		}
		rows = append(rows, []string{strconv.Itoa(i), kindColor(a.Kind), target, score(a.Confidence), a.Origin, a.Reason})
	}
	if err := renderTable(w, []string{"#", "Kind", "Target", "Confidence", "Origin", "Reason"}, rows); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "plan %s: %d actions (%s, prefer %s)\n", plan.PlanID, len(plan.Actions), plan.Strategy, plan.PreferSource)
	return err
}

func applyTable(w io.Writer, doc []byte) error {
	res, err := decodeDoc[documents.ApplyResultDocument](doc)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(res.Results))
	for _, o := range res.Results {
		detail := o.Message
		if res.DryRun && o.Projection != "" {
			detail = o.Projection
		}
		rows = append(rows, []string{strconv.Itoa(o.Index), o.Kind, o.Target, kindColor(o.Status), detail})
	}
	if err := renderTable(w, []string{"#", "Kind", "Target", "Status", "Detail"}, rows); err != nil {
		return err
	}
	summary := fmt.Sprintf("%s: %d succeeded, %d failed, %d skipped", kindColor(res.State),
		res.Counts.Succeeded, res.Counts.Failed, res.Counts.Skipped)
	if res.DryRun {
		summary = fmt.Sprintf("%s: would apply %d actions", kindColor("dry_run"), res.WouldApply)
	}
	if res.BackupRef != "" {
		summary += ", backup " + res.BackupRef
	}
	_, err = fmt.Fprintln(w, summary)
	return err
}

func validationTable(w io.Writer, doc []byte) error {
	report, err := decodeDoc[documents.ValidationDocument](doc)
	if err != nil {
		return err
	}
	if report.Schema != nil {
		fmt.Fprintf(w, "%s (%s, ir %s): %d entities\n", report.Schema.SourceName, report.Schema.SourceType,
			report.Schema.IRVersion, report.Schema.EntitiesCount)
	}
	if report.OK {
		_, err = fmt.Fprintln(w, addedColor("valid"))
		return err
	}
	rows := make([][]string, 0, len(report.Errors))
	for i, msg := range report.Errors {
		rows = append(rows, []string{strconv.Itoa(i + 1), removedColor(msg)})
	}
	return renderTable(w, []string{"#", "Error"}, rows)
}

func rollbackTable(w io.Writer, doc []byte) error {
	rb, err := decodeDoc[documents.RollbackDocument](doc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "store %s restored from backup %s\n", rb.Store, rb.BackupRef)
	return err
}

func sourcesTable(w io.Writer, doc []byte) error {
	adapters, err := decodeDoc[[]datasource.AdapterInfo](doc)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(*adapters))
	for _, a := range *adapters {
		rows = append(rows, []string{string(a.SourceType), a.Format, strings.Join(a.Aliases, ", "), a.Description})
	}
	return renderTable(w, []string{"Source Type", "Format", "Aliases", "Description"}, rows)
}
