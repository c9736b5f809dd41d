package file

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// parseCSV builds a single entity named after the file. Column types are
// inferred from every row; an empty or missing cell makes the column nullable.
func parseCSV(data []byte, req datasource.Request) (*models.SchemaIR, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "CSV file is empty")
	}

	delimiter, err := csvDelimiter(req)
	if err != nil {
		return nil, err
	}
	hasHeader, err := req.Bool("has_header", true)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var profiles []*columnProfile
	rows := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "malformed CSV", err)
		}
		if isBlankRecord(record) {
			continue
		}

		if profiles == nil {
			if hasHeader {
				profiles = headerProfiles(record)
				continue
			}
			profiles = headerProfiles(make([]string, len(record)))
		}

		for len(profiles) < len(record) {
			p := &columnProfile{name: columnName(len(profiles), "")}
			// Earlier rows had no cell here.
			if rows > 0 {
				p.observeNull()
			}
			profiles = append(profiles, p)
		}
		for i, p := range profiles {
			if i >= len(record) || strings.TrimSpace(record[i]) == "" {
				p.observeNull()
				continue
			}
			p.observe(inferString(record[i]))
		}
		rows++
	}

	name, err := entityName(req)
	if err != nil {
		return nil, err
	}
	entity := models.Entity{Name: name, Fields: make([]models.Field, 0, len(profiles))}
	for _, p := range profiles {
		entity.Fields = append(entity.Fields, p.field())
	}
	return models.NewSchemaIR(req.SourceName(), models.SourceTypeFile, models.CurrentIRVersion, []models.Entity{entity})
}

func csvDelimiter(req datasource.Request) (rune, error) {
	d := req.String("delimiter")
	if d == "" {
		if strings.EqualFold(req.Format, "tsv") {
			return '\t', nil
		}
		return ',', nil
	}
	if d == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(d)
	if size != len(d) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, apperrors.Newf(apperrors.CodeInvalidInput, "invalid CSV delimiter %q", d)
	}
	return r, nil
}

func headerProfiles(header []string) []*columnProfile {
	profiles := make([]*columnProfile, len(header))
	for i, h := range header {
		profiles[i] = &columnProfile{name: columnName(i, h)}
	}
	return profiles
}

func columnName(i int, header string) string {
	if h := strings.TrimSpace(header); h != "" {
		return h
	}
	return fmt.Sprintf("column_%d", i+1)
}

func isBlankRecord(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
