// Package csvio reads uploaded evaluation rows and writes merged results as
// CSV.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/okian/evalstream/internal/domain/model"
)

type column int

const (
	colID column = iota
	colResponse
	colCourse
	colPrompt
	colScore1
	colScore2
	colScore3
)

var columnNames = map[column]string{
	colID:       "identifier",
	colResponse: "response",
	colCourse:   "course",
	colPrompt:   "prompt",
	colScore1:   "human_score_1",
	colScore2:   "human_score_2",
	colScore3:   "human_score_3",
}

// aliases maps folded header spellings to columns.
var aliases = map[string]column{
	"identifier":     colID,
	"id":             colID,
	"participant_id": colID,
	"participant":    colID,
	"student_id":     colID,
	"response":       colResponse,
	"response_text":  colResponse,
	"answer":         colResponse,
	"text":           colResponse,
	"course":         colCourse,
	"course_name":    colCourse,
	"subject":        colCourse,
	"prompt":         colPrompt,
	"question":       colPrompt,
	"question_text":  colPrompt,
	"score1":         colScore1,
	"score_1":        colScore1,
	"human_score_1":  colScore1,
	"human_score1":   colScore1,
	"human_score":    colScore1,
	"score":          colScore1,
	"score2":         colScore2,
	"score_2":        colScore2,
	"human_score_2":  colScore2,
	"human_score2":   colScore2,
	"score3":         colScore3,
	"score_3":        colScore3,
	"human_score_3":  colScore3,
	"human_score3":   colScore3,
}

var required = []column{colID, colResponse, colCourse, colPrompt}

// Issue is one validation problem. Line is 1-based and counts the header.
type Issue struct {
	Line    int    `json:"line"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Column == "" {
		return fmt.Sprintf("line %d: %s", i.Line, i.Message)
	}
	return fmt.Sprintf("line %d, %s: %s", i.Line, i.Column, i.Message)
}

// Result is the outcome of ReadRows.
type Result struct {
	Rows         []model.OriginalRow `json:"-"`
	DuplicateIDs []string            `json:"duplicateIds"`
	Issues       []Issue             `json:"issues"`
	// Truncated is set when more issues existed than were collected.
	Truncated bool `json:"truncated"`
}

// ReadRows parses uploaded rows. A leading byte-order mark is honored, headers
// are matched case-insensitively against known aliases and identifiers are
// NFC-normalized. Rows that fail validation are reported in Result.Issues and
// the error wraps ErrInvalidRows; the valid rows are still returned.
func ReadRows(r io.Reader, opts ...Option) (Result, error) {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}

	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.Comma = cfg.separator
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Result{}, ErrEmptyFile
	}
	if err != nil {
		return Result{}, fmt.Errorf("read header: %w", err)
	}

	index, err := mapHeader(header)
	if err != nil {
		return Result{}, err
	}

	var (
		res   Result
		seen  = make(map[string]struct{})
		dupes = make(map[string]struct{})
	)
	addIssue := func(is Issue) {
		if len(res.Issues) >= cfg.maxIssues {
			res.Truncated = true
			return
		}
		res.Issues = append(res.Issues, is)
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.StartLine
			}
			addIssue(Issue{Line: line, Message: err.Error()})
			continue
		}
		line, _ := cr.FieldPos(0)
		if blank(record) {
			continue
		}

		row, issues := parseRecord(record, index, line)
		if len(issues) > 0 {
			for _, is := range issues {
				addIssue(is)
			}
			continue
		}
		if _, ok := seen[row.ID]; ok {
			if _, reported := dupes[row.ID]; !reported {
				dupes[row.ID] = struct{}{}
				res.DuplicateIDs = append(res.DuplicateIDs, row.ID)
			}
		}
		seen[row.ID] = struct{}{}
		res.Rows = append(res.Rows, row)
	}

	if len(res.Rows) == 0 && len(res.Issues) == 0 {
		return res, ErrEmptyFile
	}
	if len(res.Issues) > 0 {
		return res, fmt.Errorf("%w: %d issue(s), first: %s", ErrInvalidRows, len(res.Issues), res.Issues[0])
	}
	return res, nil
}

func mapHeader(header []string) (map[column]int, error) {
	fold := cases.Fold()
	index := make(map[column]int, len(columnNames))
	for i, h := range header {
		key := fold.String(strings.TrimSpace(h))
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
		c, ok := aliases[key]
		if !ok {
			continue
		}
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}

	var missing []string
	for _, c := range required {
		if _, ok := index[c]; !ok {
			missing = append(missing, columnNames[c])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	if !hasScoreColumn(index) {
		return nil, ErrNoScoreColumns
	}
	return index, nil
}

func hasScoreColumn(index map[column]int) bool {
	for _, c := range []column{colScore1, colScore2, colScore3} {
		if _, ok := index[c]; ok {
			return true
		}
	}
	return false
}

func parseRecord(record []string, index map[column]int, line int) (model.OriginalRow, []Issue) {
	cell := func(c column) string {
		i, ok := index[c]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var issues []Issue
	row := model.OriginalRow{
		ID:          norm.NFC.String(cell(colID)),
		Response:    cell(colResponse),
		Course:      cell(colCourse),
		Prompt:      cell(colPrompt),
		HumanScores: make([]*float64, model.MaxHumanScores),
	}
	for _, c := range required {
		if cell(c) == "" {
			issues = append(issues, Issue{Line: line, Column: columnNames[c], Message: "value is required"})
		}
	}

	scored := false
	for i, c := range []column{colScore1, colScore2, colScore3} {
		raw := cell(c)
		if raw == "" {
			continue
		}
		scored = true
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			issues = append(issues, Issue{Line: line, Column: columnNames[c], Message: fmt.Sprintf("%q is not a number", raw)})
			continue
		}
		if v < model.MinScore || v > model.MaxScore {
			issues = append(issues, Issue{Line: line, Column: columnNames[c], Message: fmt.Sprintf("%v is outside [0, 10]", v)})
			continue
		}
		row.HumanScores[i] = &v
	}
	if !scored {
		issues = append(issues, Issue{Line: line, Column: columnNames[colScore1], Message: "at least one human score is required"})
	}
	return row, issues
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
