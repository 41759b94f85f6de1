package csvio

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/evalstream/internal/domain/model"
)

func TestReadRows(t *testing.T) {
	input := "\ufeffParticipant ID,Answer,Course,Question,Score 1,Score-2,HUMAN_SCORE_3\n" +
		"p1,\"Cells divide, then grow\",Biology,What is mitosis?,7,8,9\n" +
		"\n" +
		"p2,Short,Biology,What is mitosis?,8,,\n" +
		"p1,Again,Biology,What is mitosis?,5,,\n"

	res, err := ReadRows(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)

	first := res.Rows[0]
	assert.Equal(t, "p1", first.ID)
	assert.Equal(t, "Cells divide, then grow", first.Response)
	assert.Equal(t, "Biology", first.Course)
	assert.Equal(t, "What is mitosis?", first.Prompt)
	require.Len(t, first.HumanScores, 3)
	assert.Equal(t, 9.0, *first.HumanScores[2])

	second := res.Rows[1]
	assert.Equal(t, 8.0, *second.HumanScores[0])
	assert.Nil(t, second.HumanScores[1])
	assert.Nil(t, second.HumanScores[2])

	assert.Equal(t, []string{"p1"}, res.DuplicateIDs)
	assert.Empty(t, res.Issues)
}

func TestReadRowsNormalizesIDs(t *testing.T) {
	// "e" followed by a combining acute accent composes to U+00E9.
	input := "id;response;course;prompt;score\ncafe\u0301;r;c;p;5\n"
	res, err := ReadRows(strings.NewReader(input), WithSeparator(';'))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "caf\u00e9", res.Rows[0].ID)
}

func TestReadRowsValidation(t *testing.T) {
	input := "identifier,response,course,prompt,score1\n" +
		"ok,r,c,p,5\n" +
		",r,c,p,5\n" +
		"bad,r,c,p,eleven\n" +
		"high,r,c,p,10.5\n"

	res, err := ReadRows(strings.NewReader(input))
	require.ErrorIs(t, err, ErrInvalidRows)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "ok", res.Rows[0].ID)
	require.Len(t, res.Issues, 3)
	assert.Equal(t, Issue{Line: 3, Column: "identifier", Message: "value is required"}, res.Issues[0])
	assert.Equal(t, 4, res.Issues[1].Line)
	assert.Contains(t, res.Issues[1].Message, "not a number")
	assert.Contains(t, res.Issues[2].Message, "outside")
}

func TestReadRowsRequiresAHumanScore(t *testing.T) {
	input := "identifier,response,course,prompt,score1,score2\n" +
		"ok,r,c,p,,4\n" +
		"none,r,c,p,,\n" +
		"bad,r,c,p,x,\n"

	res, err := ReadRows(strings.NewReader(input))
	require.ErrorIs(t, err, ErrInvalidRows)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "ok", res.Rows[0].ID)
	require.Len(t, res.Issues, 2)
	assert.Equal(t, Issue{Line: 3, Column: "human_score_1", Message: "at least one human score is required"}, res.Issues[0])
	assert.Equal(t, 4, res.Issues[1].Line)
	assert.Contains(t, res.Issues[1].Message, "not a number")
}

func TestReadRowsIssueCap(t *testing.T) {
	var b strings.Builder
	b.WriteString("identifier,response,course,prompt,score1\n")
	for i := 0; i < 5; i++ {
		b.WriteString(",,,,\n,x,,,\n")
	}
	res, err := ReadRows(strings.NewReader(b.String()), WithMaxIssues(2))
	require.ErrorIs(t, err, ErrInvalidRows)
	assert.Len(t, res.Issues, 2)
	assert.True(t, res.Truncated)
}

func TestReadRowsHeaderErrors(t *testing.T) {
	_, err := ReadRows(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = ReadRows(strings.NewReader("identifier,response,course,prompt,score1\n"))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = ReadRows(strings.NewReader("identifier,course,score1\nx,y,1\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "response, prompt")

	_, err = ReadRows(strings.NewReader("identifier,response,course,prompt\nx,y,z,w\n"))
	assert.ErrorIs(t, err, ErrNoScoreColumns)
}

func TestParseSeparator(t *testing.T) {
	r, err := ParseSeparator(";")
	require.NoError(t, err)
	assert.Equal(t, ';', r)

	r, err = ParseSeparator(`\t`)
	require.NoError(t, err)
	assert.Equal(t, '\t', r)

	for _, bad := range []string{"", ";;", `"`} {
		_, err := ParseSeparator(bad)
		assert.ErrorIs(t, err, ErrBadSeparator, bad)
	}
}

func TestWriteMerged(t *testing.T) {
	f := model.Float
	rows := []model.MergedRow{
		{
			OriginalRow: model.OriginalRow{ID: "p1", Response: "a, b", Course: "c", Prompt: "p",
				HumanScores: []*float64{f(7), nil, f(9)}},
			ModelScore: f(8.5), Confidence: f(0.9), ProcessingTimeMs: f(12),
			HumanMedian: f(8), AbsDeviation: f(0.5),
		},
		{
			OriginalRow: model.OriginalRow{ID: "p2", Response: "r", Course: "c", Prompt: "p",
				HumanScores: []*float64{f(4)}},
			HumanMedian: f(4),
		},
	}
	unmatched := []model.ModelResult{{ID: "ghost", Score: 3}}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, WriteMerged(&buf, rows, unmatched, WithClock(func() time.Time { return at })))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, ExportHeader, records[0])
	assert.Equal(t, []string{"p1", "a, b", "c", "p", "7", "", "9", "8.5", "0.9", "12", "8", "0.5", "2024-05-01T12:00:00Z"}, records[1])
	assert.Equal(t, []string{"p2", "r", "c", "p", "4", "", "", "-1", "", "", "4", "", "2024-05-01T12:00:00Z"}, records[2])
	assert.Equal(t, "ghost", records[3][0])
	assert.Equal(t, "3", records[3][7])
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rows := []model.MergedRow{{OriginalRow: model.OriginalRow{ID: "x", Response: "r", Course: "c", Prompt: "p",
		HumanScores: []*float64{model.Float(6)}}}}
	require.NoError(t, WriteMerged(&buf, rows, nil, WithSeparator('\t')))

	res, err := ReadRows(&buf, WithSeparator('\t'))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "x", res.Rows[0].ID)
	assert.Equal(t, 6.0, *res.Rows[0].HumanScores[0])
}
