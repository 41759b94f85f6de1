package repository_test

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"

	repository "github.com/okian/evalstream/internal/adapters/repository"
	model "github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func row(id string, scores ...float64) model.OriginalRow {
	hs := make([]*float64, len(scores))
	for i, s := range scores {
		hs[i] = model.Float(s)
	}
	return model.OriginalRow{ID: id, Response: "r-" + id, Course: "c", Prompt: "p", HumanScores: hs}
}

func result(id string, score float64) model.ModelResult {
	return model.ModelResult{ID: id, Score: score}
}

func newStore() *repository.ReconcileStore {
	_ = logger.Init(logger.WithOutput(io.Discard))
	return repository.NewReconcileStore(repository.WithMaxWindow(50))
}

func TestReconcileStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store loaded with three rows", t, func() {
		s := newStore()
		stats, err := s.LoadOriginalRows(ctx, []model.OriginalRow{
			row("p1", 8, 7, 8),
			row("p2", 9, 8, 9),
			row("p3", 5, 4, 5),
		})
		So(err, ShouldBeNil)
		So(stats.Rows, ShouldEqual, 3)

		Convey("When no results have arrived", func() {
			Convey("Then rows are unprocessed and metrics are empty", func() {
				view := s.MergedView(ctx)
				So(view, ShouldHaveLength, 3)
				So(view[0].Processed(), ShouldBeFalse)
				So(*view[0].HumanMedian, ShouldEqual, 8)
				So(s.Metrics(ctx).ValidPairs, ShouldEqual, 0)
				So(s.Metrics(ctx).ICC, ShouldBeNil)
			})
		})

		Convey("When one batch carries scores for every row", func() {
			st, err := s.ApplyResultBatch(ctx, []model.ModelResult{
				result("p1", 8), result("p2", 8.5), result("p3", 5),
			})
			So(err, ShouldBeNil)
			So(st.Applied, ShouldEqual, 3)

			Convey("Then medians and deviations are derived", func() {
				view := s.MergedView(ctx)
				So(*view[0].HumanMedian, ShouldEqual, 8)
				So(*view[1].HumanMedian, ShouldEqual, 9)
				So(*view[2].HumanMedian, ShouldEqual, 5)
				So(*view[0].AbsDeviation, ShouldEqual, 0)
				So(*view[1].AbsDeviation, ShouldEqual, 0.5)
				So(*view[2].AbsDeviation, ShouldEqual, 0)
			})

			Convey("Then the metrics report high agreement", func() {
				m := s.Metrics(ctx)
				So(m.ValidPairs, ShouldEqual, 3)
				So(*m.MeanAbsDeviation, ShouldAlmostEqual, 0.1667, 1e-4)
				So(*m.ICC, ShouldBeGreaterThan, 0.8)
				So(m.Reliable, ShouldBeTrue)
			})
		})

		Convey("When overlapping batches are applied", func() {
			_, _ = s.ApplyResultBatch(ctx, []model.ModelResult{result("p1", 6), result("p2", 7)})
			st, _ := s.ApplyResultBatch(ctx, []model.ModelResult{result("p2", 9), result("p3", 4)})

			Convey("Then each id keeps only its latest result", func() {
				So(st.Replaced, ShouldEqual, 1)
				So(s.ResultCount(ctx), ShouldEqual, 3)
				view := s.MergedView(ctx)
				So(view, ShouldHaveLength, 3)
				So(*view[1].ModelScore, ShouldEqual, 9)
			})

			Convey("Then replaying the same batch changes nothing", func() {
				before := s.Metrics(ctx)
				_, _ = s.ApplyResultBatch(ctx, []model.ModelResult{result("p2", 9), result("p3", 4)})
				So(s.Metrics(ctx), ShouldResemble, before)
				So(s.MergedView(ctx), ShouldHaveLength, 3)
			})
		})

		Convey("When a result has no matching row", func() {
			st, _ := s.ApplyResultBatch(ctx, []model.ModelResult{result("p1", 8), result("ghost", 3)})

			Convey("Then it is retained but excluded from metrics", func() {
				So(st.Unmatched, ShouldEqual, 1)
				So(s.MergedView(ctx), ShouldHaveLength, 3)
				So(s.Metrics(ctx).ValidPairs, ShouldEqual, 1)
				So(s.Unmatched(ctx), ShouldResemble, []model.ModelResult{result("ghost", 3)})
			})
		})

		Convey("When results are invalid", func() {
			st, _ := s.ApplyResultBatch(ctx, []model.ModelResult{result("", 3), result("p1", math.NaN())})

			Convey("Then they are skipped", func() {
				So(st.Invalid, ShouldEqual, 2)
				So(st.Applied, ShouldEqual, 0)
				So(s.Metrics(ctx).ValidPairs, ShouldEqual, 0)
			})
		})

		Convey("When new rows are loaded", func() {
			_, _ = s.ApplyResultBatch(ctx, []model.ModelResult{result("p1", 8)})
			_, err := s.LoadOriginalRows(ctx, []model.OriginalRow{row("q1", 3)})
			So(err, ShouldBeNil)

			Convey("Then results and metrics are reset", func() {
				So(s.Count(ctx), ShouldEqual, 1)
				So(s.ResultCount(ctx), ShouldEqual, 0)
				So(s.MergedView(ctx)[0].Processed(), ShouldBeFalse)
				So(s.Metrics(ctx).MeanAbsDeviation, ShouldBeNil)
			})
		})

		Convey("When a row is looked up", func() {
			_, err := s.Lookup(ctx, "missing")

			Convey("Then unknown ids are not found", func() {
				So(err, ShouldEqual, repository.ErrNotFound)
				r, err := s.Lookup(ctx, "p2")
				So(err, ShouldBeNil)
				So(r.ID, ShouldEqual, "p2")
			})
		})
	})

	Convey("Given an upload with duplicate identifiers", t, func() {
		s := newStore()
		stats, err := s.LoadOriginalRows(ctx, []model.OriginalRow{
			row("dup", 4), row("x", 5), row("dup", 9), row("dup", 1),
		})
		So(err, ShouldBeNil)

		Convey("Then the duplicate is reported once", func() {
			So(stats.DuplicateIDs, ShouldResemble, []string{"dup"})
		})

		Convey("When a result arrives for the duplicate id", func() {
			_, _ = s.ApplyResultBatch(ctx, []model.ModelResult{result("dup", 4)})

			Convey("Then it attaches to the first row only", func() {
				view := s.MergedView(ctx)
				So(view, ShouldHaveLength, 4)
				So(view[0].Processed(), ShouldBeTrue)
				So(view[2].Processed(), ShouldBeFalse)
				So(view[3].Processed(), ShouldBeFalse)
				So(s.Metrics(ctx).ValidPairs, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a row without an identifier", t, func() {
		s := newStore()
		_, err := s.LoadOriginalRows(ctx, []model.OriginalRow{row("a", 1), {Response: "x"}})

		Convey("Then loading fails and nothing is replaced", func() {
			So(errors.Is(err, repository.ErrEmptyID), ShouldBeTrue)
			So(s.Count(ctx), ShouldEqual, 0)
		})
	})
}

func TestReconcileStoreWindow(t *testing.T) {
	ctx := context.Background()

	Convey("Given 120 rows", t, func() {
		s := newStore()
		rows := make([]model.OriginalRow, 120)
		for i := range rows {
			rows[i] = row(string(rune('A'+i%26))+string(rune('0'+i/26)), 5)
		}
		_, err := s.LoadOriginalRows(ctx, rows)
		So(err, ShouldBeNil)

		Convey("When a window is requested", func() {
			page, total, err := s.Window(ctx, 100, 50)

			Convey("Then it is truncated at the end", func() {
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 120)
				So(page, ShouldHaveLength, 20)
				So(page[0].ID, ShouldEqual, rows[100].ID)
			})
		})

		Convey("When the offset is past the end", func() {
			page, total, err := s.Window(ctx, 500, 10)

			Convey("Then the page is empty", func() {
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 120)
				So(page, ShouldBeEmpty)
			})
		})

		Convey("When limits are invalid", func() {
			_, _, err1 := s.Window(ctx, 0, 0)
			_, _, err2 := s.Window(ctx, 0, 51)
			_, _, err3 := s.Window(ctx, -1, 10)

			Convey("Then errors are returned", func() {
				So(err1, ShouldEqual, repository.ErrInvalidLimit)
				So(err2, ShouldEqual, repository.ErrInvalidLimit)
				So(err3, ShouldEqual, repository.ErrInvalidOffset)
			})
		})
	})
}

func TestReconcileStoreConcurrentReaders(t *testing.T) {
	ctx := context.Background()

	Convey("Given readers running while batches are applied", t, func() {
		s := newStore()
		rows := make([]model.OriginalRow, 50)
		for i := range rows {
			rows[i] = row(string(rune('a'+i%26))+string(rune('a'+i/26)), float64(i%10))
		}
		_, _ = s.LoadOriginalRows(ctx, rows)

		var wg sync.WaitGroup
		inconsistent := make(chan struct{}, 1)
		stop := make(chan struct{})
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					snap := s.Snapshot()
					processed := 0
					for _, m := range snap.Merged {
						if m.ModelScore != nil && m.HumanMedian != nil {
							processed++
						}
					}
					if processed != snap.Metrics.ValidPairs {
						select {
						case inconsistent <- struct{}{}:
						default:
						}
					}
				}
			}()
		}

		for i := 0; i < 50; i += 5 {
			batch := make([]model.ModelResult, 0, 5)
			for j := i; j < i+5; j++ {
				batch = append(batch, result(rows[j].ID, float64(j%10)))
			}
			_, _ = s.ApplyResultBatch(ctx, batch)
		}
		close(stop)
		wg.Wait()

		Convey("Then every snapshot's metrics match its merged rows", func() {
			So(len(inconsistent), ShouldEqual, 0)
			So(s.Metrics(ctx).ValidPairs, ShouldEqual, 50)
		})
	})
}
