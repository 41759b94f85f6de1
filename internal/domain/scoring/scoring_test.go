package scoring_test

import (
	"context"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/evalstream/internal/domain/model"
	scoring "github.com/okian/evalstream/internal/domain/scoring"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestInMemoryScorer_Score(t *testing.T) {
	Convey("Given a scorer without latency or noise", t, func() {
		scorer := scoring.NewInMemoryScorer(
			scoring.WithLatencyRange(0, 0),
			scoring.WithNoise(0),
			scoring.WithTargetWords(10),
			scoring.WithCourseWeights(map[string]float64{"Biology": 0.5}, 1),
		)
		ctx := context.Background()

		Convey("A response at the target length earns full marks", func() {
			res, err := scorer.Score(ctx, scoring.Input{ID: "r1", Course: "History", ResponseText: words(10)})
			So(err, ShouldBeNil)
			So(res.ID, ShouldEqual, "r1")
			So(res.Score, ShouldEqual, 10.0)
		})

		Convey("Shorter responses score proportionally", func() {
			res, err := scorer.Score(ctx, scoring.Input{ID: "r2", ResponseText: words(4)})
			So(err, ShouldBeNil)
			So(res.Score, ShouldEqual, 4.0)
		})

		Convey("Course weights are matched case-insensitively", func() {
			res, err := scorer.Score(ctx, scoring.Input{ID: "r3", Course: "biology", ResponseText: words(20)})
			So(err, ShouldBeNil)
			So(res.Score, ShouldEqual, 5.0)
		})

		Convey("An empty response scores zero", func() {
			res, err := scorer.Score(ctx, scoring.Input{ID: "r4", ResponseText: "   "})
			So(err, ShouldBeNil)
			So(res.Score, ShouldEqual, 0.0)
		})

		Convey("Confidence stays within bounds", func() {
			for i := 0; i < 50; i++ {
				res, err := scorer.Score(ctx, scoring.Input{ID: "r", ResponseText: words(3)})
				So(err, ShouldBeNil)
				So(res.Confidence, ShouldBeBetweenOrEqual, 0.55, 1.0)
			}
		})

		Convey("The result converts to the streamed shape", func() {
			res, err := scorer.Score(ctx, scoring.InputFromItem(model.JobItem{ID: "r5", ResponseText: words(5)}))
			So(err, ShouldBeNil)
			mr := res.ModelResult()
			So(mr.ID, ShouldEqual, "r5")
			So(mr.Score, ShouldEqual, 5.0)
			So(mr.Confidence, ShouldNotBeNil)
			So(mr.ProcessingTimeMs, ShouldNotBeNil)
		})
	})

	Convey("Given a noisy scorer", t, func() {
		scorer := scoring.NewInMemoryScorer(scoring.WithLatencyRange(0, 0), scoring.WithNoise(3), scoring.WithSeed(7))

		Convey("Scores are clamped to the valid range", func() {
			for i := 0; i < 200; i++ {
				res, err := scorer.Score(context.Background(), scoring.Input{ID: "x", ResponseText: words(i % 90)})
				So(err, ShouldBeNil)
				So(res.Score, ShouldBeBetweenOrEqual, model.MinScore, model.MaxScore)
			}
		})
	})

	Convey("Given a slow scorer", t, func() {
		scorer := scoring.NewInMemoryScorer(scoring.WithLatencyRange(time.Second, 2*time.Second))

		Convey("A cancelled context aborts scoring", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			_, err := scorer.Score(ctx, scoring.Input{ID: "x", ResponseText: "hi"})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "context cancelled")
		})
	})
}
