package model_test

import (
	"testing"

	model "github.com/okian/evalstream/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestNewProgress(t *testing.T) {
	convey.Convey("Given progress snapshots", t, func() {
		convey.Convey("When 150 of 1500 items are done", func() {
			p := model.NewProgress(150, 1500)

			convey.Convey("Then the percentage is 10", func() {
				convey.So(p.Percentage, convey.ShouldEqual, 10)
				convey.So(p.Done(), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When rounding would reach 100 before completion", func() {
			p := model.NewProgress(996, 1000)

			convey.Convey("Then the percentage stays at 99", func() {
				convey.So(p.Percentage, convey.ShouldEqual, 99)
			})
		})

		convey.Convey("When every item is done", func() {
			p := model.NewProgress(1000, 1000)

			convey.Convey("Then the percentage is 100", func() {
				convey.So(p.Percentage, convey.ShouldEqual, 100)
				convey.So(p.Done(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the total is unknown", func() {
			p := model.NewProgress(5, 0)

			convey.Convey("Then the percentage is zero", func() {
				convey.So(p.Percentage, convey.ShouldEqual, 0)
				convey.So(p.Done(), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When a server over-reports completion", func() {
			p := model.NewProgress(12, 10)

			convey.Convey("Then the percentage is capped at 100", func() {
				convey.So(p.Percentage, convey.ShouldEqual, 100)
			})
		})
	})
}

func TestOriginalRow(t *testing.T) {
	convey.Convey("Given a row with a missing middle score", t, func() {
		row := model.OriginalRow{
			ID:          "p-1",
			Response:    "answer",
			Course:      "bio",
			Prompt:      "explain",
			HumanScores: []*float64{model.Float(8), nil, model.Float(6)},
		}

		convey.Convey("Then only present scores are returned", func() {
			convey.So(row.PresentHumanScores(), convey.ShouldResemble, []float64{8, 6})
		})

		convey.Convey("Then the job payload maps every field", func() {
			items := model.JobItems([]model.OriginalRow{row})
			convey.So(items, convey.ShouldHaveLength, 1)
			convey.So(items[0], convey.ShouldResemble, model.JobItem{
				ID: "p-1", Course: "bio", Prompt: "explain", ResponseText: "answer",
			})
		})
	})
}
