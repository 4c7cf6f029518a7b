package guard_test

import (
	"testing"
	"time"

	"github.com/nutrikit/adapt/internal/domain/guard"
	"github.com/nutrikit/adapt/internal/domain/model"
	"github.com/nutrikit/adapt/internal/domain/trend"
	"github.com/smartystreets/goconvey/convey"
)

func day(n int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func fptr(v float64) *float64 { return &v }

func intakeRecords(days int, kcal float64) []model.DailyMetricRecord {
	out := make([]model.DailyMetricRecord, 0, days)
	for d := 0; d < days; d++ {
		out = append(out, model.DailyMetricRecord{
			UserID:     "u1",
			Date:       day(d),
			IntakeKcal: fptr(kcal),
		})
	}
	return out
}

// decliningTrend builds a smoothed series losing lossPerWeek over days.
func decliningTrend(days int, start, lossPerWeek float64) []trend.Sample {
	out := make([]trend.Sample, 0, days)
	for d := 0; d < days; d++ {
		out = append(out, trend.Sample{Date: day(d), Value: start - lossPerWeek*float64(d)/7})
	}
	return out
}

func TestGuard(t *testing.T) {
	convey.Convey("Given a guard with defaults", t, func() {
		g := guard.New()
		safeTrend := decliningTrend(28, 200, 1.0)

		convey.Convey("When intake, rate, and confidence are all healthy", func() {
			veto := g.Check(intakeRecords(28, 1800), safeTrend, 0.9)

			convey.Convey("Then no veto fires", func() {
				convey.So(veto, convey.ShouldBeNil)
			})
		})

		convey.Convey("When trailing mean intake sits under the floor", func() {
			veto := g.Check(intakeRecords(28, 950), safeTrend, 0.9)

			convey.Convey("Then the low intake veto fires", func() {
				convey.So(veto, convey.ShouldNotBeNil)
				convey.So(veto.Reason, convey.ShouldEqual, guard.ReasonLowIntake)
			})
		})

		convey.Convey("When only older intake was low", func() {
			records := intakeRecords(28, 1800)
			// Low intake 3 weeks ago is outside the trailing lookback.
			for i := 0; i < 7; i++ {
				records[i].IntakeKcal = fptr(900)
			}
			veto := g.Check(records, safeTrend, 0.9)

			convey.Convey("Then no veto fires", func() {
				convey.So(veto, convey.ShouldBeNil)
			})
		})

		convey.Convey("When weight loss is extreme and sustained", func() {
			veto := g.Check(intakeRecords(28, 1800), decliningTrend(28, 200, 3.0), 0.9)

			convey.Convey("Then the rapid loss veto fires", func() {
				convey.So(veto, convey.ShouldNotBeNil)
				convey.So(veto.Reason, convey.ShouldEqual, guard.ReasonRapidLoss)
			})
		})

		convey.Convey("When an extreme rate has not lasted the sustain span", func() {
			// Only ten days of trend exist, too short to call it sustained.
			veto := g.Check(intakeRecords(28, 1800), decliningTrend(10, 200, 3.0), 0.9)

			convey.Convey("Then no veto fires", func() {
				convey.So(veto, convey.ShouldBeNil)
			})
		})

		convey.Convey("When detection confidence is low", func() {
			veto := g.Check(intakeRecords(28, 1800), safeTrend, 0.6)

			convey.Convey("Then the low confidence veto fires", func() {
				convey.So(veto, convey.ShouldNotBeNil)
				convey.So(veto.Reason, convey.ShouldEqual, guard.ReasonLowConfidence)
			})
		})

		convey.Convey("When low intake and low confidence coincide", func() {
			veto := g.Check(intakeRecords(28, 900), safeTrend, 0.5)

			convey.Convey("Then the intake veto wins", func() {
				convey.So(veto, convey.ShouldNotBeNil)
				convey.So(veto.Reason, convey.ShouldEqual, guard.ReasonLowIntake)
			})
		})

		convey.Convey("When there is no data at all", func() {
			veto := g.Check(nil, nil, 0.9)

			convey.Convey("Then no veto fires", func() {
				convey.So(veto, convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a guard with custom thresholds", t, func() {
		g := guard.New(
			guard.WithIntakeFloor(1400),
			guard.WithIntakeLookback(14),
			guard.WithMaxLossRate(1.5),
			guard.WithLossSustainDays(14),
			guard.WithMinConfidence(0.9),
		)

		convey.Convey("When intake is under the raised floor", func() {
			veto := g.Check(intakeRecords(28, 1300), decliningTrend(28, 200, 1.0), 0.95)

			convey.Convey("Then the low intake veto fires", func() {
				convey.So(veto, convey.ShouldNotBeNil)
				convey.So(veto.Reason, convey.ShouldEqual, guard.ReasonLowIntake)
			})
		})

		convey.Convey("When low intake sits beyond the default lookback", func() {
			records := intakeRecords(28, 1800)
			// Days 8 to 14 back; a 7-day lookback would never see them.
			for i := 14; i <= 20; i++ {
				records[i].IntakeKcal = fptr(900)
			}
			veto := g.Check(records, decliningTrend(28, 200, 1.0), 0.95)

			convey.Convey("Then the widened lookback still catches it", func() {
				convey.So(veto, convey.ShouldNotBeNil)
				convey.So(veto.Reason, convey.ShouldEqual, guard.ReasonLowIntake)
			})
		})

		convey.Convey("When the loss rate exceeds the lowered ceiling", func() {
			veto := g.Check(intakeRecords(28, 1800), decliningTrend(28, 200, 2.0), 0.95)

			convey.Convey("Then the rapid loss veto fires", func() {
				convey.So(veto, convey.ShouldNotBeNil)
				convey.So(veto.Reason, convey.ShouldEqual, guard.ReasonRapidLoss)
			})
		})

		convey.Convey("When confidence misses the raised cutoff", func() {
			veto := g.Check(intakeRecords(28, 1800), decliningTrend(28, 200, 1.0), 0.85)

			convey.Convey("Then the low confidence veto fires", func() {
				convey.So(veto, convey.ShouldNotBeNil)
				convey.So(veto.Reason, convey.ShouldEqual, guard.ReasonLowConfidence)
			})
		})
	})
}
