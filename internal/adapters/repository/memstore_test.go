package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/nutrikit/adapt/internal/adapters/repository"
	"github.com/nutrikit/adapt/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func day(n int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func fptr(v float64) *float64 { return &v }

func metricRec(userID string, date time.Time, weight float64) model.DailyMetricRecord {
	return model.DailyMetricRecord{
		UserID:         userID,
		Date:           date,
		Weight:         fptr(weight),
		IntakeKcal:     fptr(1800),
		AdherenceScore: fptr(0.9),
		UpdatedAt:      day(30),
	}
}

func proposalFixture(id, userID string, createdAt time.Time) *model.AdaptationProposal {
	return &model.AdaptationProposal{
		ID:                     id,
		UserID:                 userID,
		WindowStart:            day(7),
		WindowEnd:              day(27),
		Type:                   model.DeficitStall,
		Magnitude:              -0.15,
		OldDailyCalories:       1800,
		NewDailyCalories:       1530,
		OldExpenditureEstimate: 2300,
		NewExpenditureEstimate: 2050,
		DataPointsUsed:         14,
		Confidence:             0.9,
		Status:                 model.StatusPending,
		CoachMessage:           "small adjustment proposed",
		CreatedAt:              createdAt,
	}
}

// runStoreSuite exercises the Store contract shared by both
// implementations.
func runStoreSuite(store repository.Store) {
	ctx := context.Background()

	convey.Convey("When upserting metrics", func() {
		convey.So(store.UpsertMetric(ctx, metricRec("u1", day(2), 200)), convey.ShouldBeNil)
		convey.So(store.UpsertMetric(ctx, metricRec("u1", day(0), 201)), convey.ShouldBeNil)
		convey.So(store.UpsertMetric(ctx, metricRec("u1", day(1), 200.5)), convey.ShouldBeNil)
		convey.So(store.UpsertMetric(ctx, metricRec("u2", day(0), 150)), convey.ShouldBeNil)

		convey.Convey("Then MetricsSince returns only that user ascending by date", func() {
			out, err := store.MetricsSince(ctx, "u1", day(0))
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldHaveLength, 3)
			convey.So(out[0].Date.Equal(day(0)), convey.ShouldBeTrue)
			convey.So(out[1].Date.Equal(day(1)), convey.ShouldBeTrue)
			convey.So(out[2].Date.Equal(day(2)), convey.ShouldBeTrue)
			convey.So(*out[0].Weight, convey.ShouldEqual, 201)
		})

		convey.Convey("Then the since cutoff excludes older records", func() {
			out, err := store.MetricsSince(ctx, "u1", day(1))
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldHaveLength, 2)
			convey.So(out[0].Date.Equal(day(1)), convey.ShouldBeTrue)
		})

		convey.Convey("Then re-submitting a date overwrites, never duplicates", func() {
			rec := metricRec("u1", day(1), 199)
			rec.IntakeKcal = nil
			convey.So(store.UpsertMetric(ctx, rec), convey.ShouldBeNil)

			out, err := store.MetricsSince(ctx, "u1", day(0))
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldHaveLength, 3)
			convey.So(*out[1].Weight, convey.ShouldEqual, 199)
			convey.So(out[1].IntakeKcal, convey.ShouldBeNil)
		})

		convey.Convey("Then a timestamped date is keyed on its calendar day", func() {
			rec := metricRec("u3", day(5).Add(15*time.Hour+30*time.Minute), 170)
			convey.So(store.UpsertMetric(ctx, rec), convey.ShouldBeNil)

			out, err := store.MetricsSince(ctx, "u3", day(5))
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldHaveLength, 1)
			convey.So(out[0].Date.Equal(day(5)), convey.ShouldBeTrue)
		})
	})

	convey.Convey("When working with profiles", func() {
		convey.Convey("Then an unknown user yields ErrNotFound", func() {
			_, err := store.Profile(ctx, "ghost")
			convey.So(err, convey.ShouldWrap, repository.ErrNotFound)
		})

		convey.Convey("Then save and load round-trip", func() {
			p := model.Profile{UserID: "u1", DailyCalories: 1800, Goal: model.GoalLose, AutoApply: true}
			convey.So(store.SaveProfile(ctx, p), convey.ShouldBeNil)

			got, err := store.Profile(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(got, convey.ShouldResemble, p)
		})

		convey.Convey("Then UserIDs lists every user with a profile, sorted", func() {
			convey.So(store.SaveProfile(ctx, model.Profile{UserID: "ub", DailyCalories: 2000, Goal: model.GoalGain}), convey.ShouldBeNil)
			convey.So(store.SaveProfile(ctx, model.Profile{UserID: "ua", DailyCalories: 1700, Goal: model.GoalLose}), convey.ShouldBeNil)

			ids, err := store.UserIDs(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ids, convey.ShouldResemble, []string{"ua", "ub"})
		})
	})

	convey.Convey("When working with proposals", func() {
		convey.So(store.SaveProfile(ctx, model.Profile{UserID: "u1", DailyCalories: 1800, Goal: model.GoalLose}), convey.ShouldBeNil)

		convey.Convey("Then create and read round-trip", func() {
			p := proposalFixture("p1", "u1", day(28))
			convey.So(store.CreateProposal(ctx, p, nil), convey.ShouldBeNil)

			got, err := store.Proposal(ctx, "p1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.UserID, convey.ShouldEqual, "u1")
			convey.So(got.Type, convey.ShouldEqual, model.DeficitStall)
			convey.So(got.Magnitude, convey.ShouldAlmostEqual, -0.15, 1e-9)
			convey.So(got.NewDailyCalories, convey.ShouldEqual, 1530)
			convey.So(got.Status, convey.ShouldEqual, model.StatusPending)
			convey.So(got.CoachMessage, convey.ShouldEqual, "small adjustment proposed")
			convey.So(got.WindowStart.Equal(day(7)), convey.ShouldBeTrue)
			convey.So(got.DecidedAt, convey.ShouldBeNil)
		})

		convey.Convey("Then an unknown proposal yields ErrNotFound", func() {
			_, err := store.Proposal(ctx, "missing")
			convey.So(err, convey.ShouldWrap, repository.ErrNotFound)
		})

		convey.Convey("Then OpenProposal finds the pending one", func() {
			open, err := store.OpenProposal(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(open, convey.ShouldBeNil)

			convey.So(store.CreateProposal(ctx, proposalFixture("p1", "u1", day(28)), nil), convey.ShouldBeNil)

			open, err = store.OpenProposal(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(open, convey.ShouldNotBeNil)
			convey.So(open.ID, convey.ShouldEqual, "p1")
		})

		convey.Convey("Then PendingProposals lists only the open one", func() {
			convey.So(store.CreateProposal(ctx, proposalFixture("p1", "u1", day(28)), nil), convey.ShouldBeNil)
			_, err := store.TransitionProposal(ctx, "p1", model.StatusPending, model.StatusDeclined, day(29), nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(store.CreateProposal(ctx, proposalFixture("p2", "u1", day(29)), nil), convey.ShouldBeNil)

			out, err := store.PendingProposals(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldHaveLength, 1)
			convey.So(out[0].ID, convey.ShouldEqual, "p2")
		})

		convey.Convey("Then a second open proposal for the same user is refused", func() {
			convey.So(store.CreateProposal(ctx, proposalFixture("p1", "u1", day(28)), nil), convey.ShouldBeNil)

			err := store.CreateProposal(ctx, proposalFixture("p2", "u1", day(29)), nil)
			convey.So(err, convey.ShouldWrap, repository.ErrOpenProposalExists)

			out, err := store.PendingProposals(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldHaveLength, 1)
			convey.So(out[0].ID, convey.ShouldEqual, "p1")
		})

		convey.Convey("Then other users still open proposals of their own", func() {
			convey.So(store.CreateProposal(ctx, proposalFixture("p1", "u1", day(28)), nil), convey.ShouldBeNil)
			convey.So(store.CreateProposal(ctx, proposalFixture("p2", "u2", day(28)), nil), convey.ShouldBeNil)

			open, err := store.OpenProposal(ctx, "u2")
			convey.So(err, convey.ShouldBeNil)
			convey.So(open, convey.ShouldNotBeNil)
			convey.So(open.ID, convey.ShouldEqual, "p2")
		})

		convey.Convey("Then a terminal event may coexist with an open proposal", func() {
			convey.So(store.CreateProposal(ctx, proposalFixture("p1", "u1", day(28)), nil), convey.ShouldBeNil)

			ev := proposalFixture("p2", "u1", day(29))
			ev.Type = model.NoAdaptation
			ev.Status = model.StatusApplied
			convey.So(store.CreateProposal(ctx, ev, nil), convey.ShouldBeNil)

			out, err := store.PendingProposals(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldHaveLength, 1)
		})

		convey.Convey("Then auto-apply creation writes the target atomically", func() {
			p := proposalFixture("p1", "u1", day(28))
			p.Status = model.StatusApplied
			target := p.NewDailyCalories
			convey.So(store.CreateProposal(ctx, p, &target), convey.ShouldBeNil)

			prof, err := store.Profile(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(prof.DailyCalories, convey.ShouldEqual, 1530)
		})

		convey.Convey("Then auto-apply creation for a missing profile fails", func() {
			p := proposalFixture("p1", "nobody", day(28))
			target := 1500
			err := store.CreateProposal(ctx, p, &target)
			convey.So(err, convey.ShouldWrap, repository.ErrNotFound)
		})
	})

	convey.Convey("When transitioning proposal status", func() {
		convey.So(store.SaveProfile(ctx, model.Profile{UserID: "u1", DailyCalories: 1800, Goal: model.GoalLose}), convey.ShouldBeNil)
		convey.So(store.CreateProposal(ctx, proposalFixture("p1", "u1", day(28)), nil), convey.ShouldBeNil)

		convey.Convey("Then approve applies status, timestamps, and target together", func() {
			target := 1530
			got, err := store.TransitionProposal(ctx, "p1", model.StatusPending, model.StatusApplied, day(29), &target)
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.Status, convey.ShouldEqual, model.StatusApplied)
			convey.So(got.DecidedAt, convey.ShouldNotBeNil)
			convey.So(got.AppliedAt, convey.ShouldNotBeNil)

			prof, err := store.Profile(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(prof.DailyCalories, convey.ShouldEqual, 1530)
		})

		convey.Convey("Then a stale expectation yields ErrStatusConflict", func() {
			target := 1530
			_, err := store.TransitionProposal(ctx, "p1", model.StatusPending, model.StatusApplied, day(29), &target)
			convey.So(err, convey.ShouldBeNil)

			current, err := store.TransitionProposal(ctx, "p1", model.StatusPending, model.StatusDeclined, day(29), nil)
			convey.So(err, convey.ShouldWrap, repository.ErrStatusConflict)
			convey.So(current.Status, convey.ShouldEqual, model.StatusApplied)
		})

		convey.Convey("Then decline stamps the decision and leaves the target alone", func() {
			got, err := store.TransitionProposal(ctx, "p1", model.StatusPending, model.StatusDeclined, day(29), nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.Status, convey.ShouldEqual, model.StatusDeclined)
			convey.So(got.DecidedAt, convey.ShouldNotBeNil)
			convey.So(got.AppliedAt, convey.ShouldBeNil)

			prof, err := store.Profile(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(prof.DailyCalories, convey.ShouldEqual, 1800)
		})

		convey.Convey("Then rollback restores the old target and stamps the time", func() {
			target := 1530
			_, err := store.TransitionProposal(ctx, "p1", model.StatusPending, model.StatusApplied, day(29), &target)
			convey.So(err, convey.ShouldBeNil)

			restore := 1800
			got, err := store.TransitionProposal(ctx, "p1", model.StatusApplied, model.StatusRolledBack, day(30), &restore)
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.Status, convey.ShouldEqual, model.StatusRolledBack)
			convey.So(got.RolledBackAt, convey.ShouldNotBeNil)

			prof, err := store.Profile(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(prof.DailyCalories, convey.ShouldEqual, 1800)
		})

		convey.Convey("Then an unknown proposal yields ErrNotFound", func() {
			_, err := store.TransitionProposal(ctx, "missing", model.StatusPending, model.StatusDeclined, day(29), nil)
			convey.So(err, convey.ShouldWrap, repository.ErrNotFound)
		})
	})
}

func TestMemStore(t *testing.T) {
	convey.Convey("Given an in-memory store", t, func() {
		runStoreSuite(repository.NewMemStore())
	})
}

func TestMemStoreConcurrency(t *testing.T) {
	convey.Convey("Given concurrent metric writers", t, func() {
		store := repository.NewMemStore()
		ctx := context.Background()

		done := make(chan struct{})
		for w := 0; w < 8; w++ {
			go func(w int) {
				defer func() { done <- struct{}{} }()
				for d := 0; d < 20; d++ {
					_ = store.UpsertMetric(ctx, metricRec("u1", day(d), 200))
				}
			}(w)
		}
		for w := 0; w < 8; w++ {
			<-done
		}

		convey.Convey("Then the store holds one record per date", func() {
			out, err := store.MetricsSince(ctx, "u1", day(0))
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldHaveLength, 20)
		})
	})
}
