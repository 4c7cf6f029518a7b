package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nutrikit/adapt/internal/adapters/notify"
	"github.com/nutrikit/adapt/internal/adapters/repository"
	"github.com/nutrikit/adapt/internal/app"
	"github.com/nutrikit/adapt/internal/domain/model"
	"github.com/nutrikit/adapt/internal/domain/trend"
	"github.com/nutrikit/adapt/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// captureNotifier records delivered messages for assertions.
type captureNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (n *captureNotifier) Deliver(_ context.Context, m notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, m)
	return nil
}

func (n *captureNotifier) last() *notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return nil
	}
	m := n.messages[len(n.messages)-1]
	return &m
}

func fptr(v float64) *float64 { return &v }

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *repository.MemStore
	engine   *app.Engine
	notifier *captureNotifier
	clock    *testClock
	today    time.Time
}

// newFixture builds an engine over a fresh store with a near-raw smoother
// so window rates track the seeded series exactly.
func newFixture(opts ...app.Option) *fixture {
	_ = logger.Init()
	f := &fixture{
		store:    repository.NewMemStore(),
		notifier: &captureNotifier{},
		clock:    &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.today = model.DateOf(f.clock.Now())

	base := []app.Option{
		app.WithClock(f.clock.Now),
		app.WithNotifier(f.notifier),
		app.WithSmoother(trend.NewSmoother(trend.WithHalfLife(0.1))),
	}
	f.engine = app.New(f.store, append(base, opts...)...)
	return f
}

// seedUser writes a profile and days of dense history ending today, with
// weights from weightAt (indexed from the series start).
func (f *fixture) seedUser(userID string, goal model.Goal, days int, weightAt func(d int) float64, intake, adherence float64) {
	ctx := context.Background()
	if err := f.engine.SaveProfile(ctx, model.Profile{UserID: userID, DailyCalories: 1800, Goal: goal}); err != nil {
		panic(err)
	}
	start := f.today.AddDate(0, 0, -(days - 1))
	for d := 0; d < days; d++ {
		err := f.engine.Record(ctx, model.DailyMetricRecord{
			UserID:         userID,
			Date:           start.AddDate(0, 0, d),
			Weight:         fptr(weightAt(d)),
			IntakeKcal:     fptr(intake),
			AdherenceScore: fptr(adherence),
		})
		if err != nil {
			panic(err)
		}
	}
}

// stallWeights is a 35-day series losing 1.5 lb/week through day 20, then
// 0.5 lb/week: the earlier comparison window sees the fast phase, the
// trailing window the slow one.
func stallWeights(d int) float64 {
	if d <= 20 {
		return 200 - 1.5*float64(d)/7
	}
	return 200 - 1.5*20.0/7 - 0.5*float64(d-20)/7
}

func TestEngineDetect(t *testing.T) {
	convey.Convey("Given a user whose weight loss stalled at stable intake", t, func() {
		f := newFixture()
		f.seedUser("u1", model.GoalLose, 35, stallWeights, 1800, 1.0)
		ctx := context.Background()

		convey.Convey("When detection runs", func() {
			p, err := f.engine.Detect(ctx, "u1")

			convey.Convey("Then it proposes a bounded calorie reduction", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p, convey.ShouldNotBeNil)
				convey.So(p.Type, convey.ShouldEqual, model.DeficitStall)
				convey.So(p.Status, convey.ShouldEqual, model.StatusPending)
				convey.So(p.OldDailyCalories, convey.ShouldEqual, 1800)
				convey.So(p.NewDailyCalories, convey.ShouldEqual, 1350)
				convey.So(p.Magnitude, convey.ShouldAlmostEqual, -0.25, 1e-9)
				convey.So(p.DataPointsUsed, convey.ShouldEqual, 14)
				convey.So(p.Confidence, convey.ShouldAlmostEqual, 1.0, 1e-9)
				convey.So(p.WindowEnd.Equal(f.today), convey.ShouldBeTrue)
				convey.So(p.CoachMessage, convey.ShouldContainSubstring, "25%")
			})

			convey.Convey("Then the live calorie target is untouched", func() {
				convey.So(err, convey.ShouldBeNil)
				prof, err := f.engine.Profile(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(prof.DailyCalories, convey.ShouldEqual, 1800)
			})

			convey.Convey("Then the coach message was delivered", func() {
				convey.So(err, convey.ShouldBeNil)
				msg := f.notifier.last()
				convey.So(msg, convey.ShouldNotBeNil)
				convey.So(msg.UserID, convey.ShouldEqual, "u1")
				convey.So(msg.ProposalID, convey.ShouldEqual, p.ID)
			})

			convey.Convey("Then a re-detection returns the open proposal", func() {
				convey.So(err, convey.ShouldBeNil)
				again, err := f.engine.Detect(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(again, convey.ShouldNotBeNil)
				convey.So(again.ID, convey.ShouldEqual, p.ID)

				pending, err := f.engine.ListPending(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(pending, convey.ShouldHaveLength, 1)
			})
		})
	})

	convey.Convey("Given detection no-op conditions", t, func() {
		f := newFixture()
		ctx := context.Background()

		convey.Convey("When history is shorter than three weeks", func() {
			f.seedUser("u1", model.GoalLose, 14, stallWeights, 1800, 1.0)
			p, err := f.engine.Detect(ctx, "u1")

			convey.Convey("Then nothing is proposed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the loss rate holds steady", func() {
			f.seedUser("u1", model.GoalLose, 35, func(d int) float64 {
				return 200 - 1.0*float64(d)/7
			}, 1800, 1.0)
			p, err := f.engine.Detect(ctx, "u1")

			convey.Convey("Then nothing is proposed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p, convey.ShouldBeNil)
			})
		})

		convey.Convey("When intake drifted between the windows", func() {
			f.seedUser("u1", model.GoalLose, 35, stallWeights, 1800, 1.0)
			// Re-log the trailing week at a materially lower intake.
			for d := 0; d < 7; d++ {
				err := f.engine.Record(ctx, model.DailyMetricRecord{
					UserID:         "u1",
					Date:           f.today.AddDate(0, 0, -d),
					Weight:         fptr(stallWeights(34 - d)),
					IntakeKcal:     fptr(1450),
					AdherenceScore: fptr(1.0),
				})
				convey.So(err, convey.ShouldBeNil)
			}
			p, err := f.engine.Detect(ctx, "u1")

			convey.Convey("Then the diet change suppresses detection", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the user has no profile", func() {
			_, err := f.engine.Detect(ctx, "ghost")

			convey.Convey("Then detection fails with not found", func() {
				convey.So(err, convey.ShouldWrap, repository.ErrNotFound)
			})
		})
	})

	convey.Convey("Given a stall with a safety veto", t, func() {
		ctx := context.Background()

		convey.Convey("When trailing intake sits under the floor", func() {
			f := newFixture()
			f.seedUser("u1", model.GoalLose, 35, stallWeights, 950, 1.0)
			p, err := f.engine.Detect(ctx, "u1")

			convey.Convey("Then only a supportive event is recorded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p, convey.ShouldNotBeNil)
				convey.So(p.Type, convey.ShouldEqual, model.NoAdaptation)
				convey.So(p.Status, convey.ShouldEqual, model.StatusApplied)
				convey.So(p.NewDailyCalories, convey.ShouldEqual, p.OldDailyCalories)
				convey.So(p.Magnitude, convey.ShouldEqual, 0)
				convey.So(p.CoachMessage, convey.ShouldContainSubstring, "Keep logging")

				prof, err := f.engine.Profile(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(prof.DailyCalories, convey.ShouldEqual, 1800)
			})

			convey.Convey("Then the event accepts no decisions", func() {
				convey.So(err, convey.ShouldBeNil)
				_, aerr := f.engine.Approve(ctx, p.ID)
				convey.So(aerr, convey.ShouldWrap, app.ErrInvalidTransition)
				_, derr := f.engine.Decline(ctx, p.ID)
				convey.So(derr, convey.ShouldWrap, app.ErrInvalidTransition)
				_, rerr := f.engine.Rollback(ctx, p.ID)
				convey.So(rerr, convey.ShouldWrap, app.ErrInvalidTransition)
			})
		})

		convey.Convey("When adherence is too spotty to trust the signal", func() {
			f := newFixture()
			f.seedUser("u1", model.GoalLose, 35, stallWeights, 1800, 0.6)
			p, err := f.engine.Detect(ctx, "u1")

			convey.Convey("Then the low confidence veto downgrades it", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p, convey.ShouldNotBeNil)
				convey.So(p.Type, convey.ShouldEqual, model.NoAdaptation)
				convey.So(p.NewDailyCalories, convey.ShouldEqual, p.OldDailyCalories)
			})
		})
	})

	convey.Convey("Given an opted-in user with a confident detection", t, func() {
		f := newFixture()
		ctx := context.Background()
		f.seedUser("u1", model.GoalLose, 35, stallWeights, 1800, 1.0)
		prof, err := f.engine.Profile(ctx, "u1")
		convey.So(err, convey.ShouldBeNil)
		prof.AutoApply = true
		convey.So(f.engine.SaveProfile(ctx, prof), convey.ShouldBeNil)

		convey.Convey("When detection runs", func() {
			p, err := f.engine.Detect(ctx, "u1")

			convey.Convey("Then the proposal is applied without review", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p, convey.ShouldNotBeNil)
				convey.So(p.Status, convey.ShouldEqual, model.StatusApplied)
				convey.So(p.AppliedAt, convey.ShouldNotBeNil)

				got, err := f.engine.Profile(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.DailyCalories, convey.ShouldEqual, 1350)
			})

			convey.Convey("Then it can still be rolled back", func() {
				convey.So(err, convey.ShouldBeNil)
				rolled, rerr := f.engine.Rollback(ctx, p.ID)
				convey.So(rerr, convey.ShouldBeNil)
				convey.So(rolled.Status, convey.ShouldEqual, model.StatusRolledBack)

				got, err := f.engine.Profile(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.DailyCalories, convey.ShouldEqual, 1800)
			})
		})
	})

	convey.Convey("Given a gaining user whose surplus stopped working", t, func() {
		f := newFixture()
		ctx := context.Background()
		// Gaining 1.0 lb/week through day 20, then 0.4.
		f.seedUser("u1", model.GoalGain, 35, func(d int) float64 {
			if d <= 20 {
				return 150 + 1.0*float64(d)/7
			}
			return 150 + 1.0*20.0/7 + 0.4*float64(d-20)/7
		}, 3000, 1.0)

		convey.Convey("When detection runs", func() {
			p, err := f.engine.Detect(ctx, "u1")

			convey.Convey("Then it proposes raising the target", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p, convey.ShouldNotBeNil)
				convey.So(p.Type, convey.ShouldEqual, model.SurplusSlow)
				convey.So(p.NewDailyCalories, convey.ShouldBeGreaterThan, p.OldDailyCalories)
			})
		})
	})
}

// gateStore stalls metric reads so two detections can both clear the
// up-front open-proposal check before either one creates.
type gateStore struct {
	repository.Store
	arrived chan struct{}
	release chan struct{}
}

func (g *gateStore) MetricsSince(ctx context.Context, userID string, since time.Time) ([]model.DailyMetricRecord, error) {
	g.arrived <- struct{}{}
	<-g.release
	return g.Store.MetricsSince(ctx, userID, since)
}

func TestEngineDetectConcurrent(t *testing.T) {
	_ = logger.Init()

	convey.Convey("Given two detections racing for the same user", t, func() {
		f := newFixture()
		ctx := context.Background()
		f.seedUser("u1", model.GoalLose, 35, stallWeights, 1800, 1.0)

		gate := &gateStore{
			Store:   f.store,
			arrived: make(chan struct{}, 2),
			release: make(chan struct{}),
		}
		engine := app.New(gate,
			app.WithClock(f.clock.Now),
			app.WithNotifier(f.notifier),
			app.WithSmoother(trend.NewSmoother(trend.WithHalfLife(0.1))),
		)

		type outcome struct {
			p   *model.AdaptationProposal
			err error
		}
		results := make(chan outcome, 2)
		for i := 0; i < 2; i++ {
			go func() {
				p, err := engine.Detect(ctx, "u1")
				results <- outcome{p: p, err: err}
			}()
		}
		// Both calls have observed "no open proposal"; let them proceed.
		<-gate.arrived
		<-gate.arrived
		close(gate.release)

		convey.Convey("Then exactly one open proposal survives", func() {
			first := <-results
			second := <-results
			convey.So(first.err, convey.ShouldBeNil)
			convey.So(second.err, convey.ShouldBeNil)
			convey.So(first.p, convey.ShouldNotBeNil)
			convey.So(second.p, convey.ShouldNotBeNil)
			convey.So(first.p.ID, convey.ShouldEqual, second.p.ID)

			pending, err := engine.ListPending(ctx, "u1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(pending, convey.ShouldHaveLength, 1)
			convey.So(pending[0].ID, convey.ShouldEqual, first.p.ID)
		})
	})
}

func TestEngineDecisions(t *testing.T) {
	convey.Convey("Given a pending proposal", t, func() {
		f := newFixture()
		ctx := context.Background()
		f.seedUser("u1", model.GoalLose, 35, stallWeights, 1800, 1.0)
		p, err := f.engine.Detect(ctx, "u1")
		convey.So(err, convey.ShouldBeNil)
		convey.So(p, convey.ShouldNotBeNil)

		convey.Convey("When the user approves", func() {
			applied, err := f.engine.Approve(ctx, p.ID)

			convey.Convey("Then the new target goes live with the proposal", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(applied.Status, convey.ShouldEqual, model.StatusApplied)
				convey.So(applied.DecidedAt, convey.ShouldNotBeNil)
				convey.So(applied.AppliedAt, convey.ShouldNotBeNil)

				prof, err := f.engine.Profile(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(prof.DailyCalories, convey.ShouldEqual, 1350)
			})

			convey.Convey("Then a repeated approve is a no-op success", func() {
				convey.So(err, convey.ShouldBeNil)
				again, err := f.engine.Approve(ctx, p.ID)
				convey.So(err, convey.ShouldBeNil)
				convey.So(again.Status, convey.ShouldEqual, model.StatusApplied)

				prof, err := f.engine.Profile(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(prof.DailyCalories, convey.ShouldEqual, 1350)
			})

			convey.Convey("Then declining afterwards is rejected", func() {
				convey.So(err, convey.ShouldBeNil)
				_, derr := f.engine.Decline(ctx, p.ID)
				convey.So(derr, convey.ShouldWrap, app.ErrInvalidTransition)
			})
		})

		convey.Convey("When the user declines", func() {
			declined, err := f.engine.Decline(ctx, p.ID)

			convey.Convey("Then the target never changes", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(declined.Status, convey.ShouldEqual, model.StatusDeclined)
				convey.So(declined.DecidedAt, convey.ShouldNotBeNil)

				prof, err := f.engine.Profile(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(prof.DailyCalories, convey.ShouldEqual, 1800)
			})

			convey.Convey("Then approving afterwards is rejected", func() {
				convey.So(err, convey.ShouldBeNil)
				_, aerr := f.engine.Approve(ctx, p.ID)
				convey.So(aerr, convey.ShouldWrap, app.ErrInvalidTransition)
			})

			convey.Convey("Then the user is free for a fresh detection", func() {
				convey.So(err, convey.ShouldBeNil)
				next, nerr := f.engine.Detect(ctx, "u1")
				convey.So(nerr, convey.ShouldBeNil)
				convey.So(next, convey.ShouldNotBeNil)
				convey.So(next.ID, convey.ShouldNotEqual, p.ID)
			})
		})

		convey.Convey("When rolling back inside the window", func() {
			_, err := f.engine.Approve(ctx, p.ID)
			convey.So(err, convey.ShouldBeNil)
			f.clock.Advance(6 * time.Hour)

			rolled, err := f.engine.Rollback(ctx, p.ID)

			convey.Convey("Then the previous target is restored exactly", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rolled.Status, convey.ShouldEqual, model.StatusRolledBack)
				convey.So(rolled.RolledBackAt, convey.ShouldNotBeNil)

				prof, err := f.engine.Profile(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(prof.DailyCalories, convey.ShouldEqual, 1800)
			})

			convey.Convey("Then a second rollback is rejected", func() {
				convey.So(err, convey.ShouldBeNil)
				_, rerr := f.engine.Rollback(ctx, p.ID)
				convey.So(rerr, convey.ShouldWrap, app.ErrInvalidTransition)
			})
		})

		convey.Convey("When rolling back after the window closed", func() {
			_, err := f.engine.Approve(ctx, p.ID)
			convey.So(err, convey.ShouldBeNil)
			f.clock.Advance(25 * time.Hour)

			_, err = f.engine.Rollback(ctx, p.ID)

			convey.Convey("Then the rollback is refused as expired", func() {
				convey.So(err, convey.ShouldWrap, app.ErrRollbackExpired)

				prof, perr := f.engine.Profile(ctx, "u1")
				convey.So(perr, convey.ShouldBeNil)
				convey.So(prof.DailyCalories, convey.ShouldEqual, 1350)
			})
		})

		convey.Convey("When rolling back a pending proposal", func() {
			_, err := f.engine.Rollback(ctx, p.ID)

			convey.Convey("Then it is rejected", func() {
				convey.So(err, convey.ShouldWrap, app.ErrInvalidTransition)
			})
		})

		convey.Convey("When deciding on an unknown proposal", func() {
			_, err := f.engine.Approve(ctx, "missing")

			convey.Convey("Then it fails with not found", func() {
				convey.So(err, convey.ShouldWrap, repository.ErrNotFound)
			})
		})
	})

	convey.Convey("Given a widened rollback window", t, func() {
		f := newFixture(app.WithRollbackWindow(72 * time.Hour))
		ctx := context.Background()
		f.seedUser("u1", model.GoalLose, 35, stallWeights, 1800, 1.0)
		p, err := f.engine.Detect(ctx, "u1")
		convey.So(err, convey.ShouldBeNil)
		_, err = f.engine.Approve(ctx, p.ID)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When rolling back two days later", func() {
			f.clock.Advance(48 * time.Hour)
			rolled, err := f.engine.Rollback(ctx, p.ID)

			convey.Convey("Then the rollback succeeds", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rolled.Status, convey.ShouldEqual, model.StatusRolledBack)
			})
		})
	})
}

func TestEngineRecord(t *testing.T) {
	convey.Convey("Given an engine", t, func() {
		f := newFixture()
		ctx := context.Background()

		convey.Convey("When recording a valid observation", func() {
			err := f.engine.Record(ctx, model.DailyMetricRecord{
				UserID:         "u1",
				Date:           time.Date(2026, 2, 20, 18, 45, 0, 0, time.UTC),
				Weight:         fptr(200),
				IntakeKcal:     fptr(1800),
				AdherenceScore: fptr(0.9),
			})

			convey.Convey("Then it is stored under its calendar date", func() {
				convey.So(err, convey.ShouldBeNil)
				out, err := f.store.MetricsSince(ctx, "u1", time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC))
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldHaveLength, 1)
				convey.So(out[0].Date.Hour(), convey.ShouldEqual, 0)
				convey.So(out[0].UpdatedAt.Equal(f.clock.Now()), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When recording a weight-only day", func() {
			err := f.engine.Record(ctx, model.DailyMetricRecord{
				UserID: "u1",
				Date:   f.today,
				Weight: fptr(199.5),
			})

			convey.Convey("Then the partial record is accepted", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When recording invalid observations", func() {
			// Missing user, missing date, then each numeric bound.
			cases := []model.DailyMetricRecord{
				{Date: f.today, Weight: fptr(200)},
				{UserID: "u1", Weight: fptr(200)},
				{UserID: "u1", Date: f.today, Weight: fptr(-5)},
				{UserID: "u1", Date: f.today, Weight: fptr(0)},
				{UserID: "u1", Date: f.today, IntakeKcal: fptr(-100)},
				{UserID: "u1", Date: f.today, AdherenceScore: fptr(1.5)},
			}

			convey.Convey("Then each is rejected with a validation error", func() {
				for _, rec := range cases {
					convey.So(f.engine.Record(ctx, rec), convey.ShouldWrap, app.ErrValidation)
				}
			})
		})
	})
}

func TestEngineProfiles(t *testing.T) {
	convey.Convey("Given an engine", t, func() {
		f := newFixture()
		ctx := context.Background()

		convey.Convey("When saving invalid profiles", func() {
			// Missing user, missing calories, unknown goal.
			cases := []model.Profile{
				{DailyCalories: 1800, Goal: model.GoalLose},
				{UserID: "u1", DailyCalories: 0, Goal: model.GoalLose},
				{UserID: "u1", DailyCalories: 1800, Goal: model.Goal("fly")},
			}

			convey.Convey("Then each is rejected with a validation error", func() {
				for _, p := range cases {
					convey.So(f.engine.SaveProfile(ctx, p), convey.ShouldWrap, app.ErrValidation)
				}
			})
		})

		convey.Convey("When saving a valid profile", func() {
			err := f.engine.SaveProfile(ctx, model.Profile{UserID: "u1", DailyCalories: 2200, Goal: model.GoalGain})

			convey.Convey("Then it loads back and the user is listed", func() {
				convey.So(err, convey.ShouldBeNil)
				prof, err := f.engine.Profile(ctx, "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(prof.DailyCalories, convey.ShouldEqual, 2200)

				ids, err := f.engine.UserIDs(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(ids, convey.ShouldResemble, []string{"u1"})
			})
		})

		convey.Convey("When reading stats", func() {
			convey.So(f.engine.SaveProfile(ctx, model.Profile{UserID: "u1", DailyCalories: 1800, Goal: model.GoalLose}), convey.ShouldBeNil)
			stats := f.engine.GetStats()

			convey.Convey("Then the engine's configuration is reported", func() {
				convey.So(stats["usersTracked"], convey.ShouldEqual, 1)
				convey.So(stats["rollbackWindowHours"], convey.ShouldEqual, 24.0)
			})
		})
	})
}

func TestEngineDefaultSmoothing(t *testing.T) {
	convey.Convey("Given six weeks of noiseless data under default smoothing", t, func() {
		_ = logger.Init()
		store := repository.NewMemStore()
		notifier := &captureNotifier{}
		clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		engine := app.New(store,
			app.WithClock(clock.Now),
			app.WithNotifier(notifier),
		)
		ctx := context.Background()
		today := model.DateOf(clock.Now())

		convey.So(engine.SaveProfile(ctx, model.Profile{UserID: "u1", DailyCalories: 2200, Goal: model.GoalLose}), convey.ShouldBeNil)

		// 2.0 lb/week for four weeks, then 0.4 lb/week: even after EMA lag
		// the trailing window's smoothed rate is far below the earlier one.
		weightAt := func(d int) float64 {
			if d <= 27 {
				return 210 - 2.0*float64(d)/7
			}
			return 210 - 2.0*27.0/7 - 0.4*float64(d-27)/7
		}
		start := today.AddDate(0, 0, -41)
		for d := 0; d < 42; d++ {
			err := engine.Record(ctx, model.DailyMetricRecord{
				UserID:         "u1",
				Date:           start.AddDate(0, 0, d),
				Weight:         fptr(weightAt(d)),
				IntakeKcal:     fptr(2200),
				AdherenceScore: fptr(0.9),
			})
			convey.So(err, convey.ShouldBeNil)
		}

		convey.Convey("When detection runs", func() {
			p, err := engine.Detect(ctx, "u1")

			convey.Convey("Then the stall is detected through the smoothed trend", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p, convey.ShouldNotBeNil)
				convey.So(p.Type, convey.ShouldEqual, model.DeficitStall)
				convey.So(p.Status, convey.ShouldEqual, model.StatusPending)
				convey.So(p.NewDailyCalories, convey.ShouldBeLessThan, 2200)
				convey.So(p.NewDailyCalories, convey.ShouldBeGreaterThanOrEqualTo, 1650)
			})
		})
	})
}
