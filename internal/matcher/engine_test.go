package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/journey-matching/internal/distance"
	"github.com/example/journey-matching/internal/geo"
	"github.com/example/journey-matching/internal/logging"
	"github.com/example/journey-matching/internal/models"
	"github.com/example/journey-matching/internal/settings"
	"github.com/example/journey-matching/internal/storage"
)

func legKey(a, b models.Coord) string {
	return fmt.Sprintf("%.4f,%.4f>%.4f,%.4f", a.Lat, a.Lon, b.Lat, b.Lon)
}

// tableRouter answers from a fixed table and fails for unknown pairs.
type tableRouter struct {
	mu     sync.Mutex
	meters map[string]float64
	fail   bool
	calls  []string
}

func (r *tableRouter) set(a, b models.Coord, m float64) { r.meters[legKey(a, b)] = m }

func (r *tableRouter) DrivingMeters(ctx context.Context, from, to models.Coord) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := legKey(from, to)
	r.calls = append(r.calls, k)
	if r.fail {
		return 0, errors.New("routing unavailable")
	}
	m, ok := r.meters[k]
	if !ok {
		return 0, distance.ErrNoRoute
	}
	return m, nil
}

func (r *tableRouter) Router(token string) distance.Router { return r }

// splitRetriever returns fixed same/reverse results keyed on the query origin.
type splitRetriever struct {
	origin  models.Coord
	same    []models.Journey
	reverse []models.Journey
	err     error
	queries []geo.Query
}

func (s *splitRetriever) Nearby(ctx context.Context, q geo.Query) ([]models.Journey, error) {
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	if q.Origin == s.origin {
		return s.same, nil
	}
	return s.reverse, nil
}

type recordingSink struct{ events []models.Event }

func (r *recordingSink) Publish(ctx context.Context, e models.Event) error {
	r.events = append(r.events, e)
	return nil
}

type chanNotifier struct{ fired chan struct{} }

func (c *chanNotifier) Trigger(ctx context.Context) error {
	c.fired <- struct{}{}
	return nil
}

var (
	reqOrigin = models.Coord{Lat: 51.5000, Lon: -0.1000}
	reqDest   = models.Coord{Lat: 51.6000, Lon: -0.2000}
	candO     = models.Coord{Lat: 51.5100, Lon: -0.1000}
	candD     = models.Coord{Lat: 51.6050, Lon: -0.2000}
)

type fixture struct {
	store  *storage.MemoryStore
	router *tableRouter
	ret    *splitRetriever
	sink   *recordingSink
	engine *Engine
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	req := &models.Journey{ID: 10, OwnerID: "alice", Origin: reqOrigin, Destination: reqDest, RadiusKm: 5, Status: models.JourneyActive}
	if err := store.SaveJourney(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		store:  store,
		router: &tableRouter{meters: make(map[string]float64)},
		ret:    &splitRetriever{origin: reqOrigin},
		sink:   &recordingSink{},
	}
	f.engine = &Engine{
		Journeys:  store,
		Retriever: f.ret,
		Matches:   store,
		Events:    store,
		Sinks:     []EventSink{f.sink},
		Settings:  settings.Static{DistanceMethod: distance.Routed, MatchingMode: mode, RoutingToken: "tok"},
		Routing:   f.router,
		Logger:    logging.Discard(),
	}
	return f
}

func candidate(id int64, radius float64) models.Journey {
	return models.Journey{ID: id, OwnerID: fmt.Sprintf("user-%d", id), Origin: candO, Destination: candD, RadiusKm: radius, Status: models.JourneyActive}
}

func TestRunScoresAcceptedCandidate(t *testing.T) {
	f := newFixture(t, "")
	f.ret.same = []models.Journey{candidate(20, 3)}
	f.router.set(reqOrigin, candO, 1200)
	f.router.set(reqDest, candD, 800)

	res, err := f.engine.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MatchesFound != 1 {
		t.Fatalf("expected 1 match, got %d", res.MatchesFound)
	}
	ms := f.store.Matches()
	if len(ms) != 1 || ms[0].JourneyA != 10 || ms[0].JourneyB != 20 {
		t.Fatalf("unexpected matches %+v", ms)
	}
	if ms[0].Strength != 90 || ms[0].Status != models.MatchNew || ms[0].NotificationSent {
		t.Fatalf("unexpected match row %+v", ms[0])
	}
	evs := f.store.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	md := evs[0].Match
	if evs[0].Type != models.EventMatchDetected || evs[0].JourneyID != 10 || md == nil {
		t.Fatalf("unexpected event %+v", evs[0])
	}
	if md.MatchedWith != 20 || md.StartKm != 1.2 || md.EndKm != 0.8 || md.Strength != 90 ||
		md.Direction != models.SameDirection || md.DistanceMethod != "routed" {
		t.Fatalf("unexpected event metadata %+v", md)
	}
	if len(f.sink.events) != 1 || f.sink.events[0].ID != evs[0].ID {
		t.Fatalf("expected event fanned out to sink, got %+v", f.sink.events)
	}
}

func TestRunQueriesBothDirections(t *testing.T) {
	f := newFixture(t, "")
	if _, err := f.engine.Run(context.Background(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.ret.queries) != 2 {
		t.Fatalf("expected 2 retriever calls, got %d", len(f.ret.queries))
	}
	same, rev := f.ret.queries[0], f.ret.queries[1]
	if same.Origin != reqOrigin || same.Destination != reqDest {
		t.Fatalf("same-direction query wrong: %+v", same)
	}
	if rev.Origin != reqDest || rev.Destination != reqOrigin {
		t.Fatalf("reverse-direction query wrong: %+v", rev)
	}
	for _, q := range f.ret.queries {
		if q.RadiusMeters != 5000 || q.ExcludeID != 10 || q.ExcludeOwner != "alice" {
			t.Fatalf("query exclusions wrong: %+v", q)
		}
	}
}

func TestRunRejectsLegOverRadius(t *testing.T) {
	f := newFixture(t, "")
	f.ret.same = []models.Journey{candidate(20, 3)}
	f.router.set(reqOrigin, candO, 5100)
	f.router.set(reqDest, candD, 1000)

	res, err := f.engine.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MatchesFound != 0 || len(f.store.Matches()) != 0 || len(f.store.Events()) != 0 {
		t.Fatalf("expected nothing recorded, got res=%+v matches=%d events=%d", res, len(f.store.Matches()), len(f.store.Events()))
	}
}

func TestRunAcceptsLegsAtRadius(t *testing.T) {
	f := newFixture(t, "")
	f.ret.same = []models.Journey{candidate(20, 3)}
	f.router.set(reqOrigin, candO, 5000)
	f.router.set(reqDest, candD, 5000)

	res, _ := f.engine.Run(context.Background(), 10)
	if res.MatchesFound != 1 {
		t.Fatalf("expected boundary legs to match, got %d", res.MatchesFound)
	}
	if s := f.store.Matches()[0].Strength; s != 50 {
		t.Fatalf("expected strength 50, got %d", s)
	}
}

func TestRunUsesLargerCandidateRadius(t *testing.T) {
	f := newFixture(t, "")
	f.ret.same = []models.Journey{candidate(20, 8)}
	f.router.set(reqOrigin, candO, 7000)
	f.router.set(reqDest, candD, 1000)

	res, _ := f.engine.Run(context.Background(), 10)
	if res.MatchesFound != 1 {
		t.Fatalf("expected match within candidate's 8km radius, got %d", res.MatchesFound)
	}
}

func TestRunCountsDualPresentCandidateOnceAsSameDirection(t *testing.T) {
	f := newFixture(t, "")
	c := candidate(20, 3)
	f.ret.same = []models.Journey{c}
	f.ret.reverse = []models.Journey{c}
	f.router.set(reqOrigin, candO, 1000)
	f.router.set(reqDest, candD, 1000)

	res, _ := f.engine.Run(context.Background(), 10)
	if res.MatchesFound != 1 {
		t.Fatalf("expected 1 match, got %d", res.MatchesFound)
	}
	if len(f.router.calls) != 2 {
		t.Fatalf("expected one evaluation (2 legs), got %d router calls", len(f.router.calls))
	}
	if d := f.store.Events()[0].Match.Direction; d != models.SameDirection {
		t.Fatalf("expected same-direction classification, got %s", d)
	}
}

func TestRunReversedCandidateComparesCrossedLegs(t *testing.T) {
	f := newFixture(t, "")
	// travels reqDest -> reqOrigin
	rev := models.Journey{ID: 5, OwnerID: "bob", Origin: candD, Destination: candO, RadiusKm: 3, Status: models.JourneyActive}
	f.ret.reverse = []models.Journey{rev}
	f.router.set(reqOrigin, candO, 600)
	f.router.set(reqDest, candD, 400)

	res, err := f.engine.Run(context.Background(), 10)
	if err != nil || res.MatchesFound != 1 {
		t.Fatalf("expected 1 reversed match, got %+v err=%v", res, err)
	}
	m := f.store.Matches()[0]
	if m.JourneyA != 5 || m.JourneyB != 10 {
		t.Fatalf("expected canonical pair (5,10), got (%d,%d)", m.JourneyA, m.JourneyB)
	}
	if m.Strength != 95 {
		t.Fatalf("expected strength 95, got %d", m.Strength)
	}
	if d := f.store.Events()[0].Match.Direction; d != models.ReverseDirection {
		t.Fatalf("expected reverse direction, got %s", d)
	}
}

func TestRunFallsBackWhenRoutingUnavailable(t *testing.T) {
	f := newFixture(t, "")
	f.router.fail = true
	f.ret.same = []models.Journey{candidate(20, 3)}

	res, err := f.engine.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("routing failure must not surface: %v", err)
	}
	if res.MatchesFound != 1 {
		t.Fatalf("expected haversine legs to match, got %d", res.MatchesFound)
	}
	start := distance.GreatCircleKm(reqOrigin, candO)
	end := distance.GreatCircleKm(reqDest, candD)
	if want := Score(start, end, 5); f.store.Matches()[0].Strength != want {
		t.Fatalf("expected haversine strength %d, got %d", want, f.store.Matches()[0].Strength)
	}
}

func TestRunSecondPassFindsNothingNew(t *testing.T) {
	f := newFixture(t, "")
	f.ret.same = []models.Journey{candidate(20, 3)}
	f.router.set(reqOrigin, candO, 1000)
	f.router.set(reqDest, candD, 1000)

	if res, _ := f.engine.Run(context.Background(), 10); res.MatchesFound != 1 {
		t.Fatalf("expected first run to match, got %d", res.MatchesFound)
	}
	calls := len(f.router.calls)
	res, err := f.engine.Run(context.Background(), 10)
	if err != nil || res.MatchesFound != 0 {
		t.Fatalf("expected second run to find 0, got %+v err=%v", res, err)
	}
	if len(f.router.calls) != calls {
		t.Fatal("existing pair should skip distance computation")
	}
	if n := len(f.store.Matches()); n != 1 {
		t.Fatalf("expected 1 match row, got %d", n)
	}
}

func TestRunFromEitherSideCreatesOneMatch(t *testing.T) {
	store := storage.NewMemoryStore()
	idx := geo.NewIndex()
	for _, j := range []models.Journey{
		{OwnerID: "alice", Origin: reqOrigin, Destination: reqDest, RadiusKm: 3, Status: models.JourneyActive},
		{OwnerID: "bob", Origin: candO, Destination: candD, RadiusKm: 3, Status: models.JourneyActive},
	} {
		if err := store.SaveJourney(context.Background(), &j); err != nil {
			t.Fatal(err)
		}
		idx.Upsert(j)
	}
	e := &Engine{Journeys: store, Retriever: idx, Matches: store, Events: store, Logger: logging.Discard()}

	first, err := e.Run(context.Background(), 1)
	if err != nil || first.MatchesFound != 1 {
		t.Fatalf("expected match from first side, got %+v err=%v", first, err)
	}
	second, err := e.Run(context.Background(), 2)
	if err != nil || second.MatchesFound != 0 {
		t.Fatalf("expected no new match from other side, got %+v err=%v", second, err)
	}
	if n := len(store.Matches()); n != 1 {
		t.Fatalf("expected exactly 1 match row, got %d", n)
	}
	if ev := store.Events(); len(ev) != 1 || ev[0].Match.DistanceMethod != "great_circle" {
		t.Fatalf("unexpected events %+v", ev)
	}
}

func TestRunJourneyNotFound(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.engine.Run(context.Background(), 999)
	if !errors.Is(err, ErrJourneyNotFound) {
		t.Fatalf("expected ErrJourneyNotFound, got %v", err)
	}
	if len(f.ret.queries) != 0 {
		t.Fatal("retriever must not be called for a missing journey")
	}
}

func TestRunNoCandidates(t *testing.T) {
	f := newFixture(t, "instant")
	n := &chanNotifier{fired: make(chan struct{}, 1)}
	f.engine.Notifier = n
	res, err := f.engine.Run(context.Background(), 10)
	if err != nil || res.MatchesFound != 0 {
		t.Fatalf("expected empty success, got %+v err=%v", res, err)
	}
	select {
	case <-n.fired:
		t.Fatal("notifier must not fire without matches")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunRetrieverFailureAborts(t *testing.T) {
	f := newFixture(t, "")
	f.ret.err = errors.New("db down")
	if _, err := f.engine.Run(context.Background(), 10); err == nil || errors.Is(err, ErrJourneyNotFound) {
		t.Fatalf("expected generic failure, got %v", err)
	}
}

// racyStore reports no existing match but the insert hits the unique constraint,
// as when a concurrent run wins the race.
type racyStore struct {
	*storage.MemoryStore
	existsErr error
}

func (r *racyStore) MatchExists(ctx context.Context, a, b int64) (bool, error) {
	return false, r.existsErr
}

func (r *racyStore) CreateMatch(ctx context.Context, m *models.Match) error {
	if err := r.MemoryStore.CreateMatch(ctx, m); err != nil {
		return err
	}
	return storage.ErrConflict
}

func TestRunTreatsConflictAsBenign(t *testing.T) {
	f := newFixture(t, "")
	racy := &racyStore{MemoryStore: f.store}
	f.engine.Matches = racy
	f.ret.same = []models.Journey{candidate(20, 3), candidate(21, 3)}
	f.router.set(reqOrigin, candO, 1000)
	f.router.set(reqDest, candD, 1000)

	res, err := f.engine.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("conflict must not fail the run: %v", err)
	}
	if res.MatchesFound != 0 || len(f.store.Events()) != 0 {
		t.Fatalf("expected no new matches or events, got %+v events=%d", res, len(f.store.Events()))
	}
}

func TestRunSkipsCandidateWhenExistsCheckFails(t *testing.T) {
	f := newFixture(t, "")
	f.engine.Matches = &racyStore{MemoryStore: f.store, existsErr: errors.New("timeout")}
	f.ret.same = []models.Journey{candidate(20, 3)}

	res, err := f.engine.Run(context.Background(), 10)
	if err != nil || res.MatchesFound != 0 {
		t.Fatalf("expected skipped candidate, got %+v err=%v", res, err)
	}
	if len(f.router.calls) != 0 {
		t.Fatal("skipped candidate must not be evaluated")
	}
}

func TestRunInstantModeTriggersNotifier(t *testing.T) {
	f := newFixture(t, "instant")
	n := &chanNotifier{fired: make(chan struct{}, 1)}
	f.engine.Notifier = n
	f.ret.same = []models.Journey{candidate(20, 3)}
	f.router.set(reqOrigin, candO, 1000)
	f.router.set(reqDest, candD, 1000)

	if res, _ := f.engine.Run(context.Background(), 10); res.MatchesFound != 1 {
		t.Fatalf("expected 1 match, got %d", res.MatchesFound)
	}
	select {
	case <-n.fired:
	case <-time.After(time.Second):
		t.Fatal("expected notifier to fire in instant mode")
	}
}

func TestRunHybridModeDoesNotTrigger(t *testing.T) {
	f := newFixture(t, "hybrid")
	n := &chanNotifier{fired: make(chan struct{}, 1)}
	f.engine.Notifier = n
	f.ret.same = []models.Journey{candidate(20, 3)}
	f.router.set(reqOrigin, candO, 1000)
	f.router.set(reqDest, candD, 1000)

	if res, _ := f.engine.Run(context.Background(), 10); res.MatchesFound != 1 {
		t.Fatalf("expected 1 match, got %d", res.MatchesFound)
	}
	select {
	case <-n.fired:
		t.Fatal("notifier must not fire outside instant mode")
	case <-time.After(50 * time.Millisecond):
	}
}

type failingSettings struct{}

func (failingSettings) Load(context.Context) (settings.Settings, error) {
	return settings.Settings{}, errors.New("config table missing")
}

func TestRunDefaultsWhenSettingsFail(t *testing.T) {
	f := newFixture(t, "")
	f.engine.Settings = failingSettings{}
	f.ret.same = []models.Journey{candidate(20, 3)}

	res, err := f.engine.Run(context.Background(), 10)
	if err != nil || res.MatchesFound != 1 {
		t.Fatalf("expected great-circle run, got %+v err=%v", res, err)
	}
	if len(f.router.calls) != 0 {
		t.Fatal("router must not be used with default settings")
	}
	if m := f.store.Events()[0].Match.DistanceMethod; m != "great_circle" {
		t.Fatalf("expected great_circle in event, got %s", m)
	}
}
