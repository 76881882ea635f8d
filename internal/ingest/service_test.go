package ingest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/orbit/internal/dispatch"
	"github.com/onnwee/orbit/internal/event"
	"github.com/onnwee/orbit/internal/geo"
	"github.com/onnwee/orbit/internal/livestatus"
	"github.com/onnwee/orbit/internal/rules"
)

var (
	leiria = geo.Point{Lat: 39.7430, Lng: -8.8070}
	now    = time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)
)

// north returns the point meters due north of p along the meridian.
func north(p geo.Point, meters float64) geo.Point {
	return geo.Point{Lat: p.Lat + meters/(geo.EarthRadiusM*math.Pi/180), Lng: p.Lng}
}

type harness struct {
	events  *event.Service
	rules   *rules.Service
	bus     *dispatch.Bus
	live    *livestatus.Store
	log     *livestatus.UpdateLog
	metrics *Metrics
	ingest  *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	eventRepo := event.NewInMemoryEventRepository()
	memberRepo := event.NewInMemoryMemberRepository()
	ruleRepo := rules.NewInMemoryRepository()
	live := livestatus.NewStore(0)
	log := livestatus.NewUpdateLog(0)
	bus := dispatch.NewBus(dispatch.BusConfig{HandlerTimeout: time.Second})
	metrics := NewMetrics()
	clock := func() time.Time { return now }

	return &harness{
		events: event.NewService(eventRepo, memberRepo, live, event.ServiceConfig{
			DefaultAnchor: geo.Point{Lat: 39.73437, Lng: -8.79928},
			Clock:         clock,
		}),
		rules:   rules.NewService(ruleRepo, eventRepo),
		bus:     bus,
		live:    live,
		log:     log,
		metrics: metrics,
		ingest: NewService(eventRepo, memberRepo, live, log, rules.NewEngine(ruleRepo), bus, Config{
			Metrics: metrics,
			Clock:   clock,
		}),
	}
}

func (h *harness) createEvent(t *testing.T, fence *event.Geofence) string {
	t.Helper()
	v, err := h.events.CreateEvent(context.Background(), event.CreateEventInput{
		Title:    "Festa",
		StartsAt: now.Add(-time.Hour),
		EndsAt:   now.Add(2 * time.Hour),
		Geofence: fence,
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	return v.ID
}

func (h *harness) join(t *testing.T, eventID, userID string, sharing bool) {
	t.Helper()
	if _, _, err := h.events.Join(context.Background(), event.JoinInput{
		EventID:                eventID,
		UserID:                 userID,
		DisplayName:            "Name " + userID,
		LocationSharingEnabled: sharing,
	}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
}

func (h *harness) collect(recipient string) func() []dispatch.Notification {
	var mu sync.Mutex
	var got []dispatch.Notification
	h.bus.Subscribe(recipient, func(n dispatch.Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})
	return func() []dispatch.Notification {
		mu.Lock()
		defer mu.Unlock()
		return append([]dispatch.Notification(nil), got...)
	}
}

func (h *harness) fix(t *testing.T, eventID, userID string, p geo.Point) *livestatus.LiveStatus {
	t.Helper()
	row, err := h.ingest.Ingest(context.Background(), Fix{EventID: eventID, UserID: userID, Lat: p.Lat, Lng: p.Lng})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return row
}

func TestIngest_LeiriaExitScenario(t *testing.T) {
	h := newHarness(t)
	ev := h.createEvent(t, &event.Geofence{Center: leiria, RadiusM: 500})
	h.join(t, ev, "U", true)
	if _, err := h.rules.Create(context.Background(), rules.CreateInput{
		EventID: ev, Scope: rules.ScopeEvent, NotifyUserID: "R", OnExit: true,
	}); err != nil {
		t.Fatalf("Create rule failed: %v", err)
	}
	received := h.collect("R")

	row := h.fix(t, ev, "U", leiria)
	if row.FenceState != livestatus.FenceInside {
		t.Errorf("expected inside, got %s", row.FenceState)
	}
	if len(received()) != 0 {
		t.Fatal("first fix must not notify")
	}

	row = h.fix(t, ev, "U", north(leiria, 800))
	if row.FenceState != livestatus.FenceOutside {
		t.Errorf("expected outside, got %s", row.FenceState)
	}

	got := received()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	n := got[0]
	if n.Type != "exit" || n.EventID != ev || n.ActorUserID != "U" || n.NotifyUserID != "R" {
		t.Errorf("unexpected notification %+v", n)
	}
	if n.ActorName != "Name U" {
		t.Errorf("ActorName = %q, want %q", n.ActorName, "Name U")
	}
	if n.DistanceM == nil || *n.DistanceM != 800 {
		t.Errorf("DistanceM = %v, want 800", n.DistanceM)
	}
	if n.WhenISO != "2025-06-01T19:00:00Z" {
		t.Errorf("WhenISO = %q", n.WhenISO)
	}
}

func TestIngest_FirstFixNeverTransitions(t *testing.T) {
	for _, start := range []geo.Point{leiria, north(leiria, 2000)} {
		h := newHarness(t)
		ev := h.createEvent(t, &event.Geofence{Center: leiria, RadiusM: 500})
		h.join(t, ev, "U", true)
		h.rules.Create(context.Background(), rules.CreateInput{
			EventID: ev, Scope: rules.ScopeEvent, NotifyUserID: "R", OnEnter: true, OnExit: true,
		})
		received := h.collect("R")

		// The join seed is inside; an outside first fix must still be silent.
		h.fix(t, ev, "U", start)
		if len(received()) != 0 {
			t.Errorf("first fix at %+v produced notifications", start)
		}
	}
}

func TestIngest_OneEnterPerCrossing(t *testing.T) {
	h := newHarness(t)
	ev := h.createEvent(t, &event.Geofence{Center: leiria, RadiusM: 500})
	h.join(t, ev, "U", true)
	h.rules.Create(context.Background(), rules.CreateInput{
		EventID: ev, Scope: rules.ScopeEvent, NotifyUserID: "R", OnEnter: true, OnExit: true,
	})
	received := h.collect("R")

	for _, p := range []geo.Point{north(leiria, 900), north(leiria, 700), leiria, north(leiria, 100)} {
		h.fix(t, ev, "U", p)
	}

	got := received()
	if len(got) != 1 || got[0].Type != "enter" {
		t.Fatalf("expected a single enter, got %+v", got)
	}
}

func TestIngest_BoundaryIsInside(t *testing.T) {
	h := newHarness(t)
	edge := north(leiria, 500)
	radius := geo.Distance(edge, leiria)
	ev := h.createEvent(t, &event.Geofence{Center: leiria, RadiusM: radius})
	h.join(t, ev, "U", true)

	row := h.fix(t, ev, "U", edge)
	if row.FenceState != livestatus.FenceInside {
		t.Errorf("point on the boundary should be inside, got %s", row.FenceState)
	}
}

func TestIngest_UnfencedStaysUnknown(t *testing.T) {
	h := newHarness(t)
	ev := h.createEvent(t, nil)
	h.join(t, ev, "U", true)
	h.rules.Create(context.Background(), rules.CreateInput{
		EventID: ev, Scope: rules.ScopeEvent, NotifyUserID: "R", OnEnter: true, OnExit: true,
	})
	received := h.collect("R")

	for _, p := range []geo.Point{leiria, north(leiria, 5000), leiria} {
		row := h.fix(t, ev, "U", p)
		if row.FenceState != livestatus.FenceUnknown || row.LastDistanceM != nil {
			t.Errorf("expected unknown without distance, got %s %v", row.FenceState, row.LastDistanceM)
		}
	}
	if len(received()) != 0 {
		t.Error("unfenced event must never notify")
	}
}

func TestIngest_AppliesBlur(t *testing.T) {
	h := newHarness(t)
	ev := h.createEvent(t, &event.Geofence{Center: leiria, RadiusM: 500})
	if _, _, err := h.events.Join(context.Background(), event.JoinInput{
		EventID: ev, UserID: "U", LocationSharingEnabled: true, PrecisionBlurM: 250,
	}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	raw := geo.Point{Lat: 39.74412, Lng: -8.80853}
	row := h.fix(t, ev, "U", raw)
	want := geo.Blur(raw, 250)
	if row.Position != want {
		t.Errorf("Position = %+v, want blurred %+v", row.Position, want)
	}

	logged := h.log.Tail(1)
	if len(logged) != 1 || logged[0].Position != want {
		t.Errorf("log should hold the blurred position, got %+v", logged)
	}
}

func TestIngest_Errors(t *testing.T) {
	h := newHarness(t)
	ev := h.createEvent(t, &event.Geofence{Center: leiria, RadiusM: 500})
	h.join(t, ev, "sharer", true)
	h.join(t, ev, "private", false)

	tooCoarse := 1500.0
	negative := -1.0
	ok := 12.0

	tests := []struct {
		name    string
		fix     Fix
		wantErr error
	}{
		{"unknown event", Fix{EventID: "nope", UserID: "sharer", Lat: leiria.Lat, Lng: leiria.Lng}, event.ErrEventNotFound},
		{"not a member", Fix{EventID: ev, UserID: "stranger", Lat: leiria.Lat, Lng: leiria.Lng}, event.ErrMemberNotFound},
		{"sharing disabled", Fix{EventID: ev, UserID: "private", Lat: leiria.Lat, Lng: leiria.Lng}, ErrSharingDisabled},
		{"latitude out of range", Fix{EventID: ev, UserID: "sharer", Lat: 91, Lng: 0}, geo.ErrInvalidCoordinates},
		{"NaN longitude", Fix{EventID: ev, UserID: "sharer", Lat: 0, Lng: math.NaN()}, geo.ErrInvalidCoordinates},
		{"unknown source", Fix{EventID: ev, UserID: "sharer", Lat: 0, Lng: 0, Source: "carrier_pigeon"}, ErrInvalidSource},
		{"negative accuracy", Fix{EventID: ev, UserID: "sharer", Lat: 0, Lng: 0, AccuracyM: &negative}, ErrInvalidAccuracy},
		{"inaccurate fix", Fix{EventID: ev, UserID: "sharer", Lat: 0, Lng: 0, AccuracyM: &tooCoarse}, ErrInaccurateFix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ingest.Ingest(context.Background(), tt.fix)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if h.log.Total() != 0 {
		t.Errorf("rejected fixes must not be logged, got %d entries", h.log.Total())
	}
	if row, _ := h.live.Get(ev, "private"); row == nil || row.HasFix {
		t.Error("rejected fix must not overwrite the live status row")
	}

	if _, err := h.ingest.Ingest(context.Background(), Fix{
		EventID: ev, UserID: "sharer", Lat: leiria.Lat, Lng: leiria.Lng,
		AccuracyM: &ok, Source: livestatus.SourceBackgroundIOS,
	}); err != nil {
		t.Fatalf("valid fix rejected: %v", err)
	}
	logged := h.log.Tail(1)
	if len(logged) != 1 || logged[0].Source != livestatus.SourceBackgroundIOS || *logged[0].AccuracyM != ok {
		t.Errorf("unexpected log entry %+v", logged)
	}

	assertCounter(t, h.metrics.fixes.WithLabelValues(ResultRejected), float64(len(tests)))
	assertCounter(t, h.metrics.fixes.WithLabelValues(ResultAccepted), 1)
}

func TestIngest_TrimsUserID(t *testing.T) {
	h := newHarness(t)
	ev := h.createEvent(t, &event.Geofence{Center: leiria, RadiusM: 500})
	h.join(t, ev, " U ", true)

	row := h.fix(t, ev, " U ", leiria)
	if row.UserID != "U" {
		t.Errorf("expected stored user id %q, got %q", "U", row.UserID)
	}
	if got := h.log.Tail(1); len(got) != 1 || got[0].UserID != "U" {
		t.Errorf("expected logged user id %q, got %+v", "U", got)
	}
}

func TestIngest_SharingToggleAffectsFutureFixesOnly(t *testing.T) {
	h := newHarness(t)
	ev := h.createEvent(t, &event.Geofence{Center: leiria, RadiusM: 500})
	h.join(t, ev, "U", true)
	h.fix(t, ev, "U", leiria)

	off := false
	if _, err := h.events.UpdateSharing(context.Background(), ev, "U", event.SharingUpdate{LocationSharingEnabled: &off}); err != nil {
		t.Fatalf("UpdateSharing failed: %v", err)
	}
	if _, err := h.ingest.Ingest(context.Background(), Fix{EventID: ev, UserID: "U", Lat: 0, Lng: 0}); !errors.Is(err, ErrSharingDisabled) {
		t.Fatalf("expected ErrSharingDisabled, got %v", err)
	}

	row, err := h.live.Get(ev, "U")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if row.Position != leiria {
		t.Errorf("stored row should keep the last accepted fix, got %+v", row.Position)
	}
}

func TestIngest_ConcurrentFixesNoDoubleFire(t *testing.T) {
	h := newHarness(t)
	ev := h.createEvent(t, &event.Geofence{Center: leiria, RadiusM: 500})
	h.join(t, ev, "U", true)
	h.rules.Create(context.Background(), rules.CreateInput{
		EventID: ev, Scope: rules.ScopeEvent, NotifyUserID: "R", OnEnter: true, OnExit: true,
	})
	received := h.collect("R")

	h.fix(t, ev, "U", leiria)

	// Every goroutine reports the same outside position: only the first
	// one to run sees inside as the previous state.
	outside := north(leiria, 800)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.ingest.Ingest(context.Background(), Fix{EventID: ev, UserID: "U", Lat: outside.Lat, Lng: outside.Lng})
		}()
	}
	wg.Wait()

	if got := received(); len(got) != 1 || got[0].Type != "exit" {
		t.Errorf("expected exactly one exit, got %+v", got)
	}
	if h.ingest.locks.size() != 0 {
		t.Errorf("expected idle key locks to be released, got %d", h.ingest.locks.size())
	}
}

func TestIngest_IndependentMembers(t *testing.T) {
	h := newHarness(t)
	ev := h.createEvent(t, &event.Geofence{Center: leiria, RadiusM: 500})
	h.join(t, ev, "U1", true)
	h.join(t, ev, "U2", true)
	h.rules.Create(context.Background(), rules.CreateInput{
		EventID: ev, Scope: rules.ScopeMember, TargetUserID: "U2", NotifyUserID: "R", OnExit: true,
	})
	received := h.collect("R")

	for _, u := range []string{"U1", "U2"} {
		h.fix(t, ev, u, leiria)
		h.fix(t, ev, u, north(leiria, 800))
	}

	got := received()
	if len(got) != 1 || got[0].ActorUserID != "U2" {
		t.Errorf("expected one exit for U2, got %+v", got)
	}
	assertCounter(t, h.metrics.transitions.WithLabelValues("exit"), 2)
	assertCounter(t, h.metrics.notifications, 1)
}

func TestTransition(t *testing.T) {
	tests := []struct {
		prev, next livestatus.FenceState
		want       rules.Transition
		ok         bool
	}{
		{livestatus.FenceOutside, livestatus.FenceInside, rules.TransitionEnter, true},
		{livestatus.FenceInside, livestatus.FenceOutside, rules.TransitionExit, true},
		{livestatus.FenceInside, livestatus.FenceInside, "", false},
		{livestatus.FenceUnknown, livestatus.FenceInside, "", false},
		{livestatus.FenceOutside, livestatus.FenceUnknown, "", false},
	}

	for _, tt := range tests {
		got, ok := transition(tt.prev, tt.next)
		if got != tt.want || ok != tt.ok {
			t.Errorf("transition(%s, %s) = %q, %v; want %q, %v", tt.prev, tt.next, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := NewMetrics().Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}
}

func assertCounter(t *testing.T, c prometheus.Counter, want float64) {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != want {
		t.Errorf("counter = %v, want %v", got, want)
	}
}
