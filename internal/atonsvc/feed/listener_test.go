package feed

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grad-enav/atonservice/internal/atonsvc/aton"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/dberror"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/eventbus"
)

const changedPayload = `<?xml version="1.0" encoding="UTF-8"?>
<S125:DataSet xmlns:S125="http://www.iala-aism.int/S125/gml/0.0" xmlns:S100="http://www.iho.int/s100gml/1.0"
    xmlns:gml="http://www.opengis.net/gml/3.2" xmlns:xlink="http://www.w3.org/1999/xlink" gml:id="feed">
  <member>
    <S125:BuoyCardinal gml:id="S1">
      <atonNumber>AtoN-S1</atonNumber>
      <child xlink:href="#E1"/>
      <geometry>
        <S100:pointProperty><S100:Point><gml:pos>53.61 1.45</gml:pos></S100:Point></S100:pointProperty>
      </geometry>
    </S125:BuoyCardinal>
  </member>
  <member>
    <S125:Light gml:id="E1">
      <atonNumber>AtoN-E1</atonNumber>
      <parent xlink:href="#S1"/>
      <geometry>
        <S100:pointProperty><S100:Point><gml:pos>53.61 1.45</gml:pos></S100:Point></S100:pointProperty>
      </geometry>
    </S125:Light>
  </member>
  <member>
    <S125:BuoyLateral gml:id="F1">
      <atonNumber>AtoN-F1</atonNumber>
      <geometry>
        <S100:pointProperty><S100:Point><gml:pos>10.0 10.0</gml:pos></S100:Point></S100:pointProperty>
      </geometry>
    </S125:BuoyLateral>
  </member>
  <imember>
    <S125:AtonAggregation gml:id="AG1">
      <categoryOfAggregation>leading line</categoryOfAggregation>
      <peer xlink:href="#S1"/>
      <peer xlink:href="#F1"/>
    </S125:AtonAggregation>
  </imember>
</S125:DataSet>`

type storedPeering struct {
	kind string
	aton.PeerSet
}

type memAtonStore struct {
	mu       sync.Mutex
	saved    map[string]aton.Entity
	parents  map[string]string
	peerings []storedPeering
	deleted  []string
	failOn   string
}

func newMemAtonStore() *memAtonStore {
	return &memAtonStore{saved: map[string]aton.Entity{}, parents: map[string]string{}}
}

func (s *memAtonStore) Save(_ context.Context, e *aton.Entity, parentNumber string) (int64, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.AtonNumber == s.failOn {
		return 0, dberror.ErrDatabase.Msg("boom")
	}
	s.saved[e.AtonNumber] = *e
	if parentNumber != "" {
		s.parents[e.AtonNumber] = parentNumber
	}
	return int64(len(s.saved)), nil
}

func (s *memAtonStore) SyncPeerings(_ context.Context, kind string, changed []string, sets []aton.PeerSet) (int64, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := func(p storedPeering) string {
		return p.kind + "|" + p.Category + "|" + strings.Join(p.Numbers, ",")
	}
	incoming := map[string]storedPeering{}
	for _, set := range sets {
		numbers := append([]string(nil), set.Numbers...)
		sort.Strings(numbers)
		p := storedPeering{kind: kind, PeerSet: aton.PeerSet{Category: set.Category, Numbers: numbers}}
		incoming[key(p)] = p
	}
	var removed int64
	kept := s.peerings[:0]
	for _, p := range s.peerings {
		_, stillThere := incoming[key(p)]
		if p.kind == kind && !stillThere && containsAny(p.Numbers, changed) {
			removed++
			continue
		}
		delete(incoming, key(p))
		kept = append(kept, p)
	}
	s.peerings = kept
	for _, p := range incoming {
		s.peerings = append(s.peerings, p)
	}
	return removed, nil
}

func (s *memAtonStore) peeringsOf(kind string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]string
	for _, p := range s.peerings {
		if p.kind == kind {
			out = append(out, p.Numbers)
		}
	}
	return out
}

func containsAny(numbers, wanted []string) bool {
	for _, n := range numbers {
		for _, w := range wanted {
			if n == w {
				return true
			}
		}
	}
	return false
}

func (s *memAtonStore) FindByNumbers(_ context.Context, numbers []string) ([]aton.Entity, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []aton.Entity
	for _, n := range numbers {
		if e, ok := s.saved[n]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memAtonStore) DeleteByNumbers(_ context.Context, numbers []string) (int64, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, num := range numbers {
		if _, ok := s.saved[num]; ok {
			delete(s.saved, num)
			s.deleted = append(s.deleted, num)
			n++
		}
	}
	return n, nil
}

func (s *memAtonStore) numbers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for n := range s.saved {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type recordingUpdater struct {
	mu    sync.Mutex
	geoms []orb.Geometry
}

func (u *recordingUpdater) RequestContentUpdates(_ context.Context, g orb.Geometry) (int, apperrors.Error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.geoms = append(u.geoms, g)
	return 1, nil
}

func (u *recordingUpdater) calls() []orb.Geometry {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]orb.Geometry(nil), u.geoms...)
}

type harness struct {
	source   *ChannelSource
	store    *memAtonStore
	updater  *recordingUpdater
	events   <-chan eventbus.Event
	listener *Listener
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	bus := eventbus.New()
	events, _ := bus.Subscribe("aton.*", 16)
	h := &harness{
		source:  NewChannelSource(4),
		store:   newMemAtonStore(),
		updater: &recordingUpdater{},
		events:  events,
	}
	h.listener = NewListener(h.source, h.store, h.updater, bus, opts...)
	require.NoError(t, h.listener.Start(context.Background()))
	t.Cleanup(func() {
		h.listener.Stop()
		bus.Shutdown()
	})
	return h
}

func (h *harness) next(t *testing.T) AtonEvent {
	t.Helper()
	select {
	case ev := <-h.events:
		e, ok := ev.Data.(AtonEvent)
		require.True(t, ok)
		assert.Equal(t, e.Kind.Topic(), ev.Topic)
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no aton event")
		return AtonEvent{}
	}
}

func TestListenerSavesChangedFeatures(t *testing.T) {
	h := newHarness(t)
	h.source.Send(Message{Kind: MessageChanged, Payload: []byte(changedPayload)})

	ev := h.next(t)
	assert.Equal(t, AtonSaved, ev.Kind)
	assert.ElementsMatch(t, []string{"AtoN-S1", "AtoN-E1", "AtoN-F1"}, ev.AtonNumbers)
	assert.Equal(t, []string{"AtoN-E1", "AtoN-F1", "AtoN-S1"}, h.store.numbers())
	assert.Equal(t, "AtoN-S1", h.store.parents["AtoN-E1"])
	assert.Equal(t, [][]string{{"AtoN-F1", "AtoN-S1"}}, h.store.peeringsOf("aggregation"))
	assert.Empty(t, h.store.peeringsOf("association"))

	require.Eventually(t, func() bool { return len(h.updater.calls()) == 1 }, time.Second, 10*time.Millisecond)
	assert.NotNil(t, h.updater.calls()[0])
}

func TestListenerAppliesSubset(t *testing.T) {
	subset := orb.Polygon{{{1, 53}, {2, 53}, {2, 54}, {1, 54}, {1, 53}}}
	h := newHarness(t, WithSubset(subset))
	h.source.Send(Message{Kind: MessageChanged, Payload: []byte(changedPayload)})

	ev := h.next(t)
	assert.ElementsMatch(t, []string{"AtoN-S1", "AtoN-E1"}, ev.AtonNumbers)
	assert.Equal(t, orb.Point{1.45, 53.61}, orb.Point(ev.Geometry.Bound().Min))
	// the aggregation lost a peer to the subset
	assert.Empty(t, h.store.peeringsOf("aggregation"))
}

func TestListenerSkipsFailedSave(t *testing.T) {
	h := newHarness(t)
	h.store.failOn = "AtoN-F1"
	h.source.Send(Message{Kind: MessageChanged, Payload: []byte(changedPayload)})

	ev := h.next(t)
	assert.ElementsMatch(t, []string{"AtoN-S1", "AtoN-E1"}, ev.AtonNumbers)
	// F1 at (10, 10) was not stored, so it neither widens the refresh area
	// nor joins a peering.
	assert.Equal(t, orb.Point{1.45, 53.61}, orb.Point(ev.Geometry.Bound().Max))
	assert.Empty(t, h.store.peeringsOf("aggregation"))
	require.Eventually(t, func() bool { return len(h.updater.calls()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, orb.Point{1.45, 53.61}, orb.Point(h.updater.calls()[0].Bound().Max))
}

func TestListenerReplacesChangedPeerings(t *testing.T) {
	h := newHarness(t)
	h.store.peerings = []storedPeering{
		{kind: "aggregation", PeerSet: aton.PeerSet{Category: "leading line", Numbers: []string{"AtoN-S1", "AtoN-X9"}}},
		{kind: "aggregation", PeerSet: aton.PeerSet{Category: "leading line", Numbers: []string{"AtoN-F1", "AtoN-S1"}}},
		{kind: "association", PeerSet: aton.PeerSet{Category: "channel", Numbers: []string{"AtoN-E1", "AtoN-X9"}}},
		{kind: "aggregation", PeerSet: aton.PeerSet{Category: "range", Numbers: []string{"AtoN-Y1", "AtoN-Y2"}}},
	}
	h.source.Send(Message{Kind: MessageChanged, Payload: []byte(changedPayload)})
	h.next(t)

	assert.ElementsMatch(t, [][]string{{"AtoN-F1", "AtoN-S1"}, {"AtoN-Y1", "AtoN-Y2"}}, h.store.peeringsOf("aggregation"))
	assert.Empty(t, h.store.peeringsOf("association"))
}

func TestListenerRemovesFeatures(t *testing.T) {
	h := newHarness(t)
	h.store.saved["AtoN-R1"] = aton.Entity{AtonNumber: "AtoN-R1", Geometry: orb.Point{4, 50}}
	h.store.saved["AtoN-R2"] = aton.Entity{AtonNumber: "AtoN-R2"}

	h.source.Send(Message{Kind: MessageRemoved, AtonNumbers: []string{"AtoN-R1", "AtoN-R2", "AtoN-unknown"}})

	ev := h.next(t)
	assert.Equal(t, AtonDeleted, ev.Kind)
	assert.ElementsMatch(t, []string{"AtoN-R1", "AtoN-R2"}, ev.AtonNumbers)
	assert.Equal(t, orb.Point{4, 50}, ev.Geometry)
	assert.Empty(t, h.store.numbers())

	require.Eventually(t, func() bool { return len(h.updater.calls()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, orb.Point{4, 50}, h.updater.calls()[0])
}

func TestListenerDeletionHandlerDisabled(t *testing.T) {
	h := newHarness(t, WithDeletionHandler(false))
	h.store.saved["AtoN-R1"] = aton.Entity{AtonNumber: "AtoN-R1", Geometry: orb.Point{4, 50}}

	h.source.Send(Message{Kind: MessageRemoved, AtonNumbers: []string{"AtoN-R1"}})
	h.source.Send(Message{Kind: MessageChanged, Payload: []byte(changedPayload)})

	ev := h.next(t)
	assert.Equal(t, AtonSaved, ev.Kind)
	assert.Contains(t, h.store.numbers(), "AtoN-R1")
}

func TestListenerSurfacesConnectionLoss(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.listener.Healthy())

	lost := errors.New("connection reset")
	h.source.Fail(lost)

	select {
	case err := <-h.listener.Err():
		assert.ErrorIs(t, err, lost)
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss not reported")
	}
	assert.False(t, h.listener.Healthy())
}

func TestListenerStartTwice(t *testing.T) {
	h := newHarness(t)
	err := h.listener.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	h.listener.Stop()
	h.listener.Stop()
}

func TestDecodeEnvelope(t *testing.T) {
	m, err := DecodeEnvelope([]byte(`{"event":"changed","payload":"<DataSet/>"}`))
	require.NoError(t, err)
	assert.Equal(t, MessageChanged, m.Kind)
	assert.Equal(t, "<DataSet/>", string(m.Payload))

	m, err = DecodeEnvelope([]byte(`{"event":"removed","ids":["AtoN-1"," ","AtoN-2"]}`))
	require.NoError(t, err)
	assert.Equal(t, MessageRemoved, m.Kind)
	assert.Equal(t, []string{"AtoN-1", "AtoN-2"}, m.AtonNumbers)

	for _, bad := range []string{`not json`, `{"event":"changed"}`, `{"event":"removed","ids":[]}`, `{"event":"renamed"}`} {
		_, err := DecodeEnvelope([]byte(bad))
		assert.ErrorIs(t, err, ErrEnvelope, bad)
	}
}
