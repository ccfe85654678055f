package ingest

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"pogomap/internal/config"
	"pogomap/internal/webhook"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Send(kind webhook.Kind, payload map[string]any) {
	c.mu.Lock()
	c.events = append(c.events, Event{Kind: kind, Payload: payload})
	c.mu.Unlock()
}

func (c *captureSink) kinds() []webhook.Kind {
	out := make([]webhook.Kind, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Kind)
	}
	return out
}

var allKinds = config.Parse{Pokemon: true, Pokestops: true, Gyms: true}

func decode(t *testing.T, s string) *Snapshot {
	t.Helper()
	snap, err := DecodeSnapshot(strings.NewReader(s))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return snap
}

func newTestParser(kinds config.Parse, updatesOnly bool) (*Parser, *captureSink) {
	sink := &captureSink{}
	p := NewParser(kinds, updatesOnly, sink)
	p.now = func() time.Time { return time.UnixMilli(1_000_000_100_000) }
	return p, sink
}

const oneSighting = `{"responses":{"GET_MAP_OBJECTS":{"map_cells":[{"wild_pokemons":[
  {"encounter_id": 12345678901234567890, "spawn_point_id": "89c2", "pokemon_data": {"pokemon_id": 1},
   "latitude": 40.1, "longitude": -73.9, "last_modified_timestamp_ms": 1000000000000, "time_till_hidden_ms": 500000}]}]}}}`

func TestParse_SightingDisappearAndEvent(t *testing.T) {
	p, sink := newTestParser(allKinds, false)
	got, err := p.Parse(decode(t, oneSighting), orb.Point{-73.9, 40.1})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Pokemon) != 1 {
		t.Fatalf("pokemon=%d want 1", len(got.Pokemon))
	}
	id := EncodeID(12345678901234567890)
	rec, ok := got.Pokemon[id]
	if !ok {
		t.Fatalf("record keyed %s missing", id)
	}
	if rec.DisappearTime.UnixMilli() != 1_000_000_500_000 {
		t.Fatalf("disappear=%d", rec.DisappearTime.UnixMilli())
	}
	if len(sink.events) != 1 || sink.events[0].Kind != webhook.KindPokemon {
		t.Fatalf("events=%v", sink.kinds())
	}
	ev := sink.events[0].Payload
	if ev["encounter_id"] != id || ev["pokemon_id"] != 1 || ev["spawnpoint_id"] != "89c2" {
		t.Fatalf("event=%v", ev)
	}
	if ev["disappear_time"] != int64(1_000_000_500) || ev["last_modified_time"] != int64(1_000_000_000_000) || ev["time_until_hidden_ms"] != int64(500000) {
		t.Fatalf("event times=%v", ev)
	}
	sc, ok := got.Scanned[ScannedKey]
	if len(got.Scanned) != 1 || !ok || sc.Latitude != 40.1 || sc.Longitude != -73.9 || sc.LastModified.UnixMilli() != 1_000_000_100_000 {
		t.Fatalf("scanned=%+v", got.Scanned)
	}
}

func TestEncodeID(t *testing.T) {
	// base64("123")
	if got := EncodeID(123); got != "MTIz" {
		t.Fatalf("EncodeID=%s", got)
	}
}

func TestDisappearTime_CorruptTTL(t *testing.T) {
	const lm = 1_000_000_000_000
	cases := []struct {
		ttl  int64
		want int64
	}{
		{500000, lm + 500000},
		{1, lm + 1},
		{3_599_999, lm + 3_599_999},
		{0, lm + 900000},
		{-5, lm + 900000},
		{3_600_000, lm + 900000},
		{4_000_000_000, lm + 900000},
	}
	for _, c := range cases {
		if got := DisappearTime(lm, c.ttl).UnixMilli(); got != c.want {
			t.Errorf("ttl=%d got=%d want=%d", c.ttl, got, c.want)
		}
	}
}

const forts = `{"responses":{"GET_MAP_OBJECTS":{"map_cells":[{"forts":[
  {"id": "stop-lured", "type": 1, "enabled": true, "latitude": 1, "longitude": 2, "last_modified_timestamp_ms": 1000000000000, "active_fort_modifier": "9QM="},
  {"id": "stop-plain", "type": 1, "enabled": true, "latitude": 3, "longitude": 4, "last_modified_timestamp_ms": 1000000000000},
  {"id": "gym-1", "enabled": true, "latitude": 5, "longitude": 6, "last_modified_timestamp_ms": 1000000000000, "owned_by_team": 2, "gym_points": 4000},
  {"id": "unknown", "type": 7, "enabled": true, "latitude": 7, "longitude": 8, "last_modified_timestamp_ms": 1000000000000}
]}]}}}`

func TestParse_FortClassification(t *testing.T) {
	p, sink := newTestParser(allKinds, false)
	got, err := p.Parse(decode(t, forts), orb.Point{0, 0})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Pokestops) != 2 || len(got.Gyms) != 1 || got.DroppedForts != 1 {
		t.Fatalf("stops=%d gyms=%d dropped=%d", len(got.Pokestops), len(got.Gyms), got.DroppedForts)
	}
	lured := got.Pokestops["stop-lured"]
	if lured.LureExpiration == nil || lured.LureExpiration.UnixMilli() != 1_000_000_000_000+30*60*1000 {
		t.Fatalf("lure=%v", lured.LureExpiration)
	}
	if lured.ActiveFortModifier == nil || *lured.ActiveFortModifier != "9QM=" {
		t.Fatalf("modifier=%v", lured.ActiveFortModifier)
	}
	if plain := got.Pokestops["stop-plain"]; plain.LureExpiration != nil || plain.ActiveFortModifier != nil {
		t.Fatalf("plain stop has lure: %+v", plain)
	}
	gym := got.Gyms["gym-1"]
	if gym.TeamID != 2 || gym.GuardPokemonID != 0 || gym.GymPoints != 4000 {
		t.Fatalf("gym=%+v", gym)
	}
	// 全量模式：两个补给站 + 一个道馆
	if len(sink.events) != 3 {
		t.Fatalf("events=%v", sink.kinds())
	}
	for _, e := range sink.events {
		if e.Kind == webhook.KindGym && e.Payload["gym_id"] != encodeString("gym-1") {
			t.Fatalf("gym event=%v", e.Payload)
		}
		if e.Kind == webhook.KindPokestop && e.Payload["pokestop_id"] == encodeString("stop-plain") && e.Payload["lure_expiration"] != nil {
			t.Fatalf("plain stop event lure=%v", e.Payload["lure_expiration"])
		}
	}
}

func TestParse_UpdatesOnlyNotifiesLuredStopsAndGyms(t *testing.T) {
	p, sink := newTestParser(allKinds, true)
	if _, err := p.Parse(decode(t, forts), orb.Point{0, 0}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	var stops, gyms int
	for _, e := range sink.events {
		switch e.Kind {
		case webhook.KindPokestop:
			stops++
			if e.Payload["pokestop_id"] != encodeString("stop-lured") {
				t.Fatalf("unlured stop notified: %v", e.Payload)
			}
			if e.Payload["lure_expiration"] != int64(1_000_000_000+30*60) {
				t.Fatalf("lure_expiration=%v", e.Payload["lure_expiration"])
			}
		case webhook.KindGym:
			gyms++
		}
	}
	if stops != 1 || gyms != 1 {
		t.Fatalf("stops=%d gyms=%d", stops, gyms)
	}
}

func TestParse_KindToggles(t *testing.T) {
	p, sink := newTestParser(config.Parse{Pokemon: false, Pokestops: false, Gyms: true}, false)
	// 关闭的类别不解码，其中的畸形数据也不会被发现
	snap := decode(t, `{"responses":{"GET_MAP_OBJECTS":{"map_cells":[{"wild_pokemons":[{"bogus":true}],"forts":[
      {"id": "stop", "type": 1},
      {"id": "gym", "enabled": false, "latitude": 1, "longitude": 1, "last_modified_timestamp_ms": 5}]}]}}}`)
	got, err := p.Parse(snap, orb.Point{0, 0})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Pokemon) != 0 || len(got.Pokestops) != 0 || len(got.Gyms) != 1 {
		t.Fatalf("pokemon=%d stops=%d gyms=%d", len(got.Pokemon), len(got.Pokestops), len(got.Gyms))
	}
	if len(sink.events) != 1 || sink.events[0].Kind != webhook.KindGym {
		t.Fatalf("events=%v", sink.kinds())
	}
	if len(got.Scanned) != 1 {
		t.Fatalf("scanned=%d want 1", len(got.Scanned))
	}
}

func TestParse_MalformedEmitsNothing(t *testing.T) {
	p, sink := newTestParser(allKinds, false)
	snap := decode(t, `{"responses":{"GET_MAP_OBJECTS":{"map_cells":[
      {"wild_pokemons":[{"encounter_id": 1, "spawn_point_id": "a", "pokemon_data": {"pokemon_id": 1},
        "latitude": 1, "longitude": 1, "last_modified_timestamp_ms": 1, "time_till_hidden_ms": 1}]},
      {"wild_pokemons":[{"encounter_id": 2, "spawn_point_id": "b", "pokemon_data": {},
        "latitude": 1, "longitude": 1, "last_modified_timestamp_ms": 1, "time_till_hidden_ms": 1}]}]}}}`)
	_, err := p.Parse(snap, orb.Point{0, 0})
	var me *MalformedError
	if !errors.As(err, &me) {
		t.Fatalf("err=%v want MalformedError", err)
	}
	if me.Path != "map_cells[1].wild_pokemons[0]" || me.Field != "pokemon_data.pokemon_id" {
		t.Fatalf("malformed=%+v", me)
	}
	if !IsMalformed(err) {
		t.Fatalf("IsMalformed=false")
	}
	if len(sink.events) != 0 {
		t.Fatalf("events leaked: %v", sink.kinds())
	}
}

func TestParse_MissingMapObjects(t *testing.T) {
	p, _ := newTestParser(allKinds, false)
	if _, err := p.Parse(decode(t, `{"responses":{}}`), orb.Point{}); !errors.Is(err, ErrMalformedSnapshot) {
		t.Fatalf("err=%v", err)
	}
	if _, err := DecodeSnapshot(strings.NewReader("{not json")); !errors.Is(err, ErrMalformedSnapshot) {
		t.Fatalf("decode err=%v", err)
	}
}

func TestParse_NullModifierKeepsLure(t *testing.T) {
	p, sink := newTestParser(allKinds, true)
	snap := decode(t, `{"responses":{"GET_MAP_OBJECTS":{"map_cells":[{"forts":[
      {"id": "s", "type": 1, "enabled": true, "latitude": 1, "longitude": 1, "last_modified_timestamp_ms": 1000000000000, "active_fort_modifier": null}]}]}}}`)
	got, err := p.Parse(snap, orb.Point{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s := got.Pokestops["s"]
	if s.LureExpiration == nil || s.ActiveFortModifier != nil {
		t.Fatalf("stop lure=%v modifier=%v want lure and nil modifier", s.LureExpiration, s.ActiveFortModifier)
	}
	if len(sink.events) != 1 || sink.events[0].Payload["active_fort_modifier"] != nil {
		t.Fatalf("events=%v", sink.events)
	}
}

func TestParse_MapCellsRequired(t *testing.T) {
	p, sink := newTestParser(allKinds, false)
	_, err := p.Parse(decode(t, `{"responses":{"GET_MAP_OBJECTS":{}}}`), orb.Point{})
	var me *MalformedError
	if !errors.As(err, &me) || me.Field != "map_cells" {
		t.Fatalf("err=%v want missing map_cells", err)
	}
	got, err := p.Parse(decode(t, `{"responses":{"GET_MAP_OBJECTS":{"map_cells":[]}}}`), orb.Point{1, 2})
	if err != nil {
		t.Fatalf("empty cells: %v", err)
	}
	if len(got.Scanned) != 1 || len(sink.events) != 0 {
		t.Fatalf("scanned=%d events=%d", len(got.Scanned), len(sink.events))
	}
}
