package ingest

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"pogomap/internal/config"
	"pogomap/internal/logger"
	"pogomap/internal/store"
	"pogomap/internal/webhook"
)

const (
	// maxHiddenMs：超出 (0, 1h) 的剩余时间视为上游溢出
	maxHiddenMs     = 3_600_000
	defaultHiddenMs = 900_000
	lureDuration    = 30 * time.Minute

	fortTypePokestop = 1

	// ScannedKey：每个快照只对应一个扫描原点
	ScannedKey = 0
)

// Event：待投递的通知事件
type Event struct {
	Kind    webhook.Kind
	Payload map[string]any
}

// Parsed：一次解析的全部结果
type Parsed struct {
	Pokemon   map[string]store.SpawnRecord
	Pokestops map[string]store.Pokestop
	Gyms      map[string]store.Gym
	Scanned   map[int]store.ScannedLocation
	Events    []Event

	// 未知类型的 fort 条数，仅用于日志
	DroppedForts int
}

// Parser：把原始快照转换为实体记录，解析成功后才把事件交给出口
type Parser struct {
	kinds       config.Parse
	updatesOnly bool
	sink        webhook.Sink
	now         func() time.Time
}

func NewParser(kinds config.Parse, updatesOnly bool, sink webhook.Sink) *Parser {
	if sink == nil {
		sink = webhook.Nop{}
	}
	return &Parser{kinds: kinds, updatesOnly: updatesOnly, sink: sink, now: time.Now}
}

// EncodeID：上游数字 ID 的十进制文本再做 base64
func EncodeID(id uint64) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.FormatUint(id, 10)))
}

func encodeString(id string) string {
	return base64.StdEncoding.EncodeToString([]byte(id))
}

// DisappearTime：剩余时间在 (0, 1h) 内时取 lastModified+ttl，否则按 15 分钟估计
func DisappearTime(lastModifiedMs, ttlMs int64) time.Time {
	if ttlMs > 0 && ttlMs < maxHiddenMs {
		return time.UnixMilli(lastModifiedMs + ttlMs).UTC()
	}
	return time.UnixMilli(lastModifiedMs + defaultHiddenMs).UTC()
}

// Parse：任一必填字段缺失即返回 *MalformedError，此时不投递任何事件
func (p *Parser) Parse(snap *Snapshot, origin orb.Point) (*Parsed, error) {
	if snap == nil || snap.Responses.GetMapObjects == nil {
		return nil, &MalformedError{Path: "responses", Field: "GET_MAP_OBJECTS"}
	}
	// 空数组合法，缺失或 null 视为畸形
	if snap.Responses.GetMapObjects.MapCells == nil {
		return nil, &MalformedError{Path: "responses.GET_MAP_OBJECTS", Field: "map_cells"}
	}
	out := &Parsed{
		Pokemon:   map[string]store.SpawnRecord{},
		Pokestops: map[string]store.Pokestop{},
		Gyms:      map[string]store.Gym{},
		Scanned:   map[int]store.ScannedLocation{},
	}
	for i, cell := range snap.Responses.GetMapObjects.MapCells {
		path := fmt.Sprintf("map_cells[%d]", i)
		if p.kinds.Pokemon {
			if err := p.parsePokemon(cell, path, out); err != nil {
				return nil, err
			}
		}
		if p.kinds.Pokestops || p.kinds.Gyms {
			if err := p.parseForts(cell, path, out); err != nil {
				return nil, err
			}
		}
	}
	out.Scanned[ScannedKey] = store.ScannedLocation{
		Latitude:     origin.Lat(),
		Longitude:    origin.Lon(),
		LastModified: p.now().UTC(),
	}
	if out.DroppedForts > 0 {
		logger.L().Debug("fort_unknown_type", "count", out.DroppedForts)
	}
	for _, e := range out.Events {
		p.sink.Send(e.Kind, e.Payload)
	}
	return out, nil
}

func (p *Parser) parsePokemon(cell MapCell, path string, out *Parsed) error {
	path += ".wild_pokemons"
	list, err := decodeList[WildPokemon](cell.WildPokemons, path)
	if err != nil {
		return err
	}
	for j, w := range list {
		at := fmt.Sprintf("%s[%d]", path, j)
		if err := w.validate(at); err != nil {
			return err
		}
		lm, ttl := *w.LastModifiedTimestampMs, *w.TimeTillHiddenMs
		rec := store.SpawnRecord{
			EncounterID:   EncodeID(*w.EncounterID),
			SpawnpointID:  *w.SpawnPointID,
			PokemonID:     *w.PokemonData.PokemonID,
			Latitude:      *w.Latitude,
			Longitude:     *w.Longitude,
			DisappearTime: DisappearTime(lm, ttl),
		}
		out.Pokemon[rec.EncounterID] = rec
		out.Events = append(out.Events, Event{Kind: webhook.KindPokemon, Payload: map[string]any{
			"encounter_id":         rec.EncounterID,
			"spawnpoint_id":        rec.SpawnpointID,
			"pokemon_id":           rec.PokemonID,
			"latitude":             rec.Latitude,
			"longitude":            rec.Longitude,
			"disappear_time":       rec.DisappearTime.Unix(),
			"last_modified_time":   lm,
			"time_until_hidden_ms": ttl,
		}})
	}
	return nil
}

func (w WildPokemon) validate(at string) error {
	switch {
	case w.EncounterID == nil:
		return &MalformedError{Path: at, Field: "encounter_id"}
	case w.SpawnPointID == nil:
		return &MalformedError{Path: at, Field: "spawn_point_id"}
	case w.PokemonData == nil || w.PokemonData.PokemonID == nil:
		return &MalformedError{Path: at, Field: "pokemon_data.pokemon_id"}
	case w.Latitude == nil:
		return &MalformedError{Path: at, Field: "latitude"}
	case w.Longitude == nil:
		return &MalformedError{Path: at, Field: "longitude"}
	case w.LastModifiedTimestampMs == nil:
		return &MalformedError{Path: at, Field: "last_modified_timestamp_ms"}
	case w.TimeTillHiddenMs == nil:
		return &MalformedError{Path: at, Field: "time_till_hidden_ms"}
	}
	return nil
}

func (f Fort) validate(at string) error {
	switch {
	case f.ID == nil:
		return &MalformedError{Path: at, Field: "id"}
	case f.Enabled == nil:
		return &MalformedError{Path: at, Field: "enabled"}
	case f.Latitude == nil:
		return &MalformedError{Path: at, Field: "latitude"}
	case f.Longitude == nil:
		return &MalformedError{Path: at, Field: "longitude"}
	case f.LastModifiedTimestampMs == nil:
		return &MalformedError{Path: at, Field: "last_modified_timestamp_ms"}
	}
	return nil
}

func intOr0(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func (p *Parser) parseForts(cell MapCell, path string, out *Parsed) error {
	path += ".forts"
	list, err := decodeList[Fort](cell.Forts, path)
	if err != nil {
		return err
	}
	for j, f := range list {
		at := fmt.Sprintf("%s[%d]", path, j)
		switch {
		case f.Type != nil && *f.Type == fortTypePokestop:
			if !p.kinds.Pokestops {
				continue
			}
			if err := f.validate(at); err != nil {
				return err
			}
			p.addPokestop(f, out)
		case f.Type == nil:
			if !p.kinds.Gyms {
				continue
			}
			if err := f.validate(at); err != nil {
				return err
			}
			p.addGym(f, out)
		default:
			out.DroppedForts++
		}
	}
	return nil
}

func (p *Parser) addPokestop(f Fort, out *Parsed) {
	lm := time.UnixMilli(*f.LastModifiedTimestampMs).UTC()
	stop := store.Pokestop{
		PokestopID:   *f.ID,
		Enabled:      *f.Enabled,
		Latitude:     *f.Latitude,
		Longitude:    *f.Longitude,
		LastModified: lm,
	}
	var lureSec any
	if len(f.ActiveFortModifier) > 0 {
		exp := lm.Add(lureDuration)
		stop.LureExpiration = &exp
		stop.ActiveFortModifier = modifierText(f.ActiveFortModifier)
		lureSec = exp.Unix()
	}
	out.Pokestops[stop.PokestopID] = stop

	lured := stop.LureExpiration != nil
	if p.updatesOnly && !lured {
		return
	}
	var modifier any
	if stop.ActiveFortModifier != nil {
		modifier = *stop.ActiveFortModifier
	}
	out.Events = append(out.Events, Event{Kind: webhook.KindPokestop, Payload: map[string]any{
		"pokestop_id":          encodeString(stop.PokestopID),
		"enabled":              stop.Enabled,
		"latitude":             stop.Latitude,
		"longitude":            stop.Longitude,
		"last_modified":        lm.Unix(),
		"last_modified_time":   *f.LastModifiedTimestampMs,
		"lure_expiration":      lureSec,
		"active_fort_modifier": modifier,
	}})
}

func (p *Parser) addGym(f Fort, out *Parsed) {
	lm := time.UnixMilli(*f.LastModifiedTimestampMs).UTC()
	g := store.Gym{
		GymID:          *f.ID,
		TeamID:         intOr0(f.OwnedByTeam),
		GuardPokemonID: intOr0(f.GuardPokemonID),
		GymPoints:      intOr0(f.GymPoints),
		Enabled:        *f.Enabled,
		Latitude:       *f.Latitude,
		Longitude:      *f.Longitude,
		LastModified:   lm,
	}
	out.Gyms[g.GymID] = g
	out.Events = append(out.Events, Event{Kind: webhook.KindGym, Payload: map[string]any{
		"gym_id":           encodeString(g.GymID),
		"team_id":          g.TeamID,
		"guard_pokemon_id": g.GuardPokemonID,
		"gym_points":       g.GymPoints,
		"enabled":          g.Enabled,
		"latitude":         g.Latitude,
		"longitude":        g.Longitude,
		"last_modified":    lm.Unix(),
	}})
}
