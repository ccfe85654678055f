// 包 query：读侧门面，组合存储查询、物种元数据与坐标换算，返回显式 DTO
package query

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"pogomap/internal/geo"
	"pogomap/internal/store"
)

// EnrichedSpawn：附带物种名称、稀有度与属性的出现记录
type EnrichedSpawn struct {
	store.SpawnRecord
	Name   string
	Rarity string
	Types  []string
	// Rare：稀有物种，地图范围外也会返回
	Rare bool
}

type SeenSpecies struct {
	PokemonID    int
	Name         string
	Count        int
	LastAppeared time.Time
	Latitude     float64
	Longitude    float64
}

// SeenSummary：Total 为各物种次数之和
type SeenSummary struct {
	Pokemon []SeenSpecies
	Total   int
}

// HexSpawn：六边形内的刷新点，Time 已做 2700 秒相位平移
type HexSpawn struct {
	SpawnpointID string
	Latitude     float64
	Longitude    float64
	Time         int
}

type Service struct {
	store     *store.Store
	species   Species
	transform Transform
	now       func() time.Time
}

func New(st *store.Store, sp Species, tf Transform) *Service {
	if sp == nil {
		sp = StaticSpecies{}
	}
	if tf == nil {
		tf = Identity
	}
	return &Service{store: st, species: sp, transform: tf, now: time.Now}
}

// Bounds：由西南、东北两角构造查询范围
func Bounds(sw, ne orb.Point) *orb.Bound {
	return &orb.Bound{Min: sw, Max: ne}
}

func (s *Service) enrich(rows []store.SpawnRecord) []EnrichedSpawn {
	out := make([]EnrichedSpawn, 0, len(rows))
	for _, r := range rows {
		r.Latitude, r.Longitude = s.transform(r.Latitude, r.Longitude)
		out = append(out, EnrichedSpawn{
			SpawnRecord: r,
			Name:        s.species.Name(r.PokemonID),
			Rarity:      s.species.Rarity(r.PokemonID),
			Types:       s.species.Types(r.PokemonID),
			Rare:        store.IsRare(r.PokemonID),
		})
	}
	return out
}

// ActiveSpawns：未消失的精灵；稀有物种不受范围限制
func (s *Service) ActiveSpawns(ctx context.Context, b *orb.Bound) ([]EnrichedSpawn, error) {
	rows, err := s.store.ActivePokemon(ctx, s.now(), b)
	if err != nil {
		return nil, err
	}
	return s.enrich(rows), nil
}

func (s *Service) ActiveSpawnsByID(ctx context.Context, ids []int, b *orb.Bound) ([]EnrichedSpawn, error) {
	rows, err := s.store.ActivePokemonByID(ctx, s.now(), ids, b)
	if err != nil {
		return nil, err
	}
	return s.enrich(rows), nil
}

func (s *Service) Pokestops(ctx context.Context, b *orb.Bound) ([]store.Pokestop, error) {
	rows, err := s.store.Pokestops(ctx, b)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Latitude, rows[i].Longitude = s.transform(rows[i].Latitude, rows[i].Longitude)
	}
	return rows, nil
}

func (s *Service) Gyms(ctx context.Context, b *orb.Bound) ([]store.Gym, error) {
	rows, err := s.store.Gyms(ctx, b)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Latitude, rows[i].Longitude = s.transform(rows[i].Latitude, rows[i].Longitude)
	}
	return rows, nil
}

func (s *Service) RecentScans(ctx context.Context, b *orb.Bound) ([]store.ScannedLocation, error) {
	rows, err := s.store.RecentScans(ctx, s.now(), b)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Latitude, rows[i].Longitude = s.transform(rows[i].Latitude, rows[i].Longitude)
	}
	return rows, nil
}

// Seen：window 内各物种的出现次数；window<=0 表示不限时间
func (s *Service) Seen(ctx context.Context, window time.Duration) (SeenSummary, error) {
	var since time.Time
	if window > 0 {
		since = s.now().Add(-window)
	}
	rows, err := s.store.SeenPokemon(ctx, since)
	if err != nil {
		return SeenSummary{}, err
	}
	sum := SeenSummary{Pokemon: make([]SeenSpecies, 0, len(rows))}
	for _, r := range rows {
		lat, lng := s.transform(r.Latitude, r.Longitude)
		sum.Pokemon = append(sum.Pokemon, SeenSpecies{
			PokemonID:    r.PokemonID,
			Name:         s.species.Name(r.PokemonID),
			Count:        r.Count,
			LastAppeared: r.LastAppeared,
			Latitude:     lat,
			Longitude:    lng,
		})
		sum.Total += r.Count
	}
	return sum, nil
}

// Appearances：某物种在 after 之后的全部出现，按消失时间升序
func (s *Service) Appearances(ctx context.Context, pokemonID int, after time.Time) ([]store.SpawnRecord, error) {
	rows, err := s.store.Appearances(ctx, pokemonID, after)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Latitude, rows[i].Longitude = s.transform(rows[i].Latitude, rows[i].Longitude)
	}
	return rows, nil
}

func (s *Service) SpawnPoints(ctx context.Context, b *orb.Bound) ([]store.SpawnPoint, error) {
	rows, err := s.store.SpawnPoints(ctx, b)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Latitude, rows[i].Longitude = s.transform(rows[i].Latitude, rows[i].Longitude)
	}
	return rows, nil
}

// SpawnPointsInHex：扫描规划用，坐标保持原始坐标系，不做换算
func (s *Service) SpawnPointsInHex(ctx context.Context, center orb.Point, steps int) ([]HexSpawn, error) {
	box := geo.HexBoundingBox(center, steps)
	cands, err := s.store.SpawnPointTimes(ctx, box.Bound)
	if err != nil {
		return nil, err
	}
	kept := geo.FilterHexMembership(cands, center, box.HDist, box.VDist, geo.EarthRadiusKm)
	out := make([]HexSpawn, 0, len(kept))
	for _, p := range kept {
		out = append(out, HexSpawn{SpawnpointID: p.SpawnpointID, Latitude: p.Point.Lat(), Longitude: p.Point.Lon(), Time: p.Time})
	}
	return out, nil
}
