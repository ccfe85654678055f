package store

import "time"

// SpawnRecord：一次精灵出现记录，EncounterID 为上游整数的 base64 文本
type SpawnRecord struct {
	EncounterID   string
	SpawnpointID  string
	PokemonID     int
	Latitude      float64
	Longitude     float64
	DisappearTime time.Time
}

// Pokestop：补给站；有诱饵时 LureExpiration 与 ActiveFortModifier 非空
type Pokestop struct {
	PokestopID         string
	Enabled            bool
	Latitude           float64
	Longitude          float64
	LastModified       time.Time
	LureExpiration     *time.Time
	ActiveFortModifier *string
}

const (
	TeamUncontested = 0
	TeamMystic      = 1
	TeamValor       = 2
	TeamInstinct    = 3
)

type Gym struct {
	GymID          string
	TeamID         int
	GuardPokemonID int
	GymPoints      int
	Enabled        bool
	Latitude       float64
	Longitude      float64
	LastModified   time.Time
}

// ScannedLocation：以 (纬度, 经度) 为复合主键，同一坐标的多次扫描合并为一条
type ScannedLocation struct {
	Latitude     float64
	Longitude    float64
	LastModified time.Time
}

// SpawnPoint：去重后的刷新点
type SpawnPoint struct {
	SpawnpointID string
	Latitude     float64
	Longitude    float64
}

// SeenRow：某物种在窗口内的出现次数及最近一次出现
type SeenRow struct {
	PokemonID    int
	Count        int
	LastAppeared time.Time
	Latitude     float64
	Longitude    float64
}

// RareSpecies：稀有物种，空间查询时不受范围限制（仍受时间过滤）
var RareSpecies = []int{
	26, 28, 38, 40, 45, 51, 62, 65, 68, 71, 76, 82, 83, 87, 89, 91,
	94, 101, 115, 130, 132, 136, 139, 141, 144, 145, 146, 150, 151, 149, 137,
}

// IsRare：是否在稀有名单中
func IsRare(id int) bool {
	for _, r := range RareSpecies {
		if r == id {
			return true
		}
	}
	return false
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
