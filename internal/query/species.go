package query

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Species：物种元数据查询，由外部提供
type Species interface {
	Name(id int) string
	Rarity(id int) string
	Types(id int) []string
}

type SpeciesInfo struct {
	Name   string   `json:"name"`
	Rarity string   `json:"rarity"`
	Types  []string `json:"types"`
}

// StaticSpecies：内存表实现，未知物种返回零值
type StaticSpecies map[int]SpeciesInfo

func (s StaticSpecies) Name(id int) string    { return s[id].Name }
func (s StaticSpecies) Rarity(id int) string  { return s[id].Rarity }
func (s StaticSpecies) Types(id int) []string { return s[id].Types }

// LoadSpecies：读取 {"<id>": {"name", "rarity", "types"}} 形式的元数据文件
func LoadSpecies(r io.Reader) (StaticSpecies, error) {
	var raw map[string]SpeciesInfo
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode species: %w", err)
	}
	out := make(StaticSpecies, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("species id %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}
