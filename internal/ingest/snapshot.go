// 包 ingest：扫描快照的解析与入库。一次 Ingest 即一个采集轮次：解析、写库、清理
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedSnapshot：快照缺少必填字段或结构不符，当前轮次整体失败
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// MalformedError：定位到具体记录与字段
type MalformedError struct {
	Path  string
	Field string
	Err   error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed snapshot at %s: %s: %v", e.Path, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed snapshot at %s: missing %s", e.Path, e.Field)
}

func (e *MalformedError) Unwrap() error { return ErrMalformedSnapshot }

// Snapshot：上游 responses.GET_MAP_OBJECTS.map_cells 结构
type Snapshot struct {
	Responses struct {
		GetMapObjects *MapObjects `json:"GET_MAP_OBJECTS"`
	} `json:"responses"`
}

type MapObjects struct {
	MapCells []MapCell `json:"map_cells"`
}

// MapCell：两类列表延迟解码，关闭解析的实体类型不会被访问
type MapCell struct {
	WildPokemons json.RawMessage `json:"wild_pokemons"`
	Forts        json.RawMessage `json:"forts"`
}

// WildPokemon：必填字段均为指针，缺失可检测
type WildPokemon struct {
	EncounterID             *uint64      `json:"encounter_id"`
	SpawnPointID            *string      `json:"spawn_point_id"`
	PokemonData             *PokemonData `json:"pokemon_data"`
	Latitude                *float64     `json:"latitude"`
	Longitude               *float64     `json:"longitude"`
	LastModifiedTimestampMs *int64       `json:"last_modified_timestamp_ms"`
	TimeTillHiddenMs        *int64       `json:"time_till_hidden_ms"`
}

type PokemonData struct {
	PokemonID *int `json:"pokemon_id"`
}

// Fort：Type==1 为补给站，缺省为道馆；ActiveFortModifier 出现即视为有诱饵（值可为任意 JSON）
type Fort struct {
	ID                      *string         `json:"id"`
	Enabled                 *bool           `json:"enabled"`
	Latitude                *float64        `json:"latitude"`
	Longitude               *float64        `json:"longitude"`
	LastModifiedTimestampMs *int64          `json:"last_modified_timestamp_ms"`
	Type                    *int            `json:"type"`
	ActiveFortModifier      json.RawMessage `json:"active_fort_modifier"`
	OwnedByTeam             *int            `json:"owned_by_team"`
	GuardPokemonID          *int            `json:"guard_pokemon_id"`
	GymPoints               *int            `json:"gym_points"`
}

// DecodeSnapshot：解码单个快照；JSON 本身不合法同样归为 MalformedError
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, &MalformedError{Path: "$", Field: "json", Err: err}
	}
	return &s, nil
}

func decodeList[T any](raw json.RawMessage, path string) ([]T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &MalformedError{Path: path, Field: "list", Err: err}
	}
	return out, nil
}

// modifierText：字符串取其内容，其他 JSON 值保留原文；null 返回 nil
func modifierText(raw json.RawMessage) *string {
	if string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	return &s
}
