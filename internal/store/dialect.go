package store

import (
	"strconv"
	"strings"
)

// Dialect：后端能力描述，在 Open 时一次确定，查询构造据此选择写法
// 背景：PostgreSQL 支持 DISTINCT ON 与 $n 占位符；SQLite 使用 ? 占位符并以 GROUP BY 代替 DISTINCT ON
type Dialect struct {
	Name       string
	DistinctOn bool
	Numbered   bool

	// DDL 列类型
	Float   string
	BigInt  string
	Int     string
	Bool    string
	Varchar string
}

var (
	SQLite = Dialect{
		Name:    "sqlite",
		Float:   "REAL",
		BigInt:  "INTEGER",
		Int:     "INTEGER",
		Bool:    "BOOLEAN",
		Varchar: "VARCHAR(50)",
	}
	Postgres = Dialect{
		Name:       "postgres",
		DistinctOn: true,
		Numbered:   true,
		Float:      "DOUBLE PRECISION",
		BigInt:     "BIGINT",
		Int:        "INTEGER",
		Bool:       "BOOLEAN",
		Varchar:    "VARCHAR(50)",
	}
)

// Rebind：将 ? 占位符改写为 $1..$n；SQLite 原样返回
// 约束：语句中的字符串字面量不得包含 ?
func (d Dialect) Rebind(q string) string {
	if !d.Numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// placeholders：生成 n 个以逗号分隔的 ?
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
