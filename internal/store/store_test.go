package store_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"pogomap/internal/config"
	"pogomap/internal/metrics"
	"pogomap/internal/migrate"
	"pogomap/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(config.Storage{Backend: config.BackendSQLite, Path: ":memory:", RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if _, err := migrate.Run(context.Background(), st.DB(), st.Dialect()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func spawn(id string, species int, lat, lng float64, disappear time.Time) store.SpawnRecord {
	return store.SpawnRecord{EncounterID: id, SpawnpointID: "sp-" + id, PokemonID: species, Latitude: lat, Longitude: lng, DisappearTime: disappear}
}

func box(minLat, minLng, maxLat, maxLng float64) *orb.Bound {
	return &orb.Bound{Min: orb.Point{minLng, minLat}, Max: orb.Point{maxLng, maxLat}}
}

func TestOpen_UnsupportedBackend(t *testing.T) {
	_, err := store.Open(config.Storage{Backend: "mysql"})
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("err=%v want ErrInvalid", err)
	}
}

func TestUpsertPokemon_Idempotent(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	m := map[string]store.SpawnRecord{"a": spawn("a", 16, 1, 1, now.Add(10*time.Minute))}
	for i := 0; i < 2; i++ {
		n, err := st.UpsertPokemon(ctx, m)
		if err != nil || n != 1 {
			t.Fatalf("upsert #%d n=%d err=%v", i, n, err)
		}
	}
	// 同键覆盖
	m["a"] = spawn("a", 19, 2, 2, now.Add(20*time.Minute))
	if _, err := st.UpsertPokemon(ctx, m); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := st.ActivePokemon(ctx, now, nil)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows=%d want 1", len(got))
	}
	if got[0].PokemonID != 19 || !got[0].DisappearTime.Equal(now.Add(20*time.Minute)) {
		t.Fatalf("row=%+v", got[0])
	}
}

func TestUpsert_BatchesAboveLimit(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := make(map[string]store.SpawnRecord, 2*store.BatchSize+5)
	for i := 0; i < 2*store.BatchSize+5; i++ {
		id := fmt.Sprintf("e%04d", i)
		m[id] = spawn(id, 10, float64(i)/1000, 0, now.Add(time.Hour))
	}
	n, err := st.UpsertPokemon(ctx, m)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != len(m) {
		t.Fatalf("n=%d want %d", n, len(m))
	}
	got, err := st.ActivePokemon(ctx, now, nil)
	if err != nil || len(got) != len(m) {
		t.Fatalf("rows=%d err=%v", len(got), err)
	}
}

func TestActivePokemon_RareBypassesBoundsNotTime(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := map[string]store.SpawnRecord{
		"in":        spawn("in", 16, 1, 1, now.Add(time.Minute)),
		"out":       spawn("out", 16, 50, 50, now.Add(time.Minute)),
		"rare-out":  spawn("rare-out", 149, 50, 50, now.Add(time.Minute)),
		"rare-past": spawn("rare-past", 149, 1, 1, now.Add(-time.Minute)),
	}
	if _, err := st.UpsertPokemon(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := st.ActivePokemon(ctx, now, box(0, 0, 2, 2))
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	ids := map[string]bool{}
	for _, p := range got {
		ids[p.EncounterID] = true
	}
	if len(ids) != 2 || !ids["in"] || !ids["rare-out"] {
		t.Fatalf("ids=%v want in, rare-out", ids)
	}

	byID, err := st.ActivePokemonByID(ctx, now, []int{149}, box(0, 0, 2, 2))
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if len(byID) != 0 {
		t.Fatalf("by id rows=%v want none", byID)
	}
	none, err := st.ActivePokemonByID(ctx, now, nil, nil)
	if err != nil || len(none) != 0 {
		t.Fatalf("empty ids rows=%v err=%v", none, err)
	}
}

func TestSeenPokemon_OneRowPerSpecies(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	m := map[string]store.SpawnRecord{
		"a": spawn("a", 1, 1, 1, base.Add(time.Minute)),
		"b": spawn("b", 1, 2, 2, base.Add(2*time.Minute)),
		"c": spawn("c", 1, 3, 3, base.Add(2*time.Minute)),
		"d": spawn("d", 4, 4, 4, base.Add(time.Minute)),
		"e": spawn("e", 7, 5, 5, base.Add(-time.Hour)),
	}
	if _, err := st.UpsertPokemon(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := st.SeenPokemon(ctx, base)
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows=%+v want 2", got)
	}
	if got[0].PokemonID != 1 || got[0].Count != 3 || !got[0].LastAppeared.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("species 1 row=%+v", got[0])
	}
	if got[1].PokemonID != 4 || got[1].Count != 1 {
		t.Fatalf("species 4 row=%+v", got[1])
	}
}

func TestAppearances_Ordered(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	m := map[string]store.SpawnRecord{
		"late":  spawn("late", 25, 1, 1, base.Add(3*time.Minute)),
		"early": spawn("early", 25, 1, 1, base.Add(time.Minute)),
		"other": spawn("other", 26, 1, 1, base.Add(time.Minute)),
		"old":   spawn("old", 25, 1, 1, base.Add(-time.Minute)),
	}
	if _, err := st.UpsertPokemon(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := st.Appearances(ctx, 25, base)
	if err != nil {
		t.Fatalf("appearances: %v", err)
	}
	if len(got) != 2 || got[0].EncounterID != "early" || got[1].EncounterID != "late" {
		t.Fatalf("got=%+v", got)
	}
}

func TestSpawnPoints_Distinct(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	a := spawn("a", 1, 1, 1, now)
	b := spawn("b", 2, 1, 1, now.Add(time.Hour))
	b.SpawnpointID = a.SpawnpointID
	c := spawn("c", 3, 1.5, 1.5, now)
	far := spawn("far", 3, 40, 40, now)
	if _, err := st.UpsertPokemon(ctx, map[string]store.SpawnRecord{"a": a, "b": b, "c": c, "far": far}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := st.SpawnPoints(ctx, box(0, 0, 2, 2))
	if err != nil {
		t.Fatalf("spawnpoints: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("spawnpoints=%+v want 2", got)
	}
	times, err := st.SpawnPointTimes(ctx, *box(0, 0, 2, 2))
	if err != nil || len(times) != 2 {
		t.Fatalf("times=%+v err=%v", times, err)
	}
}

func TestForts_RoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	lm := time.UnixMilli(1_000_000_000_000).UTC()
	lure := lm.Add(30 * time.Minute)
	mod := "9QM="
	stops := map[string]store.Pokestop{
		"s1": {PokestopID: "s1", Enabled: true, Latitude: 1, Longitude: 1, LastModified: lm, LureExpiration: &lure, ActiveFortModifier: &mod},
		"s2": {PokestopID: "s2", Enabled: false, Latitude: 9, Longitude: 9, LastModified: lm},
	}
	if _, err := st.UpsertPokestops(ctx, stops); err != nil {
		t.Fatalf("upsert stops: %v", err)
	}
	gyms := map[string]store.Gym{"g1": {GymID: "g1", TeamID: store.TeamValor, GuardPokemonID: 6, GymPoints: 2000, Enabled: true, Latitude: 1, Longitude: 1, LastModified: lm}}
	if _, err := st.UpsertGyms(ctx, gyms); err != nil {
		t.Fatalf("upsert gyms: %v", err)
	}
	got, err := st.Pokestops(ctx, box(0, 0, 2, 2))
	if err != nil || len(got) != 1 {
		t.Fatalf("stops=%+v err=%v", got, err)
	}
	if got[0].LureExpiration == nil || !got[0].LureExpiration.Equal(lure) || got[0].ActiveFortModifier == nil || *got[0].ActiveFortModifier != mod {
		t.Fatalf("stop=%+v", got[0])
	}
	all, err := st.Pokestops(ctx, nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("all stops=%d err=%v", len(all), err)
	}
	g, err := st.Gyms(ctx, nil)
	if err != nil || len(g) != 1 || g[0].TeamID != store.TeamValor || g[0].GymPoints != 2000 {
		t.Fatalf("gyms=%+v err=%v", g, err)
	}
}

func TestClean_ScannedRetentionAndPurge(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	scans := map[int]store.ScannedLocation{
		0: {Latitude: 1, Longitude: 1, LastModified: now.Add(-31 * time.Minute)},
		1: {Latitude: 2, Longitude: 2, LastModified: now.Add(-29 * time.Minute)},
	}
	if _, err := st.UpsertScanned(ctx, scans); err != nil {
		t.Fatalf("upsert scanned: %v", err)
	}
	pk := map[string]store.SpawnRecord{
		"old":   spawn("old", 1, 1, 1, now.Add(-3*time.Hour)),
		"fresh": spawn("fresh", 1, 1, 1, now.Add(-time.Hour)),
	}
	if _, err := st.UpsertPokemon(ctx, pk); err != nil {
		t.Fatalf("upsert pokemon: %v", err)
	}

	c, err := st.Clean(ctx, now, 0)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if c.Scanned != 1 || c.Pokemon != 0 {
		t.Fatalf("cleanup=%+v want 1 scanned, 0 pokemon", c)
	}
	recent, err := st.RecentScans(ctx, now.Add(-20*time.Minute), nil)
	if err != nil || len(recent) != 1 || recent[0].Latitude != 2 {
		t.Fatalf("recent=%+v err=%v", recent, err)
	}

	c, err = st.Clean(ctx, now, 2)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if c.Pokemon != 1 {
		t.Fatalf("purged=%d want 1", c.Pokemon)
	}
	left, err := st.Appearances(ctx, 1, now.Add(-24*time.Hour))
	if err != nil || len(left) != 1 || left[0].EncounterID != "fresh" {
		t.Fatalf("left=%+v err=%v", left, err)
	}
}

func TestAcquire_CancelledContext(t *testing.T) {
	st := newStore(t)
	if err := st.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_ = st.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := st.Acquire(ctx); err == nil {
		t.Fatalf("acquire on closed db succeeded")
	}
}

func TestRebind(t *testing.T) {
	q := "a = ? AND b IN (?, ?)"
	if got := store.Postgres.Rebind(q); got != "a = $1 AND b IN ($2, $3)" {
		t.Fatalf("postgres rebind=%q", got)
	}
	if got := store.SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite rebind=%q", got)
	}
}

func TestAcquire_PermanentErrorFailsFast(t *testing.T) {
	// 目录不能作为数据库文件打开
	st, err := store.Open(config.Storage{Backend: config.BackendSQLite, Path: t.TempDir(), RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	err = st.Acquire(ctx)
	if err == nil {
		t.Fatalf("acquire on directory succeeded")
	}
	if errors.Is(err, context.DeadlineExceeded) || store.IsTransient(err) {
		t.Fatalf("err=%v want permanent open error", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("acquire took %v", d)
	}
}

func retries(table string) float64 {
	return testutil.ToFloat64(metrics.UpsertRetriesTotal.WithLabelValues(table))
}

func TestUpsert_TransientLockRetriesSameBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pogom.db")
	holder, err := store.Open(config.Storage{Backend: config.BackendSQLite, Path: path, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	defer holder.Close()
	ctx := context.Background()
	if _, err := migrate.Run(ctx, holder.DB(), holder.Dialect()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// 不设 busy_timeout，锁冲突立即返回 SQLITE_BUSY
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	db.SetMaxOpenConns(1)
	writer := store.Attach(db, store.SQLite, config.Storage{RetryDelay: 5 * time.Millisecond})
	defer writer.Close()

	tx, err := holder.DB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO pokemon VALUES ('held', 'sp', 1, 0, 0, 0)"); err != nil {
		t.Fatalf("hold write lock: %v", err)
	}
	released := make(chan error, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		released <- tx.Commit()
	}()

	before := retries("pokemon")
	now := time.Now().UTC()
	n, err := writer.UpsertPokemon(ctx, map[string]store.SpawnRecord{"w": spawn("w", 16, 1, 1, now.Add(time.Hour))})
	if err != nil || n != 1 {
		t.Fatalf("upsert n=%d err=%v", n, err)
	}
	if err := <-released; err != nil {
		t.Fatalf("commit: %v", err)
	}
	if retries("pokemon")-before < 1 {
		t.Fatalf("no retry recorded while the write lock was held")
	}
	rows, err := writer.Appearances(ctx, 16, now)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows=%+v err=%v", rows, err)
	}
}

func TestUpsert_PermanentErrorReturnsPartialCount(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	if _, err := st.DB().ExecContext(ctx, `CREATE TRIGGER pokemon_reject BEFORE INSERT ON pokemon
        WHEN NEW.encounter_id = 'reject' BEGIN SELECT RAISE(ABORT, 'rejected'); END`); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	now := time.Now().UTC()
	m := make(map[string]store.SpawnRecord, store.BatchSize+1)
	for i := 0; i < store.BatchSize; i++ {
		id := fmt.Sprintf("e%04d", i)
		m[id] = spawn(id, 10, 0, 0, now.Add(time.Hour))
	}
	// 排序后落在第二批
	m["reject"] = spawn("reject", 10, 0, 0, now.Add(time.Hour))

	before := retries("pokemon")
	n, err := st.UpsertPokemon(ctx, m)
	if err == nil {
		t.Fatalf("upsert succeeded despite rejected row")
	}
	if n != store.BatchSize {
		t.Fatalf("n=%d want %d", n, store.BatchSize)
	}
	if store.IsTransient(err) {
		t.Fatalf("err=%v classified transient", err)
	}
	if d := retries("pokemon") - before; d != 0 {
		t.Fatalf("retries=%v want 0", d)
	}
	got, err := st.ActivePokemon(ctx, now, nil)
	if err != nil || len(got) != store.BatchSize {
		t.Fatalf("rows=%d err=%v", len(got), err)
	}
}
