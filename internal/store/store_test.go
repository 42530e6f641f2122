package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/equipstat/internal/config"
	"github.com/JonMunkholm/equipstat/internal/ingest"
)

const (
	testPort     = 15433
	testDB       = "equipstat_test"
	testUser     = "postgres"
	testPassword = "postgres"
)

var testStore *Store

// The integration tests download and start a real PostgreSQL, so they only
// run when EQUIPSTAT_PG_TESTS=1.
func TestMain(m *testing.M) {
	if os.Getenv("EQUIPSTAT_PG_TESTS") != "1" {
		fmt.Fprintln(os.Stderr, "SKIP: set EQUIPSTAT_PG_TESTS=1 to run store integration tests")
		os.Exit(0)
	}

	pg := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(uint32(testPort)).
			Database(testDB).
			Username(testUser).
			Password(testPassword).
			Version(embeddedpostgres.V16).
			StartTimeout(30 * time.Second),
	)
	if err := pg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start embedded postgres: %v\n", err)
		os.Exit(1)
	}

	code := run(m)

	if err := pg.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to stop embedded postgres: %v\n", err)
	}
	os.Exit(code)
}

func run(m *testing.M) int {
	ctx := context.Background()
	dsn := fmt.Sprintf("postgresql://%s:%s@localhost:%d/%s?sslmode=disable",
		testUser, testPassword, testPort, testDB)

	pool, err := NewPool(ctx, config.DatabaseConfig{URL: dsn, MaxConns: 4, MinConns: 0})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 1
	}
	defer pool.Close()

	if _, err := Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	// A second run must be a no-op.
	if _, err := Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "re-migrate: %v\n", err)
		return 1
	}

	testStore = New(pool)
	return m.Run()
}

var userSeq int

func newUser(t *testing.T) *User {
	t.Helper()
	userSeq++
	u, err := testStore.CreateUser(context.Background(),
		fmt.Sprintf("user-%d-%d", time.Now().UnixNano(), userSeq), "u@example.com", "hash")
	require.NoError(t, err)
	return u
}

func sampleResult(names ...string) *ingest.Result {
	res := &ingest.Result{TypeDistribution: map[string]int{}}
	for i, n := range names {
		res.Records = append(res.Records, ingest.Record{
			Name: n, Type: "Pump", Flowrate: float64(i + 1), Pressure: 2, Temperature: 3,
		})
		res.TypeDistribution["Pump"]++
	}
	res.RecordCount = len(res.Records)
	res.AverageFlowrate = 1.5
	res.AveragePressure = 2
	res.AverageTemperature = 3
	return res
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	u := newUser(t)

	got, err := testStore.GetUserByUsername(ctx, u.Username)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = testStore.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Username, got.Username)

	_, err = testStore.CreateUser(ctx, u.Username, "", "hash")
	assert.True(t, errors.Is(err, ErrDuplicate))

	_, err = testStore.GetUserByUsername(ctx, "nobody-here")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateAndGetDataset(t *testing.T) {
	ctx := context.Background()
	u := newUser(t)

	d, evicted, err := testStore.CreateDataset(ctx, NewDataset{
		UserID:   u.ID,
		FileName: "pumps.csv",
		FileKey:  "datasets/a.csv",
		Result:   sampleResult("B", "A", "A"),
	}, 5)
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.NotZero(t, d.ID)
	assert.Equal(t, u.Username, d.Owner.Username)

	got, err := testStore.GetDataset(ctx, u.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalEquipment)
	assert.Equal(t, map[string]int{"Pump": 3}, got.EquipmentTypes)
	require.Len(t, got.Records, 3)
	assert.Equal(t, "A", got.Records[0].Name)
	assert.Equal(t, 2.0, got.Records[0].Flowrate)
	assert.Equal(t, "A", got.Records[1].Name)
	assert.Equal(t, 3.0, got.Records[1].Flowrate)
	assert.Equal(t, "B", got.Records[2].Name)

	other := newUser(t)
	_, err = testStore.GetDataset(ctx, other.ID, d.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRetentionKeepsNewest(t *testing.T) {
	ctx := context.Background()
	u := newUser(t)

	var ids []int64
	var allEvicted []Evicted
	for i := 0; i < 7; i++ {
		d, evicted, err := testStore.CreateDataset(ctx, NewDataset{
			UserID:   u.ID,
			FileName: fmt.Sprintf("f%d.csv", i),
			FileKey:  fmt.Sprintf("datasets/%d-%d.csv", u.ID, i),
			Result:   sampleResult("P"),
		}, 5)
		require.NoError(t, err)
		ids = append(ids, d.ID)
		allEvicted = append(allEvicted, evicted...)
	}

	list, err := testStore.ListDatasets(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, d := range list {
		assert.Equal(t, ids[6-i], d.ID, "newest first")
	}

	require.Len(t, allEvicted, 2)
	assert.Equal(t, ids[0], allEvicted[0].ID)
	assert.Equal(t, ids[1], allEvicted[1].ID)

	_, err = testStore.GetDataset(ctx, u.ID, ids[0])
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateDataset_StampedAfterOwnerLock(t *testing.T) {
	ctx := context.Background()
	u := newUser(t)

	blocker, err := testStore.pool.Begin(ctx)
	require.NoError(t, err)
	defer blocker.Rollback(ctx)
	_, err = blocker.Exec(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, u.ID)
	require.NoError(t, err)

	type created struct {
		d   *Dataset
		err error
	}
	done := make(chan created, 1)
	go func() {
		d, _, err := testStore.CreateDataset(ctx, NewDataset{
			UserID:   u.ID,
			FileName: "late.csv",
			FileKey:  fmt.Sprintf("datasets/%d-late.csv", u.ID),
			Result:   sampleResult("P"),
		}, 5)
		done <- created{d, err}
	}()

	time.Sleep(300 * time.Millisecond)
	var released time.Time
	require.NoError(t, blocker.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&released))
	require.NoError(t, blocker.Commit(ctx))

	res := <-done
	require.NoError(t, res.err)
	assert.False(t, res.d.UploadedAt.Before(released),
		"uploaded_at %v precedes lock release %v", res.d.UploadedAt, released)
}

func TestRetentionIsPerUser(t *testing.T) {
	ctx := context.Background()
	a, b := newUser(t), newUser(t)

	for i := 0; i < 3; i++ {
		_, _, err := testStore.CreateDataset(ctx, NewDataset{UserID: a.ID, FileName: "a.csv", FileKey: "k", Result: sampleResult("P")}, 2)
		require.NoError(t, err)
	}
	_, _, err := testStore.CreateDataset(ctx, NewDataset{UserID: b.ID, FileName: "b.csv", FileKey: "k", Result: sampleResult("P")}, 2)
	require.NoError(t, err)

	la, err := testStore.ListDatasets(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Len(t, la, 2)

	lb, err := testStore.ListDatasets(ctx, b.ID, 10)
	require.NoError(t, err)
	assert.Len(t, lb, 1)
}

func TestCreateDataset_UnknownOwner(t *testing.T) {
	_, _, err := testStore.CreateDataset(context.Background(), NewDataset{
		UserID: -1, FileName: "x.csv", FileKey: "k", Result: sampleResult("P"),
	}, 5)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteDataset(t *testing.T) {
	ctx := context.Background()
	u := newUser(t)

	d, _, err := testStore.CreateDataset(ctx, NewDataset{
		UserID: u.ID, FileName: "x.csv", FileKey: "datasets/delete-me.csv", Result: sampleResult("P", "Q"),
	}, 5)
	require.NoError(t, err)

	other := newUser(t)
	_, err = testStore.DeleteDataset(ctx, other.ID, d.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	key, err := testStore.DeleteDataset(ctx, u.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "datasets/delete-me.csv", key)

	var n int
	require.NoError(t, testStore.Pool().QueryRow(ctx,
		`SELECT count(*) FROM equipment_records WHERE dataset_id = $1`, d.ID).Scan(&n))
	assert.Zero(t, n, "records cascade")

	keys, err := testStore.ListFileKeys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, "datasets/delete-me.csv")
}
