package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
)

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock
}

func TestConfigFromStorage(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PostgresReplicaURLs = " postgres://r1/db , ,postgres://r2/db"

	cc := ConfigFromStorage(cfg)
	assert.Equal(t, cfg.PostgresURL, cc.PrimaryURL)
	assert.Equal(t, []string{"postgres://r1/db", "postgres://r2/db"}, cc.ReplicaURLs)
	assert.Equal(t, 20, cc.MaxConns)
}

func TestNewConnectionManager_RequiresPrimary(t *testing.T) {
	_, err := NewConnectionManager(ConnectionConfig{}, observability.NopLogger())
	assert.Error(t, err)
}

func TestReplica_FallsBackToPrimary(t *testing.T) {
	primary, _ := newPingMock(t)
	defer primary.Close()

	cm := NewConnectionManagerFromDB(primary)
	assert.Same(t, primary, cm.Replica())
	assert.Equal(t, 0, cm.ReplicaCount())
}

func TestReplica_RoundRobin(t *testing.T) {
	primary, _ := newPingMock(t)
	r1, _ := newPingMock(t)
	r2, _ := newPingMock(t)
	defer primary.Close()

	cm := NewConnectionManagerFromDB(primary, r1, r2)

	seen := map[*sql.DB]int{}
	for i := 0; i < 10; i++ {
		seen[cm.Replica()]++
	}
	assert.Equal(t, 5, seen[r1])
	assert.Equal(t, 5, seen[r2])
	assert.Zero(t, seen[primary])
}

func TestPing(t *testing.T) {
	primary, mock := newPingMock(t)
	defer primary.Close()
	cm := NewConnectionManagerFromDB(primary)

	mock.ExpectPing()
	assert.NoError(t, cm.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err := cm.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary unhealthy")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveUnhealthyReplicas(t *testing.T) {
	primary, _ := newPingMock(t)
	healthy, healthyMock := newPingMock(t)
	broken, brokenMock := newPingMock(t)
	defer primary.Close()

	healthyMock.ExpectPing()
	brokenMock.ExpectPing().WillReturnError(errors.New("timeout"))
	brokenMock.ExpectClose()

	cm := NewConnectionManagerFromDB(primary, healthy, broken)
	removed := cm.RemoveUnhealthyReplicas(context.Background())

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cm.ReplicaCount())
	assert.Same(t, healthy, cm.Replica())
	assert.NoError(t, brokenMock.ExpectationsWereMet())
}

func TestClose(t *testing.T) {
	primary, primaryMock := newPingMock(t)
	replica, replicaMock := newPingMock(t)

	primaryMock.ExpectClose()
	replicaMock.ExpectClose().WillReturnError(errors.New("already closed"))

	cm := NewConnectionManagerFromDB(primary, replica)
	err := cm.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica 0 close error")
	assert.Equal(t, 0, cm.ReplicaCount())
}

func TestWithTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO apps").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO apps (id) VALUES ($1)", "a1")
		return err
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("key insert failed")
	err = WithTx(context.Background(), db, func(tx *sql.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}
