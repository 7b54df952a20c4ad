package apps

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/auth"
)

const (
	testAppID  = "0b8f3c1e-2d4a-4f6b-9a7c-5e3d2f1a0b9c"
	testKeyID  = "6f1c2a4e-8a57-4b9e-9f0e-3d2b1c0a9e11"
	testUserID = "user-1"
)

var appRowColumns = []string{"id", "user_id", "name", "description", "url", "is_active", "created_at", "updated_at"}

var keyRowColumns = []string{
	"id", "user_id", "app_id", "name", "key_hash", "key_prefix",
	"is_active", "expires_at", "ip_restrictions", "last_used", "created_at", "updated_at",
}

type recordingInvalidator struct {
	calls []string
	err   error
}

func (r *recordingInvalidator) InvalidateUser(_ context.Context, userID, event, appID string) (int64, error) {
	r.calls = append(r.calls, userID+"/"+event+"/"+appID)
	return 1, r.err
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *recordingInvalidator) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	inv := &recordingInvalidator{}
	keys := auth.NewKeyService(auth.NewRepository(db))
	return NewService(db, keys, inv), mock, inv
}

func appRow(active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(appRowColumns).
		AddRow(testAppID, testUserID, "Storefront", "web shop", "https://shop.example.com", active, now, now)
}

func keyRow(userID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(keyRowColumns).
		AddRow(testKeyID, userID, testAppID, "Storefront", "hash", "tly_abcdefgh",
			true, now.Add(time.Hour), []byte("{}"), nil, now, now)
}

func TestService_Register(t *testing.T) {
	svc, mock, _ := newTestService(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO apps`).
		WithArgs(sqlmock.AnyArg(), testUserID, "Storefront", "web shop", "", true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery(`INSERT INTO api_keys`).
		WithArgs(sqlmock.AnyArg(), testUserID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	reg, err := svc.Register(context.Background(), testUserID, CreateAppRequest{AppName: "  Storefront ", Description: "web shop"})
	require.NoError(t, err)
	assert.Equal(t, "Storefront", reg.App.Name)
	assert.True(t, reg.App.IsActive)
	assert.Equal(t, reg.App.ID, reg.APIKey.AppID)
	assert.NotEmpty(t, reg.APIKey.Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Register_RollsBackOnKeyFailure(t *testing.T) {
	svc, mock, _ := newTestService(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO apps`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery(`INSERT INTO api_keys`).WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	_, err := svc.Register(context.Background(), testUserID, CreateAppRequest{AppName: "Storefront"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unique violation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_List(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery(`SELECT .* FROM apps\s+WHERE user_id = \$1 AND is_active = TRUE`).
		WithArgs(testUserID).
		WillReturnRows(appRow(true))

	apps, err := svc.List(context.Background(), testUserID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "Storefront", apps[0].Name)

	mock.ExpectQuery(`SELECT .* FROM apps`).
		WithArgs("user-2").
		WillReturnRows(sqlmock.NewRows(appRowColumns))

	apps, err = svc.List(context.Background(), "user-2")
	require.NoError(t, err)
	assert.NotNil(t, apps)
	assert.Empty(t, apps)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Get(t *testing.T) {
	svc, mock, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "not-a-uuid", testUserID)
	assert.ErrorIs(t, err, ErrInvalidAppID)

	mock.ExpectQuery(`SELECT .* FROM apps WHERE id = \$1 AND user_id = \$2`).
		WithArgs(testAppID, "intruder").
		WillReturnError(sql.ErrNoRows)

	_, err = svc.Get(ctx, testAppID, "intruder")
	assert.ErrorIs(t, err, ErrAppNotFound)

	owns, err := svc.Owns(ctx, "intruder", "app-1")
	require.NoError(t, err)
	assert.False(t, owns)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Update(t *testing.T) {
	svc, mock, _ := newTestService(t)
	name := " Renamed "

	mock.ExpectExec(`UPDATE apps\s+SET name = COALESCE\(\$3, name\)`).
		WithArgs(testAppID, testUserID, sql.NullString{String: "Renamed", Valid: true}, sql.NullString{}, sql.NullString{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM apps WHERE id = \$1`).
		WithArgs(testAppID, testUserID).
		WillReturnRows(appRow(true))

	app, err := svc.Update(context.Background(), testAppID, testUserID, UpdateAppRequest{AppName: &name})
	require.NoError(t, err)
	assert.Equal(t, testAppID, app.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Update_NotOwned(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectExec(`UPDATE apps`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := svc.Update(context.Background(), testAppID, "intruder", UpdateAppRequest{})
	assert.ErrorIs(t, err, ErrAppNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Deactivate(t *testing.T) {
	svc, mock, inv := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE apps SET is_active = FALSE`).
		WithArgs(testAppID, testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE api_keys SET is_active = FALSE.* WHERE app_id = \$1`).
		WithArgs(testAppID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.Deactivate(context.Background(), testAppID, testUserID))
	assert.Equal(t, []string{testUserID + "//" + testAppID}, inv.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Deactivate_CacheFailureIsNotFatal(t *testing.T) {
	svc, mock, inv := newTestService(t)
	inv.err = errors.New("redis down")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE apps`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE api_keys`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, svc.Deactivate(context.Background(), testAppID, testUserID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Deactivate_NotOwned(t *testing.T) {
	svc, mock, inv := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE apps`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, svc.Deactivate(context.Background(), testAppID, "intruder"), ErrAppNotFound)
	assert.Empty(t, inv.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_RevokeKey(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery(`SELECT .* FROM apps WHERE id = \$1`).WillReturnRows(appRow(true))
	mock.ExpectQuery(`SELECT .* WHERE k.app_id = \$1`).WithArgs(testAppID).WillReturnRows(keyRow(testUserID))
	mock.ExpectQuery(`SELECT .* WHERE k.id = \$1`).WithArgs(testKeyID).WillReturnRows(keyRow(testUserID))
	mock.ExpectExec(`UPDATE api_keys SET is_active = FALSE`).
		WithArgs(testKeyID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	key, err := svc.RevokeKey(context.Background(), testAppID, testUserID)
	require.NoError(t, err)
	assert.False(t, key.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_RegenerateKey_InactiveApp(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery(`SELECT .* FROM apps WHERE id = \$1`).WillReturnRows(appRow(false))

	_, err := svc.RegenerateKey(context.Background(), testAppID, testUserID)
	assert.ErrorIs(t, err, ErrAppInactive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_RegenerateKey(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery(`SELECT .* FROM apps WHERE id = \$1`).WillReturnRows(appRow(true))
	mock.ExpectQuery(`SELECT .* WHERE k.app_id = \$1`).WillReturnRows(keyRow(testUserID))
	mock.ExpectQuery(`SELECT .* WHERE k.id = \$1`).WillReturnRows(keyRow(testUserID))
	mock.ExpectExec(`UPDATE api_keys`).
		WithArgs(testKeyID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	issued, err := svc.RegenerateKey(context.Background(), testAppID, testUserID)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Key)
	assert.Equal(t, testKeyID, issued.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
