package repository

import (
	"context"
	"testing"
	"time"

	"login-management-go/config"
	"login-management-go/internal/core/models"
	"login-management-go/internal/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) (*GormRepository, *gorm.DB) {
	t.Helper()
	database, err := db.Open(config.DBConfig{Driver: "sqlite", File: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	return NewGormRepository(database).WithClock(func() time.Time { return fixedNow }), database
}

func seed(t *testing.T, database *gorm.DB, items ...models.QueueItem) {
	t.Helper()
	for i := range items {
		require.NoError(t, database.Create(&items[i]).Error)
	}
}

func TestFindPendingSelectsQueuedAndErrorNotDeleted(t *testing.T) {
	repo, database := setupRepo(t)
	seed(t, database,
		models.QueueItem{ID: 3, UserCode: "c", ManagementType: models.TypeBlock, ManagementStatus: models.StatusError},
		models.QueueItem{ID: 1, UserCode: "a", ManagementType: models.TypeCreate, ManagementStatus: models.StatusQueued},
		models.QueueItem{ID: 2, UserCode: "b", ManagementType: models.TypeCreate, ManagementStatus: models.StatusSuccess},
		models.QueueItem{ID: 4, UserCode: "d", ManagementType: models.TypeCreate, ManagementStatus: models.StatusQueued, Deleted: true},
	)

	items, err := repo.FindPending(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, uint(1), items[0].ID)
	assert.Equal(t, uint(3), items[1].ID)

	count, err := repo.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUpdateStatusWithDataAndKey(t *testing.T) {
	repo, database := setupRepo(t)
	seed(t, database, models.QueueItem{ID: 7, UserCode: "123", ManagementType: models.TypeCreate, ManagementStatus: models.StatusQueued})

	data := datatypes.JSON(`{"userUuid":"u1"}`)
	err := repo.UpdateStatusWithDataAndKey(context.Background(), 7, models.StatusSuccess, "Criado OK", data, "u1")
	require.NoError(t, err)

	item, err := repo.FindByID(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.StatusSuccess, item.ManagementStatus)
	assert.Equal(t, "Criado OK", item.LastChangeLog)
	assert.Equal(t, "u1", item.ExternalKey)
	assert.JSONEq(t, `{"userUuid":"u1"}`, string(item.SupplementalData))
	require.NotNil(t, item.ChangedAt)
	assert.True(t, item.ChangedAt.Equal(fixedNow))
}

func TestUpdateStatusLeavesDataAndKeyAlone(t *testing.T) {
	repo, database := setupRepo(t)
	seed(t, database, models.QueueItem{
		ID: 8, ExternalKey: "k1", ManagementType: models.TypeBlock, ManagementStatus: models.StatusQueued,
		SupplementalData: datatypes.JSON(`{"telefonePIN":"1234"}`),
	})

	require.NoError(t, repo.UpdateStatus(context.Background(), 8, models.StatusError, "Não encontrado"))

	item, err := repo.FindByID(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, item.ManagementStatus)
	assert.Equal(t, "k1", item.ExternalKey)
	assert.JSONEq(t, `{"telefonePIN":"1234"}`, string(item.SupplementalData))
}

func TestUpdateMissingItemFails(t *testing.T) {
	repo, _ := setupRepo(t)
	err := repo.UpdateStatus(context.Background(), 404, models.StatusSuccess, "x")
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestFindByIDNotFoundReturnsNil(t *testing.T) {
	repo, _ := setupRepo(t)
	item, err := repo.FindByID(context.Background(), 99)
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestSaveAndFindGroup(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveGroup(ctx, &models.Group{UUID: "g-1", Name: "Loja Centro", OriginatingKey: "12345678900"}))

	group, err := repo.FindGroupByUUID(ctx, "g-1")
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, "Loja Centro", group.Name)
	assert.Equal(t, "12345678900", group.OriginatingKey)

	missing, err := repo.FindGroupByUUID(ctx, "g-2")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPing(t *testing.T) {
	repo, _ := setupRepo(t)
	assert.NoError(t, repo.Ping(context.Background()))
}
