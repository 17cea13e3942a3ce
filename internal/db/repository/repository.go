package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"login-management-go/internal/core/models"
	"login-management-go/internal/util/timezone"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrPersistence wraps every failed read or write of the item store
var ErrPersistence = errors.New("persistence error")

// ItemStore defines the queue operations used by the workflow service and the HTTP surface
type ItemStore interface {
	// Queue items
	FindPending(ctx context.Context) ([]models.QueueItem, error)
	CountPending(ctx context.Context) (int64, error)
	FindByID(ctx context.Context, id uint) (*models.QueueItem, error)

	// Terminal transitions
	UpdateStatus(ctx context.Context, id uint, status models.ManagementStatus, changeLog string) error
	UpdateStatusWithData(ctx context.Context, id uint, status models.ManagementStatus, changeLog string, data datatypes.JSON) error
	UpdateStatusWithDataAndKey(ctx context.Context, id uint, status models.ManagementStatus, changeLog string, data datatypes.JSON, externalKey string) error

	// Groups
	SaveGroup(ctx context.Context, group *models.Group) error
	FindGroupByUUID(ctx context.Context, uuid string) (*models.Group, error)

	Ping(ctx context.Context) error
}

// GormRepository implements ItemStore on top of gorm (SQLite or Postgres)
type GormRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormRepository creates a repository on an opened database
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db, now: timezone.Now}
}

// WithClock replaces the clock used for ChangedAt
func (r *GormRepository) WithClock(now func() time.Time) *GormRepository {
	r.now = now
	return r
}

func pendingStatusCodes() []int {
	codes := make([]int, 0, len(models.PendingStatuses))
	for _, s := range models.PendingStatuses {
		codes = append(codes, int(s))
	}
	return codes
}

func (r *GormRepository) pending(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.QueueItem{}).
		Where("management_status IN ?", pendingStatusCodes()).
		Where("deleted = ?", false)
}

// FindPending returns all queued or failed items that are not deleted, oldest first
func (r *GormRepository) FindPending(ctx context.Context) ([]models.QueueItem, error) {
	var items []models.QueueItem
	if err := r.pending(ctx).Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("%w: find pending items: %v", ErrPersistence, err)
	}
	return items, nil
}

// CountPending counts the items a drain would select
func (r *GormRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pending(ctx).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("%w: count pending items: %v", ErrPersistence, err)
	}
	return count, nil
}

// FindByID returns the item or nil when it does not exist
func (r *GormRepository) FindByID(ctx context.Context, id uint) (*models.QueueItem, error) {
	var item models.QueueItem
	result := r.db.WithContext(ctx).First(&item, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find item %d: %v", ErrPersistence, id, result.Error)
	}
	return &item, nil
}

// UpdateStatus records a terminal transition
func (r *GormRepository) UpdateStatus(ctx context.Context, id uint, status models.ManagementStatus, changeLog string) error {
	return r.update(ctx, id, map[string]any{
		"management_status": int(status),
		"last_change_log":   changeLog,
	})
}

// UpdateStatusWithData records a terminal transition together with supplemental data
func (r *GormRepository) UpdateStatusWithData(ctx context.Context, id uint, status models.ManagementStatus, changeLog string, data datatypes.JSON) error {
	return r.update(ctx, id, map[string]any{
		"management_status": int(status),
		"last_change_log":   changeLog,
		"supplemental_data": data,
	})
}

// UpdateStatusWithDataAndKey records a transition, supplemental data and the partner user key
func (r *GormRepository) UpdateStatusWithDataAndKey(ctx context.Context, id uint, status models.ManagementStatus, changeLog string, data datatypes.JSON, externalKey string) error {
	return r.update(ctx, id, map[string]any{
		"management_status": int(status),
		"last_change_log":   changeLog,
		"supplemental_data": data,
		"external_key":      externalKey,
	})
}

func (r *GormRepository) update(ctx context.Context, id uint, fields map[string]any) error {
	fields["changed_at"] = r.now()
	result := r.db.WithContext(ctx).
		Model(&models.QueueItem{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("%w: update item %d: %v", ErrPersistence, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: item %d not found", ErrPersistence, id)
	}
	return nil
}

// SaveGroup inserts or updates a group mirror
func (r *GormRepository) SaveGroup(ctx context.Context, group *models.Group) error {
	if err := r.db.WithContext(ctx).Save(group).Error; err != nil {
		return fmt.Errorf("%w: save group %s: %v", ErrPersistence, group.UUID, err)
	}
	return nil
}

// FindGroupByUUID returns the group or nil when it does not exist
func (r *GormRepository) FindGroupByUUID(ctx context.Context, uuid string) (*models.Group, error) {
	var group models.Group
	result := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&group)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find group %s: %v", ErrPersistence, uuid, result.Error)
	}
	return &group, nil
}

// Ping checks database reachability
func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrPersistence, err)
	}
	return nil
}
