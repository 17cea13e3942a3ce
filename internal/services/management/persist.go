package management

import (
	"context"

	"login-management-go/internal/audit"
	"login-management-go/internal/core/models"

	"gorm.io/datatypes"
)

// transition is a terminal status write. data is written when non-nil,
// externalKey when non-empty.
type transition struct {
	status      models.ManagementStatus
	log         string
	data        models.SupplementalData
	externalKey string
}

// finish persists t, publishes the outcome and reports whether the item succeeded.
// Write failures are retried once with a fixed log and never returned.
func (s *Service) finish(ctx context.Context, item *models.QueueItem, t transition) bool {
	logger := s.itemLogger(item)
	changeLog := Truncate(t.log)

	var raw datatypes.JSON
	if t.data != nil {
		encoded, err := t.data.JSON()
		if err != nil {
			logger.Errorf("Failed to encode supplemental data: %v", err)
		} else {
			raw = encoded
		}
	}

	if err := s.write(ctx, item.ID, t.status, changeLog, raw, t.externalKey); err != nil {
		logger.Errorf("Failed to update item status: %v", err)

		changeLog = Truncate(s.catalog.T(audit.PersistFallback))
		if err := s.write(ctx, item.ID, t.status, changeLog, raw, t.externalKey); err != nil {
			logger.Errorf("Critical failure updating item status to %s: %v", t.status, err)
		} else {
			logger.Infof("Status updated with minimal message")
		}
	} else {
		logger.Debugf("Status updated to %s - %s", t.status, changeLog)
	}

	item.ManagementStatus = t.status
	item.LastChangeLog = changeLog
	if t.externalKey != "" {
		item.ExternalKey = t.externalKey
	}
	if raw != nil {
		item.SupplementalData = raw
	}

	s.metrics.RecordItem(ctx, item.ManagementType.Name(), t.status.Name())
	s.publish(ctx, item)

	return t.status == models.StatusSuccess
}

func (s *Service) write(ctx context.Context, id uint, status models.ManagementStatus, changeLog string, data datatypes.JSON, externalKey string) error {
	wctx, cancel := context.WithTimeout(detached(ctx), persistTimeout)
	defer cancel()

	switch {
	case externalKey != "":
		if data == nil {
			data = datatypes.JSON(`{}`)
		}
		return s.store.UpdateStatusWithDataAndKey(wctx, id, status, changeLog, data, externalKey)
	case data != nil:
		return s.store.UpdateStatusWithData(wctx, id, status, changeLog, data)
	default:
		return s.store.UpdateStatus(wctx, id, status, changeLog)
	}
}

func (s *Service) publish(ctx context.Context, item *models.QueueItem) {
	if s.pub == nil {
		return
	}
	outcome := models.Outcome{
		ItemID:      item.ID,
		Type:        item.ManagementType.Name(),
		Status:      item.ManagementStatus.Name(),
		Log:         item.LastChangeLog,
		ExternalKey: item.ExternalKey,
		At:          s.now(),
	}
	if err := s.pub.Publish(detached(ctx), outcome); err != nil {
		s.itemLogger(item).Warnf("Failed to publish outcome: %v", err)
	}
}
