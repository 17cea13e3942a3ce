package management

import (
	"context"
	"strings"

	"login-management-go/internal/audit"
	"login-management-go/internal/core/models"
)

func (s *Service) externalKey(item *models.QueueItem) (string, bool) {
	key := strings.TrimSpace(item.ExternalKey)
	if key == "" {
		s.itemLogger(item).Warn(validationError("external key", item))
		return "", false
	}
	return key, true
}

func (s *Service) emptyKey(ctx context.Context, item *models.QueueItem) bool {
	return s.finish(ctx, item, transition{status: models.StatusError, log: s.catalog.T(audit.EmptyExternalKey)})
}

// passwordData merges password into the stored supplemental data
func (s *Service) passwordData(item *models.QueueItem, password string) models.SupplementalData {
	data, err := models.ParseSupplementalData(item.SupplementalData)
	if err != nil {
		s.itemLogger(item).Warnf("Replacing invalid supplemental data: %v", err)
		data = models.SupplementalData{}
	}
	return data.With(models.KeyNewPassword, password)
}

func (s *Service) processBlock(ctx context.Context, item *models.QueueItem) bool {
	key, ok := s.externalKey(item)
	if !ok {
		return s.emptyKey(ctx, item)
	}

	res := s.partner.BlockUser(detached(ctx), key)
	if err := res.Err(); err != nil {
		s.itemLogger(item).Errorf("Block failed: %v", err)
		return s.finish(ctx, item, transition{status: models.StatusError, log: ClassifyError(s.catalog, res.Message)})
	}
	return s.finish(ctx, item, transition{status: models.StatusSuccess, log: s.catalog.T(audit.BlockOK)})
}

func (s *Service) processUnblock(ctx context.Context, item *models.QueueItem) bool {
	key, ok := s.externalKey(item)
	if !ok {
		return s.emptyKey(ctx, item)
	}

	res := s.partner.UnblockUser(detached(ctx), key)
	if err := res.Err(); err != nil {
		s.itemLogger(item).Errorf("Unblock failed: %v", err)
		return s.finish(ctx, item, transition{status: models.StatusError, log: ClassifyError(s.catalog, res.Message)})
	}

	t := transition{status: models.StatusSuccess, log: s.catalog.T(audit.UnblockOK)}
	if res.Data != "" {
		s.itemLogger(item).Info("New password generated")
		t.data = s.passwordData(item, res.Data)
	}
	return s.finish(ctx, item, t)
}

// processReset blocks and unblocks an existing user; both steps must succeed.
// A cancelled wait between them leaves the item pending.
func (s *Service) processReset(ctx context.Context, item *models.QueueItem) (bool, error) {
	logger := s.itemLogger(item)
	key, ok := s.externalKey(item)
	if !ok {
		return s.emptyKey(ctx, item), nil
	}
	pctx := detached(ctx)

	blocked := s.partner.BlockUser(pctx, key)
	if !blocked.Success {
		logger.Errorf("Reset block failed: %s", blocked.Message)
		return s.finish(ctx, item, transition{
			status: models.StatusError,
			log:    s.catalog.T(audit.BlockFailed) + ": " + ClassifyError(s.catalog, blocked.Message),
		}), nil
	}

	if err := s.wait(ctx, s.pacing); err != nil {
		logger.Warn("Reset interrupted between block and unblock, item left pending")
		return false, err
	}

	unblocked := s.partner.UnblockUser(pctx, key)
	if !unblocked.Success {
		logger.Errorf("Reset unblock failed: %s", unblocked.Message)
		return s.finish(ctx, item, transition{
			status: models.StatusError,
			log:    s.catalog.T(audit.UnblockFailed) + ": " + ClassifyError(s.catalog, unblocked.Message),
		}), nil
	}

	password := unblocked.Data
	if password == "" {
		password = s.catalog.T(audit.PasswordNotReturned)
	}
	return s.finish(ctx, item, transition{
		status: models.StatusSuccess,
		log:    s.catalog.T(audit.ResetOK),
		data:   s.passwordData(item, password),
	}), nil
}
