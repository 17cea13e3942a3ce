package management

import (
	"context"
	"strings"

	"login-management-go/internal/audit"
	"login-management-go/internal/core/models"
)

// processCreate creates the partner user, attaches it to a group when one is
// requested and activates it with a block/unblock cycle. Group and activation
// failures only add a warning; the item succeeds once the user exists.
func (s *Service) processCreate(ctx context.Context, item *models.QueueItem) (bool, error) {
	logger := s.itemLogger(item)
	userCode := strings.TrimSpace(item.UserCode)
	if userCode == "" {
		logger.Warn(validationError("user code", item))
		return s.finish(ctx, item, transition{status: models.StatusError, log: s.catalog.T(audit.EmptyUserCode)}), nil
	}

	data, err := models.ParseSupplementalData(item.SupplementalData)
	if err != nil {
		logger.Warnf("Invalid supplemental data, creating user without group: %v", err)
		data = models.SupplementalData{}
	}
	groupUUID, groupName := data.GroupUUID(), data.GroupName()

	pctx := detached(ctx)
	created := s.partner.CreateUser(pctx, userCode)
	if err := created.Err(); err != nil {
		logger.Errorf("Failed to create user: %v", err)
		return s.finish(ctx, item, transition{status: models.StatusError, log: ClassifyError(s.catalog, created.Message)}), nil
	}
	userUUID := created.Data
	logger.Infof("User created with uuid %s", userUUID)

	out := data.With(models.KeyUserUUID, userUUID)
	var changeLog string

	switch {
	case groupUUID != "":
		logger.Infof("Linking user to existing group %s", groupUUID)
		linked := s.partner.AddUserToGroup(pctx, groupUUID, userUUID)
		if !linked.Success {
			logger.Warnf("User created but linking to group failed: %s", linked.Message)
			out = out.With(models.KeyWarning, s.catalog.T(audit.WarningLinkFailed))
			changeLog = s.catalog.T(audit.CreatedWithoutGroup)
			break
		}
		linkedGroup := models.SupplementalData{models.KeyGroupUUID: groupUUID}
		if groupName != "" {
			linkedGroup[models.KeyGroupName] = groupName
		}
		out = out.Merge(linkedGroup)
		changeLog = s.catalog.T(audit.CreatedWithGroup)

	case groupName != "":
		logger.Infof("Creating new group %q", groupName)
		group := s.partner.CreateGroup(pctx, groupName, userCode)
		if !group.Success {
			logger.Warnf("User created but group creation failed: %s", group.Message)
			out = out.With(models.KeyWarning, s.catalog.T(audit.WarningGroupCreateFailed))
			changeLog = s.catalog.T(audit.CreatedWithoutGroup)
			break
		}
		newGroupUUID := group.Data
		s.saveGroup(ctx, item, &models.Group{UUID: newGroupUUID, Name: groupName, OriginatingKey: userCode})

		out = out.Merge(models.SupplementalData{models.KeyGroupUUID: newGroupUUID, models.KeyGroupName: groupName})
		linked := s.partner.AddUserToGroup(pctx, newGroupUUID, userUUID)
		if !linked.Success {
			logger.Warnf("Group created but linking user failed: %s", linked.Message)
			out = out.With(models.KeyWarning, s.catalog.T(audit.WarningGroupNotLinked))
			changeLog = s.catalog.T(audit.CreatedWithoutLink)
			break
		}
		changeLog = s.catalog.T(audit.CreatedWithNewGroup)

	default:
		changeLog = s.catalog.T(audit.CreatedOK)
	}

	password, waitErr := s.activate(ctx, item, userUUID)
	if password != "" {
		out = out.With(models.KeyNewPassword, password)
	}
	if waitErr != nil {
		warning := s.catalog.T(audit.WarningActivationInterrupted)
		if existing := out.String(models.KeyWarning); existing != "" {
			warning = existing + "; " + warning
		}
		out = out.With(models.KeyWarning, warning)
	}

	ok := s.finish(ctx, item, transition{
		status:      models.StatusSuccess,
		log:         changeLog,
		data:        out,
		externalKey: userUUID,
	})
	return ok, waitErr
}

// activate blocks and then unblocks a new user so the partner issues its
// first password. Failures are logged only.
func (s *Service) activate(ctx context.Context, item *models.QueueItem, userUUID string) (string, error) {
	logger := s.itemLogger(item)
	pctx := detached(ctx)

	if blocked := s.partner.BlockUser(pctx, userUUID); !blocked.Success {
		logger.Warnf("Activation block failed: %s", blocked.Message)
	}

	if err := s.wait(ctx, s.pacing); err != nil {
		logger.Warn("Activation interrupted before unblock")
		return "", err
	}

	unblocked := s.partner.UnblockUser(pctx, userUUID)
	if !unblocked.Success {
		logger.Warnf("Activation unblock failed: %s", unblocked.Message)
		return "", nil
	}
	logger.Info("User activated")
	return unblocked.Data, nil
}

func (s *Service) saveGroup(ctx context.Context, item *models.QueueItem, group *models.Group) {
	wctx, cancel := context.WithTimeout(detached(ctx), persistTimeout)
	defer cancel()
	if err := s.store.SaveGroup(wctx, group); err != nil {
		s.itemLogger(item).Errorf("Failed to save group %s: %v", group.UUID, err)
		return
	}
	s.itemLogger(item).Infof("Group %s saved", group.UUID)
}
