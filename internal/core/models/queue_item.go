package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// ManagementType selects the workflow of a queue item. Values are the
// dropdown codes written by the front-end.
type ManagementType int

const (
	TypeCreate  ManagementType = 3833
	TypeBlock   ManagementType = -4104
	TypeUnblock ManagementType = -4105
	TypeReset   ManagementType = -4103
)

// String returns a readable name together with the raw code
func (t ManagementType) String() string {
	return fmt.Sprintf("%s(%d)", t.Name(), int(t))
}

// Name returns the type name without the code
func (t ManagementType) Name() string {
	switch t {
	case TypeCreate:
		return "CREATE"
	case TypeBlock:
		return "BLOCK"
	case TypeUnblock:
		return "UNBLOCK"
	case TypeReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// ManagementStatus is the lifecycle state of a queue item
type ManagementStatus int

const (
	StatusQueued  ManagementStatus = -4106
	StatusSuccess ManagementStatus = -4107
	StatusError   ManagementStatus = -4108
)

// PendingStatuses are the statuses selected by a drain. Failed items are
// retried by being picked up again.
var PendingStatuses = []ManagementStatus{StatusQueued, StatusError}

// String returns a readable name together with the raw code
func (s ManagementStatus) String() string {
	return fmt.Sprintf("%s(%d)", s.Name(), int(s))
}

// Name returns the status name without the code, used in topics and JSON
func (s ManagementStatus) Name() string {
	switch s {
	case StatusQueued:
		return "QUEUED"
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ChangeLogMaxLength is the column width of LastChangeLog
const ChangeLogMaxLength = 50

// QueueItem is a login management request written by the front-end and
// reconciled against the partner API.
type QueueItem struct {
	ID               uint             `gorm:"primaryKey"`
	LoginID          int              `gorm:"not null"`
	UserCode         string           `gorm:"size:32;not null"` // tax ID of the user
	ExternalKey      string           `gorm:"size:64;index"`    // partner user uuid
	ToolID           *int             // opaque front-end reference
	AccreditorID     *int             // opaque front-end reference
	ManagementType   ManagementType   `gorm:"index;not null"`
	ManagementStatus ManagementStatus `gorm:"index;not null"`
	SupplementalData datatypes.JSON   `gorm:"type:json"`
	LastChangeLog    string           `gorm:"size:50"`
	LogOriginID      *int
	Deleted          bool `gorm:"index;not null;default:false"`
	CreatedBy        *int
	CreatedAt        time.Time
	ChangedBy        *int
	ChangedAt        *time.Time
}

// TableName returns the database table name
func (QueueItem) TableName() string {
	return "crm_login_management"
}

// Group mirrors a partner-side user group created by a CREATE workflow
type Group struct {
	ID             uint   `gorm:"primaryKey"`
	UUID           string `gorm:"size:64;uniqueIndex;not null"`
	Name           string `gorm:"size:255;not null"`
	OriginatingKey string `gorm:"size:32"` // user code the group was created for
	CreatedAt      time.Time
}

// TableName returns the database table name
func (Group) TableName() string {
	return "crm_login_management_groups"
}
