package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"gorm.io/datatypes"
)

// Keys of the supplemental data object. Input keys are written by the
// front-end, output keys by the workflows.
const (
	KeyGroupUUIDInput = "managementGroups_uuid"
	KeyGroupNameInput = "managementGroups_nome"
	KeyPhonePIN       = "telefonePIN"

	KeyUserUUID    = "userUuid"
	KeyGroupUUID   = "groupUuid"
	KeyGroupName   = "groupNome"
	KeyWarning     = "warning"
	KeyNewPassword = "newPassword"
)

// ErrNotAnObject is returned when the supplemental payload is valid JSON but not an object
var ErrNotAnObject = errors.New("supplemental data is not a JSON object")

// SupplementalData is the JSON object stored alongside a queue item.
// Values are kept as decoded so unknown keys survive a round trip.
type SupplementalData map[string]any

// ParseSupplementalData decodes a stored payload. Empty input yields an empty object.
func ParseSupplementalData(raw []byte) (SupplementalData, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return SupplementalData{}, nil
	}
	if raw[0] != '{' {
		return nil, ErrNotAnObject
	}
	var data SupplementalData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode supplemental data: %w", err)
	}
	if data == nil {
		data = SupplementalData{}
	}
	return data, nil
}

// GroupUUID returns the target group uuid requested by the front-end
func (d SupplementalData) GroupUUID() string {
	return d.firstString(KeyGroupUUIDInput, KeyGroupUUID)
}

// GroupName returns the target group name requested by the front-end
func (d SupplementalData) GroupName() string {
	return d.firstString(KeyGroupNameInput, KeyGroupName, "groupName")
}

// String returns the value under key when it is a string
func (d SupplementalData) String(key string) string {
	s, _ := d[key].(string)
	return s
}

func (d SupplementalData) firstString(keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(d.String(k)); s != "" {
			return s
		}
	}
	return ""
}

// With returns a copy holding key=value; the receiver is left untouched.
func (d SupplementalData) With(key string, value any) SupplementalData {
	out := make(SupplementalData, len(d)+1)
	maps.Copy(out, d)
	out[key] = value
	return out
}

// Merge returns a copy with every key of other applied on top of d
func (d SupplementalData) Merge(other SupplementalData) SupplementalData {
	out := make(SupplementalData, len(d)+len(other))
	maps.Copy(out, d)
	maps.Copy(out, other)
	return out
}

// JSON encodes the object for the datatypes.JSON column
func (d SupplementalData) JSON() (datatypes.JSON, error) {
	if d == nil {
		d = SupplementalData{}
	}
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, fmt.Errorf("encode supplemental data: %w", err)
	}
	return datatypes.JSON(b), nil
}
