package eventemitter

import (
	"crm-graphql/internal/record"
)

// Record lifecycle actions, the second segment of an event name.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// EventName is "<objectNameSingular>.<action>".
func EventName(objectNameSingular, action string) string {
	return objectNameSingular + "." + action
}

// ObjectMetadataRef identifies the object an event is about.
type ObjectMetadataRef struct {
	NameSingular string `json:"nameSingular"`
	IsCustom     bool   `json:"isCustom"`
}

// ObjectRecordCreateEvent is emitted once per created record.
type ObjectRecordCreateEvent struct {
	WorkspaceID           string            `json:"workspaceId"`
	CreatedRecord         record.Record     `json:"createdRecord"`
	CreatedObjectMetadata ObjectMetadataRef `json:"createdObjectMetadata"`
}

// ObjectRecordUpdateEvent is emitted by single-record updates. PreviousRecord
// is nil when the record could not be read before the update.
type ObjectRecordUpdateEvent struct {
	WorkspaceID    string        `json:"workspaceId"`
	PreviousRecord record.Record `json:"previousRecord"`
	UpdatedRecord  record.Record `json:"updatedRecord"`
}

// ObjectRecordDeleteEvent is emitted once per deleted record.
type ObjectRecordDeleteEvent struct {
	WorkspaceID   string        `json:"workspaceId"`
	DeletedRecord record.Record `json:"deletedRecord"`
}
