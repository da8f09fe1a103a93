package registry

import "time"

// ChangeType distinguishes first writes from updates.
type ChangeType string

const (
	ChangeNew    ChangeType = "new"
	ChangeUpdate ChangeType = "update"
)

// FieldChange is an old/new pair for one changed field.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// ChangeEntry is one append-only change-log record. It is the sole interface
// downstream consumers may depend on; they must not read registration
// provenance directly.
type ChangeEntry struct {
	ID           int64                 `json:"id"`
	EntityType   string                `json:"entity_type"`
	EntityID     int64                 `json:"entity_id"`
	ChangeType   ChangeType            `json:"change_type"`
	Changed      map[Field]FieldChange `json:"changed_fields"`
	Before       map[Field]string      `json:"before"`
	After        map[Field]string      `json:"after"`
	ContractMeta map[string]any        `json:"_contract_meta,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}
