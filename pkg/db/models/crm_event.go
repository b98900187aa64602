package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/edulink-io/crm-bridge/pkg/enums"
)

// CRMEvent is one durable outbound notification to the CRM backend. The row is
// written before any network activity and is the single source of truth for
// identity, status, and retry eligibility. The ID is minted by the dispatcher
// exactly once per logical event and is never regenerated on retry.
type CRMEvent struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	EventType         enums.EventType    `gorm:"column:event_type;not null"`
	Payload           json.RawMessage    `gorm:"column:payload;type:jsonb;not null"`
	Status            enums.EventStatus  `gorm:"column:status;not null;default:pending"`
	RetryCount        int                `gorm:"column:retry_count;not null;default:0"`
	NextRetryAt       *time.Time         `gorm:"column:next_retry_at"`
	HTTPStatus        *int               `gorm:"column:http_status"`
	LastError         *string            `gorm:"column:last_error"`
	Action            *enums.EventAction `gorm:"column:action"`
	RelatedEntityName *string            `gorm:"column:related_entity_name"`
	MoodleEventID     *int64             `gorm:"column:moodle_event_id"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps the historical table name.
func (CRMEvent) TableName() string { return "crm_events" }
