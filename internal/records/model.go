package records

// Entry status values. The lifecycle is draft -> committed, one way.
const (
	StatusDraft     = "draft"
	StatusCommitted = "committed"
)

// Entry models a persisted patient entry. Content fields are immutable once
// the entry is committed; only the commit transition mutates a row.
type Entry struct {
	RecordHash    string  `gorm:"column:record_hash;primaryKey;size:64;not null"`
	OwnerAddress  string  `gorm:"column:owner_address;size:64;not null;index:idx_records_owner_created,priority:1"`
	CreatedAt     string  `gorm:"column:created_at;size:40;not null;index:idx_records_owner_created,priority:2"`
	RawText       string  `gorm:"column:raw_text;type:text;not null"`
	AIJSON        *string `gorm:"column:ai_json;type:text"`
	CanonicalJSON string  `gorm:"column:canonical_json;type:text;not null"`
	Status        string  `gorm:"column:status;size:16;not null;default:'draft'"`
	CommitTxSig   *string `gorm:"column:commit_tx_sig;size:128"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "records"
}
