package consent

import "time"

// Consent is the materialized latest-state row for one
// (record_hash, doctor_address) pair. Rows are superseded in place, never
// deleted: the ledger retains the full history, this table only answers
// "what is the last applied action for the pair".
type Consent struct {
	RecordHash    string    `gorm:"column:record_hash;primaryKey;size:64;not null"`
	DoctorAddress string    `gorm:"column:doctor_address;primaryKey;size:64;not null;index:idx_consents_doctor"`
	OwnerAddress  string    `gorm:"column:owner_address;size:64;not null"`
	ExpiryUnix    int64     `gorm:"column:expiry_unix;not null"`
	Revoked       bool      `gorm:"column:revoked;not null;default:false"`
	LastTxSig     string    `gorm:"column:last_tx_sig;size:128;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Consent) TableName() string {
	return "consents"
}

// Active reports whether the consent grants access at the given instant.
// The expiry comparison is strictly greater: a consent expiring exactly
// now is inactive.
func (c Consent) Active(now time.Time) bool {
	return !c.Revoked && c.ExpiryUnix > now.Unix()
}
