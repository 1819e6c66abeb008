package model

import "time"

// SequenceCheckpoint is the durable high-water mark of one sequence
// generator. Scope matches ExchangeLink.CredentialScope. The stored value is
// always >= every sequence number already handed out for that scope minus the
// reserve block, so a restart that resumes from value+reserve can never
// replay a number.
type SequenceCheckpoint struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Scope     string    `gorm:"size:120;uniqueIndex;not null" json:"scope"`
	Value     int64     `gorm:"not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (SequenceCheckpoint) TableName() string {
	return "sequence_checkpoints"
}
