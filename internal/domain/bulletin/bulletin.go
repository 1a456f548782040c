// internal/domain/bulletin/bulletin.go
package bulletin

import (
	"database/sql"
	"time"
)

// Bulletin is one published avalanche report (BRA) version for a massif.
// ValidFrom doubles as the version identifier: a strictly later ValidFrom for
// the same massif is a newer version. Rows are appended, never updated.
type Bulletin struct {
	ID         int64
	MassifCode int
	ValidFrom  time.Time
	ValidTo    time.Time
	RiskLevel  sql.NullInt32 // 0-5 when published
	Filename   string
	PublicURL  string
	CreatedAt  time.Time
}

// Metadata is what the upstream API reports about the current bulletin of a massif.
type Metadata struct {
	MassifCode int
	ValidFrom  time.Time
	ValidTo    time.Time
	RiskLevel  sql.NullInt32
}

// Version returns the metadata identifying this bulletin version.
func (b *Bulletin) Version() Metadata {
	return Metadata{
		MassifCode: b.MassifCode,
		ValidFrom:  b.ValidFrom,
		ValidTo:    b.ValidTo,
		RiskLevel:  b.RiskLevel,
	}
}
