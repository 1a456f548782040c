package massif

import "bra_notification_bot/internal/geo"

// Massif is a named mountain region, the unit of subscription and bulletin issuance.
// Code is the stable upstream identifier.
type Massif struct {
	Code     int
	Name     string
	Mountain string        // Optional grouping label, e.g. "Alpes du Nord"
	Geometry *geo.Geometry // Optional boundary, only used for location lookups
}
