// Package massifs provides the in-memory massif directory: loaded once at
// startup, read-only afterwards, with name search and location lookup.
package massifs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bra_notification_bot/internal/domain/massif"
	"bra_notification_bot/internal/geo"
	"bra_notification_bot/internal/textnorm"
)

// minQueryLength rejects one-character queries that would match almost everything.
const minQueryLength = 2

type entry struct {
	massif     *massif.Massif
	normalized string
}

// Directory indexes massifs by code, mountain, normalized name and geometry.
// It is immutable after Load and safe for concurrent readers.
type Directory struct {
	entries    []entry // load order
	byCode     map[int]*massif.Massif
	byMountain map[string][]*massif.Massif
	mountains  []string
}

// Load reads every massif from the repository and builds the indexes.
// An unreachable store is a startup failure.
func Load(ctx context.Context, repo massif.Repository) (*Directory, error) {
	all, err := repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load massifs: %w", err)
	}
	return New(all), nil
}

// New builds a directory from an already loaded massif list.
func New(all []*massif.Massif) *Directory {
	d := &Directory{
		entries:    make([]entry, 0, len(all)),
		byCode:     make(map[int]*massif.Massif, len(all)),
		byMountain: make(map[string][]*massif.Massif),
	}
	for _, m := range all {
		d.entries = append(d.entries, entry{massif: m, normalized: textnorm.Normalize(m.Name)})
		d.byCode[m.Code] = m
		if m.Mountain != "" {
			if _, seen := d.byMountain[m.Mountain]; !seen {
				d.mountains = append(d.mountains, m.Mountain)
			}
			d.byMountain[m.Mountain] = append(d.byMountain[m.Mountain], m)
		}
	}
	for _, list := range d.byMountain {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	sort.Strings(d.mountains)
	return d
}

// ByCode returns the massif with the given code, or nil.
func (d *Directory) ByCode(code int) *massif.Massif {
	return d.byCode[code]
}

// ByMountain returns the massifs of a mountain range sorted by name.
func (d *Directory) ByMountain(mountain string) []*massif.Massif {
	return d.byMountain[mountain]
}

// Mountains returns the known mountain labels sorted alphabetically.
func (d *Directory) Mountains() []string {
	return d.mountains
}

// All returns every massif in load order.
func (d *Directory) All() []*massif.Massif {
	out := make([]*massif.Massif, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.massif
	}
	return out
}

// SearchByName returns the exact normalized match when there is one.
// Otherwise every massif whose normalized name contains the query or is
// contained in it. Callers must handle zero, one or many results.
// The two-way containment lets short names match many queries; kept pending product review.
func (d *Directory) SearchByName(query string) []*massif.Massif {
	q := textnorm.Normalize(query)
	if len([]rune(q)) < minQueryLength {
		return nil
	}

	for _, e := range d.entries {
		if e.normalized == q {
			return []*massif.Massif{e.massif}
		}
	}

	var matches []*massif.Massif
	for _, e := range d.entries {
		if e.normalized == "" {
			continue
		}
		if strings.Contains(e.normalized, q) || strings.Contains(q, e.normalized) {
			matches = append(matches, e.massif)
		}
	}
	return matches
}

// FindByLocation returns the first massif, in load order, whose geometry contains the point.
func (d *Directory) FindByLocation(lat, lng float64) *massif.Massif {
	p := geo.Point{Lat: lat, Lng: lng}
	for _, e := range d.entries {
		if e.massif.Geometry != nil && geo.PointInGeometry(p, e.massif.Geometry) {
			return e.massif
		}
	}
	return nil
}
