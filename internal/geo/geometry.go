// Package geo holds the GeoJSON polygon types used for massif boundaries and
// the point-in-polygon test used to resolve a shared location to a massif.
package geo

import (
	"encoding/json"
	"fmt"
)

const (
	TypePolygon      = "Polygon"
	TypeMultiPolygon = "MultiPolygon"
)

// Point is a WGS84 coordinate. GeoJSON positions are [lng, lat].
type Point struct {
	Lat float64
	Lng float64
}

// Ring is a closed sequence of [lng, lat] positions.
type Ring [][2]float64

// Polygon is an outer ring followed by zero or more hole rings.
type Polygon []Ring

// Geometry is a decoded GeoJSON Polygon or MultiPolygon.
// A Polygon geometry is stored as a single-element Polygons slice.
type Geometry struct {
	Type     string
	Polygons []Polygon
}

type rawGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ParseGeometry decodes a GeoJSON geometry object.
func ParseGeometry(data []byte) (*Geometry, error) {
	g := &Geometry{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	var raw rawGeometry
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode geometry: %w", err)
	}

	switch raw.Type {
	case TypePolygon:
		var poly Polygon
		if err := json.Unmarshal(raw.Coordinates, &poly); err != nil {
			return fmt.Errorf("decode polygon coordinates: %w", err)
		}
		g.Type = TypePolygon
		g.Polygons = []Polygon{poly}
	case TypeMultiPolygon:
		var polys []Polygon
		if err := json.Unmarshal(raw.Coordinates, &polys); err != nil {
			return fmt.Errorf("decode multipolygon coordinates: %w", err)
		}
		g.Type = TypeMultiPolygon
		g.Polygons = polys
	default:
		return fmt.Errorf("unsupported geometry type %q", raw.Type)
	}
	return nil
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Type == TypePolygon && len(g.Polygons) == 1 {
		return json.Marshal(struct {
			Type        string  `json:"type"`
			Coordinates Polygon `json:"coordinates"`
		}{g.Type, g.Polygons[0]})
	}
	return json.Marshal(struct {
		Type        string    `json:"type"`
		Coordinates []Polygon `json:"coordinates"`
	}{TypeMultiPolygon, g.Polygons})
}

// PointInGeometry reports whether p lies inside any polygon of g.
// Holes are excluded regions. Points exactly on an edge or vertex follow the
// half-open crossing rule and are not normalised further.
func PointInGeometry(p Point, g *Geometry) bool {
	if g == nil {
		return false
	}
	for _, poly := range g.Polygons {
		if pointInPolygon(p, poly) {
			return true
		}
	}
	return false
}

func pointInPolygon(p Point, poly Polygon) bool {
	if len(poly) == 0 || !pointInRing(p, poly[0]) {
		return false
	}
	for _, hole := range poly[1:] {
		if pointInRing(p, hole) {
			return false
		}
	}
	return true
}

// pointInRing casts a ray towards +x and counts edge crossings.
func pointInRing(p Point, ring Ring) bool {
	x, y := p.Lng, p.Lat
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
