package subscription

// ContentPreferences is the fully populated per-content-type vector of a
// subscription. Defaults are resolved when reading from storage, so every
// flag crossing into business logic is explicit.
type ContentPreferences struct {
	Bulletin        bool
	SnowReport      bool
	FreshSnow       bool
	Weather         bool
	Last7Days       bool
	RosePentes      bool
	MontagneRisques bool
}

// DefaultPreferences is what a subscription gets when nothing was chosen.
func DefaultPreferences() ContentPreferences {
	return ContentPreferences{Bulletin: true}
}

func (p *ContentPreferences) field(ct ContentType) *bool {
	switch ct {
	case ContentBulletin:
		return &p.Bulletin
	case ContentSnowReport:
		return &p.SnowReport
	case ContentFreshSnow:
		return &p.FreshSnow
	case ContentWeather:
		return &p.Weather
	case ContentLast7Days:
		return &p.Last7Days
	case ContentRosePentes:
		return &p.RosePentes
	case ContentMontagneRisques:
		return &p.MontagneRisques
	}
	return nil
}

func (p ContentPreferences) Has(ct ContentType) bool {
	f := p.field(ct)
	return f != nil && *f
}

func (p *ContentPreferences) Set(ct ContentType, enabled bool) {
	if f := p.field(ct); f != nil {
		*f = enabled
	}
}

func (p *ContentPreferences) Toggle(ct ContentType) {
	p.Set(ct, !p.Has(ct))
}

// Enabled returns enabled content types in display order.
func (p ContentPreferences) Enabled() []ContentType {
	var out []ContentType
	for _, ct := range AllContentTypes {
		if p.Has(ct) {
			out = append(out, ct)
		}
	}
	return out
}

// Images returns the enabled auxiliary (image) content types.
func (p ContentPreferences) Images() []ContentType {
	var out []ContentType
	for _, ct := range p.Enabled() {
		if ct != ContentBulletin {
			out = append(out, ct)
		}
	}
	return out
}

// IsEmpty reports whether nothing at all is enabled.
func (p ContentPreferences) IsEmpty() bool {
	return len(p.Enabled()) == 0
}
