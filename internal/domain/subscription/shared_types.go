// internal/domain/subscription/shared_types.go
package subscription

// Platform is the chat platform a subscription is delivered on.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
)

// ContentType is one of the data products a subscriber can receive.
type ContentType string

const (
	ContentBulletin        ContentType = "bulletin"
	ContentSnowReport      ContentType = "snow_report"
	ContentFreshSnow       ContentType = "fresh_snow"
	ContentWeather         ContentType = "weather"
	ContentLast7Days       ContentType = "last_7_days"
	ContentRosePentes      ContentType = "rose_pentes"
	ContentMontagneRisques ContentType = "montagne_risques"
)

// AllContentTypes lists content types in display order.
var AllContentTypes = []ContentType{
	ContentBulletin,
	ContentSnowReport,
	ContentFreshSnow,
	ContentWeather,
	ContentLast7Days,
	ContentRosePentes,
	ContentMontagneRisques,
}

// ParseContentType validates a content type key.
func ParseContentType(s string) (ContentType, bool) {
	for _, ct := range AllContentTypes {
		if string(ct) == s {
			return ct, true
		}
	}
	return "", false
}

// Label is the French display name shown to subscribers.
func (c ContentType) Label() string {
	switch c {
	case ContentBulletin:
		return "Bulletin BRA (PDF)"
	case ContentSnowReport:
		return "Enneigement"
	case ContentFreshSnow:
		return "Neige fraîche"
	case ContentWeather:
		return "Météo"
	case ContentLast7Days:
		return "7 derniers jours"
	case ContentRosePentes:
		return "Rose des pentes"
	case ContentMontagneRisques:
		return "Carte des risques"
	default:
		return string(c)
	}
}
