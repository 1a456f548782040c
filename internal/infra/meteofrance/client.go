// Package meteofrance is the client of the Météo-France avalanche bulletin API (DPBRA).
package meteofrance

import (
	"context"
	"database/sql"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"bra_notification_bot/internal/domain/bulletin"
	"bra_notification_bot/internal/domain/subscription"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Upstream image keys per auxiliary content type.
var imageKeys = map[subscription.ContentType]string{
	subscription.ContentSnowReport:      "montagne-enneigement",
	subscription.ContentFreshSnow:       "graphe-neige-fraiche",
	subscription.ContentWeather:         "apercu-meteo",
	subscription.ContentLast7Days:       "sept-derniers-jours",
	subscription.ContentRosePentes:      "rose-pentes",
	subscription.ContentMontagneRisques: "montagne-risques",
}

const maxErrorBody = 300

// Bulletin timestamps carry no zone and are French local time.
var paris = mustLoadLocation("Europe/Paris")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client implements the app metadata, document and image sources.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

func NewClient(cfg Config, logger *logrus.Entry) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.WithField("component", "meteofrance_client"),
	}
}

// braDocument is the part of the BRA XML the bot reads.
type braDocument struct {
	XMLName   xml.Name   `xml:"BULLETINS_NEIGE_AVALANCHE"`
	ValidFrom string     `xml:"DATEBULLETIN,attr"`
	ValidTo   string     `xml:"DATEVALIDITE,attr"`
	Risk      riskMarker `xml:"CARTOUCHERISQUE>RISQUE"`
}

// riskMarker holds the maximum risk; "-" or empty when not estimated.
type riskMarker struct {
	Max string `xml:"RISQUEMAXI,attr"`
}

// FetchMetadata reads the version of the current bulletin of a massif.
func (c *Client) FetchMetadata(ctx context.Context, massifCode int) (*bulletin.Metadata, error) {
	body, err := c.get(ctx, "/massif/BRA", url.Values{
		"id-massif": {strconv.Itoa(massifCode)},
		"format":    {"xml"},
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var doc braDocument
	if err := xml.NewDecoder(body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode BRA metadata for massif %d: %w", massifCode, err)
	}
	return parseMetadata(massifCode, doc)
}

func parseMetadata(massifCode int, doc braDocument) (*bulletin.Metadata, error) {
	validFrom, err := parseTimestamp(doc.ValidFrom)
	if err != nil {
		return nil, fmt.Errorf("massif %d: invalid DATEBULLETIN: %w", massifCode, err)
	}
	meta := &bulletin.Metadata{MassifCode: massifCode, ValidFrom: validFrom}
	if doc.ValidTo != "" {
		if meta.ValidTo, err = parseTimestamp(doc.ValidTo); err != nil {
			return nil, fmt.Errorf("massif %d: invalid DATEVALIDITE: %w", massifCode, err)
		}
	}
	if risk, err := strconv.Atoi(strings.TrimSpace(doc.Risk.Max)); err == nil && risk >= 0 && risk <= 5 {
		meta.RiskLevel = sql.NullInt32{Int32: int32(risk), Valid: true}
	}
	return meta, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, paris)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// OpenPDF streams the current bulletin PDF. The caller closes the reader.
func (c *Client) OpenPDF(ctx context.Context, massifCode int) (io.ReadCloser, error) {
	return c.get(ctx, "/massif/BRA", url.Values{
		"id-massif": {strconv.Itoa(massifCode)},
		"format":    {"pdf"},
	})
}

// FetchImage downloads the auxiliary image of a content type.
func (c *Client) FetchImage(ctx context.Context, massifCode int, ct subscription.ContentType) ([]byte, string, error) {
	key, ok := imageKeys[ct]
	if !ok {
		return nil, "", fmt.Errorf("no upstream image for content type %q", ct)
	}
	body, err := c.get(ctx, "/massif/image/"+key, url.Values{"id-massif": {strconv.Itoa(massifCode)}})
	if err != nil {
		return nil, "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("read %s image for massif %d: %w", key, massifCode, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty %s image for massif %d", key, massifCode)
	}
	return data, http.DetectContentType(data), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	c.logger.WithFields(logrus.Fields{
		"path":     path,
		"query":    query.Encode(),
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Upstream request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("GET %s?%s: status %d: %s", path, query.Encode(), resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp.Body, nil
}
