// Package amazoncust fetches and parses Amazon customization archives: a zip
// containing one JSON document describing a buyer's personalization choices.
package amazoncust

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Customization holds the normalized fields parsed from an archive.
type Customization struct {
	CustomText string
	Color1     string
	Color2     string
}

// Fetcher downloads and parses a customization archive by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Customization, error)
}

// Option configures the fetcher.
type Option func(*httpFetcher)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *httpFetcher) {
		f.http = hc
	}
}

// WithTimeout overrides the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *httpFetcher) {
		f.http.Timeout = d
	}
}

// WithRateLimit overrides the request rate against the customization host.
func WithRateLimit(perSec float64) Option {
	return func(f *httpFetcher) {
		f.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

type httpFetcher struct {
	http    *http.Client
	limiter *rate.Limiter
}

// NewFetcher creates a customization archive fetcher.
func NewFetcher(opts ...Option) Fetcher {
	f := &httpFetcher{
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (*Customization, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "amazoncust: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "amazoncust: create request")
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "amazoncust: fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("amazoncust: fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "amazoncust: read archive")
	}

	cust, err := ParseArchive(body)
	if err != nil {
		return nil, err
	}
	if cust.CustomText == "" && cust.Color1 == "" {
		zap.L().Warn("customization archive yielded no usable fields", zap.String("url", url))
	}
	return cust, nil
}

// ParseArchive extracts customization fields from a zip archive. The archive
// is expected to contain exactly one JSON document; macOS resource-fork
// entries ("._*") are ignored.
func ParseArchive(data []byte) (*Customization, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "amazoncust: open zip")
	}

	var jsonFiles []*zip.File
	for _, zf := range zr.File {
		name := path.Base(zf.Name)
		if strings.HasPrefix(name, "._") || !strings.HasSuffix(strings.ToLower(name), ".json") {
			continue
		}
		jsonFiles = append(jsonFiles, zf)
	}
	if len(jsonFiles) == 0 {
		return nil, eris.New("amazoncust: no JSON entry in archive")
	}
	if len(jsonFiles) > 1 {
		zap.L().Warn("multiple JSON entries in customization archive",
			zap.String("using", jsonFiles[0].Name),
			zap.Int("count", len(jsonFiles)),
		)
	}

	rc, err := jsonFiles[0].Open()
	if err != nil {
		return nil, eris.Wrapf(err, "amazoncust: open %s", jsonFiles[0].Name)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "amazoncust: read %s", jsonFiles[0].Name)
	}

	return ParseDocument(content)
}

// document mirrors the two shapes Amazon uses for customization JSON: the
// "version3.0" surfaces layout and an older nested-children layout.
type document struct {
	CustomizationInfo struct {
		Version3 struct {
			Surfaces []struct {
				Areas []area `json:"areas"`
			} `json:"surfaces"`
		} `json:"version3.0"`
	} `json:"customizationInfo"`
	CustomizationData struct {
		Children []nested `json:"children"`
	} `json:"customizationData"`
}

type area struct {
	CustomizationType string `json:"customizationType"`
	Label             string `json:"label"`
	Name              string `json:"name"`
	Text              string `json:"text"`
	OptionValue       string `json:"optionValue"`
}

type nested struct {
	Type            string `json:"type"`
	Name            string `json:"name"`
	Label           string `json:"label"`
	Text            string `json:"text"`
	InputValue      string `json:"inputValue"`
	DisplayValue    string `json:"displayValue"`
	OptionValue     string `json:"optionValue"`
	OptionSelection struct {
		Name string `json:"name"`
	} `json:"optionSelection"`
	Children []nested `json:"children"`
}

var (
	colorTag = regexp.MustCompile(`(?i)(colour|color)`)
	textTag  = regexp.MustCompile(`(?i)text`)
)

// ParseDocument extracts customization fields from the archive's JSON document.
func ParseDocument(content []byte) (*Customization, error) {
	var doc document
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, eris.Wrap(err, "amazoncust: parse JSON document")
	}

	var c Customization

	if surfaces := doc.CustomizationInfo.Version3.Surfaces; len(surfaces) > 0 {
		for _, a := range surfaces[0].Areas {
			tag := a.Label + " " + a.Name
			if c.CustomText == "" && (a.CustomizationType == "TextPrinting" || textTag.MatchString(tag)) {
				c.CustomText = a.Text
			}
			if a.CustomizationType == "Options" && colorTag.MatchString(tag) {
				c.assignColor(a.OptionValue)
			}
		}
	}

	// Older archives nest choices under customizationData.children.
	if c.CustomText == "" || (c.Color1 == "" && c.Color2 == "") {
		dive(doc.CustomizationData.Children, &c)
	}

	return &c, nil
}

func dive(nodes []nested, c *Customization) {
	for _, n := range nodes {
		tag := n.Label + " " + n.Name
		if c.CustomText == "" && n.Type == "TextCustomization" {
			if n.InputValue != "" {
				c.CustomText = n.InputValue
			} else {
				c.CustomText = n.Text
			}
		}
		if colorTag.MatchString(tag) {
			v := n.DisplayValue
			if v == "" {
				v = n.OptionValue
			}
			if v == "" {
				v = n.OptionSelection.Name
			}
			c.assignColor(v)
		}
		dive(n.Children, c)
	}
}

func (c *Customization) assignColor(v string) {
	if v == "" {
		return
	}
	if c.Color1 == "" {
		c.Color1 = v
	} else if c.Color2 == "" && v != c.Color1 {
		c.Color2 = v
	}
}
