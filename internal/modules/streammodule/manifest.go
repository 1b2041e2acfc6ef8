package streammodule

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

// Rendition is one entry of a streaming manifest, in manifest order. Index
// is the position in the manifest and is the value used for selection; the
// display ordering of QualityVariants never changes it.
type Rendition struct {
	Index        int
	Width        int
	Height       int
	BandwidthBps int
	URI          string
}

// Manifest is the parsed result of a master manifest fetch, together with
// the transfer measurements taken while fetching it.
type Manifest struct {
	Renditions []Rendition

	// FetchLatency is the time to first byte of the manifest request
	FetchLatency time.Duration

	// ThroughputBps is the measured transfer rate of the manifest body
	ThroughputBps float64
}

// ManifestLoader fetches and parses streaming manifests. The segmented-http
// and dynamic-adaptive adapters each use the method for their own format.
type ManifestLoader interface {
	LoadMaster(ctx context.Context, locator string) (*Manifest, error)
	LoadMPD(ctx context.Context, locator string) (*Manifest, error)
}

// httpManifestLoader is the default loader backed by net/http
type httpManifestLoader struct {
	client *http.Client
}

// NewHTTPManifestLoader creates the default manifest loader
func NewHTTPManifestLoader(client *http.Client) ManifestLoader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpManifestLoader{client: client}
}

func (l *httpManifestLoader) fetch(ctx context.Context, locator string) ([]byte, time.Duration, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return nil, latency, 0, fmt.Errorf("manifest fetch returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, latency, 0, err
	}
	elapsed := time.Since(start).Seconds()
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(len(body)*8) / elapsed
	}
	return body, latency, throughput, nil
}

// LoadMaster fetches a segmented-http master playlist and enumerates its
// variant streams
func (l *httpManifestLoader) LoadMaster(ctx context.Context, locator string) (*Manifest, error) {
	body, latency, throughput, err := l.fetch(ctx, locator)
	if err != nil {
		return nil, err
	}

	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(string(body)), true)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}

	manifest := &Manifest{FetchLatency: latency, ThroughputBps: throughput}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok || listType != m3u8.MASTER {
		// A media playlist has a single implicit rendition
		manifest.Renditions = []Rendition{{Index: 0, URI: locator}}
		return manifest, nil
	}

	for i, v := range master.Variants {
		if v == nil {
			continue
		}
		r := Rendition{
			Index:        i,
			BandwidthBps: int(v.Bandwidth),
			URI:          resolveManifestURL(locator, v.URI),
		}
		if parts := strings.Split(v.Resolution, "x"); len(parts) == 2 {
			r.Width, _ = strconv.Atoi(parts[0])
			r.Height, _ = strconv.Atoi(parts[1])
		}
		manifest.Renditions = append(manifest.Renditions, r)
	}
	return manifest, nil
}

// mpd mirrors the subset of a dynamic-adaptive manifest needed to enumerate
// video representations
type mpd struct {
	XMLName xml.Name `xml:"MPD"`
	Periods []struct {
		AdaptationSets []struct {
			ContentType     string `xml:"contentType,attr"`
			MimeType        string `xml:"mimeType,attr"`
			Representations []struct {
				ID        string `xml:"id,attr"`
				Width     int    `xml:"width,attr"`
				Height    int    `xml:"height,attr"`
				Bandwidth int    `xml:"bandwidth,attr"`
				BaseURL   string `xml:"BaseURL"`
			} `xml:"Representation"`
		} `xml:"AdaptationSet"`
	} `xml:"Period"`
}

// LoadMPD fetches a dynamic-adaptive manifest and enumerates its video
// representations
func (l *httpManifestLoader) LoadMPD(ctx context.Context, locator string) (*Manifest, error) {
	body, latency, throughput, err := l.fetch(ctx, locator)
	if err != nil {
		return nil, err
	}

	var doc mpd
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	manifest := &Manifest{FetchLatency: latency, ThroughputBps: throughput}
	index := 0
	for _, period := range doc.Periods {
		for _, set := range period.AdaptationSets {
			if set.ContentType != "" && set.ContentType != "video" {
				continue
			}
			if set.ContentType == "" && !strings.HasPrefix(set.MimeType, "video/") {
				continue
			}
			for _, rep := range set.Representations {
				manifest.Renditions = append(manifest.Renditions, Rendition{
					Index:        index,
					Width:        rep.Width,
					Height:       rep.Height,
					BandwidthBps: rep.Bandwidth,
					URI:          resolveManifestURL(locator, rep.BaseURL),
				})
				index++
			}
		}
	}
	return manifest, nil
}

// resolveManifestURL resolves a possibly relative manifest URI against the
// master locator, preserving the base's query parameters for relative URIs
func resolveManifestURL(base, ref string) string {
	if ref == "" {
		return base
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	resolved := baseURL.ResolveReference(refURL)
	if refURL.RawQuery == "" && !refURL.IsAbs() {
		resolved.RawQuery = baseURL.RawQuery
	}
	return resolved.String()
}

// renditionVariants maps manifest renditions to catalog variants, labeled
// "{height}p" and sorted descending by bandwidth for display. The manifest
// index mapping used for selection is left untouched.
func renditionVariants(renditions []Rendition) []QualityVariant {
	variants := make([]QualityVariant, 0, len(renditions))
	seen := make(map[string]bool)
	for _, r := range renditions {
		label := fmt.Sprintf("%dp", r.Height)
		if r.Height == 0 {
			label = fmt.Sprintf("%dk", r.BandwidthBps/1000)
		}
		if seen[label] {
			label = fmt.Sprintf("%s@%dk", label, r.BandwidthBps/1000)
		}
		if seen[label] {
			continue
		}
		seen[label] = true
		variants = append(variants, QualityVariant{
			Label:        label,
			Width:        r.Width,
			Height:       r.Height,
			BandwidthBps: r.BandwidthBps,
			Locator:      r.URI,
		})
	}
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].BandwidthBps > variants[j].BandwidthBps
	})
	return variants
}
