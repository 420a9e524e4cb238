/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package adtag resolves third-party ad tags to concrete media URLs.
package adtag

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/podolabs/signaged/internal/telemetry"
	"github.com/rs/zerolog"
)

// maxAttempts caps resolution at 3 total attempts, fired back to back.
const maxAttempts = 3

const wantMediaType = "video/mp4"

// Resolution is the typed outcome of a tag resolution. Exhaustion is not
// an error: callers fall back to the original creative.
type Resolution struct {
	Success   bool
	VideoURL  string
	ReportURL string
}

// Resolver fetches and parses ad tag responses.
type Resolver struct {
	client *http.Client
	logger zerolog.Logger
}

// New creates a resolver with a bounded per-request timeout.
func New(timeout time.Duration, logger zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "adtag").Logger(),
	}
}

// Resolve fetches tagURL and extracts the media and impression descriptors.
// A response without a media descriptor, or with a declared content type
// other than video/mp4, consumes one attempt; after three attempts the
// resolution is returned unsuccessful.
func (r *Resolver) Resolve(ctx context.Context, tagURL string) (Resolution, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resolution, retry, err := r.attempt(ctx, tagURL)
		if err != nil {
			if ctx.Err() != nil {
				return Resolution{}, ctx.Err()
			}
			r.logger.Warn().Err(err).Str("tag_url", tagURL).Int("attempt", attempt+1).Msg("tag fetch failed")
			continue
		}
		if !retry {
			telemetry.ResolveAttemptsTotal.WithLabelValues("success").Inc()
			return resolution, nil
		}
		r.logger.Debug().Str("tag_url", tagURL).Int("attempt", attempt+1).Msg("tag response had no usable media")
	}

	telemetry.ResolveAttemptsTotal.WithLabelValues("exhausted").Inc()
	return Resolution{Success: false}, nil
}

func (r *Resolver) attempt(ctx context.Context, tagURL string) (Resolution, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tagURL, nil)
	if err != nil {
		return Resolution{}, false, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Resolution{}, false, err
	}
	defer resp.Body.Close()

	media, report, err := parseDescriptors(resp.Body)
	if err != nil {
		return Resolution{}, false, err
	}

	if media == nil || media.Type != wantMediaType {
		return Resolution{}, true, nil
	}

	resolution := Resolution{
		Success:  true,
		VideoURL: strings.TrimSpace(media.URL),
	}
	if report != nil {
		resolution.ReportURL = strings.TrimSpace(report.URL)
	}
	return resolution, false, nil
}

type descriptor struct {
	Type string
	URL  string
}

// parseDescriptors scans the tag response for the first MediaFile and
// Impression elements. The response nests them differently per vendor, so
// the scan is schema-light: element names only.
func parseDescriptors(body io.Reader) (media, report *descriptor, err error) {
	decoder := xml.NewDecoder(body)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "MediaFile":
			if media != nil {
				continue
			}
			media = &descriptor{}
			for _, attr := range start.Attr {
				if attr.Name.Local == "type" {
					media.Type = attr.Value
				}
			}
			var content string
			if err := decoder.DecodeElement(&content, &start); err != nil {
				return nil, nil, err
			}
			media.URL = content
		case "Impression":
			if report != nil {
				continue
			}
			var content string
			if err := decoder.DecodeElement(&content, &start); err != nil {
				return nil, nil, err
			}
			report = &descriptor{URL: content}
		}
	}
	return media, report, nil
}
