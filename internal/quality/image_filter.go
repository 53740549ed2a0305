// Package quality holds the cheap content checks applied before an item is
// sent to a recognizer. Items that fail are skipped silently: nothing about
// them will change on retry.
package quality

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"
)

const (
	ReasonTooSmall      = "too_small"
	ReasonUndecodable   = "undecodable"
	ReasonLowResolution = "low_resolution"
)

type Config struct {
	// MinBytes is the smallest content size worth submitting.
	MinBytes int
	// MinDimension is exclusive: both sides must be strictly larger.
	MinDimension int
}

type Verdict struct {
	Accepted bool
	Width    int
	Height   int
	Reason   string
}

type Filter struct {
	minBytes     int
	minDimension int
}

func NewFilter(config Config) *Filter {
	if config.MinBytes <= 0 {
		config.MinBytes = 10 * 1024
	}
	if config.MinDimension <= 0 {
		config.MinDimension = 50
	}
	return &Filter{minBytes: config.MinBytes, minDimension: config.MinDimension}
}

// Check evaluates content against the size and resolution floors. Known
// dimensions are trusted; missing ones are read from the image header.
func (f *Filter) Check(content []byte, width, height int) Verdict {
	if len(content) < f.minBytes {
		return Verdict{Reason: ReasonTooSmall}
	}

	if width <= 0 || height <= 0 {
		config, _, err := image.DecodeConfig(bytes.NewReader(content))
		if err != nil {
			return Verdict{Reason: ReasonUndecodable}
		}
		width, height = config.Width, config.Height
	}

	if width <= f.minDimension || height <= f.minDimension {
		return Verdict{Width: width, Height: height, Reason: ReasonLowResolution}
	}
	return Verdict{Accepted: true, Width: width, Height: height}
}

// ContentType maps a file extension to a MIME type for upload payloads.
func ContentType(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		return "application/octet-stream"
	}
	if ext == "jpg" {
		ext = "jpeg"
	}
	if value := mime.TypeByExtension("." + ext); value != "" {
		return value
	}
	return "image/" + ext
}
