package quality

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strings"
	"testing"
)

func noisyPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	random := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(random.Intn(256)),
				G: uint8(random.Intn(256)),
				B: uint8(random.Intn(256)),
				A: 255,
			})
		}
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buffer.Bytes()
}

func TestFilterRejectsSmallContent(t *testing.T) {
	filter := NewFilter(Config{})
	verdict := filter.Check(make([]byte, 1024), 800, 600)
	if verdict.Accepted || verdict.Reason != ReasonTooSmall {
		t.Fatalf("expected too_small rejection, got %+v", verdict)
	}
}

func TestFilterReadsDimensionsFromHeader(t *testing.T) {
	filter := NewFilter(Config{})

	large := noisyPNG(t, 120, 90)
	verdict := filter.Check(large, 0, 0)
	if !verdict.Accepted {
		t.Fatalf("expected 120x90 image to be accepted, got %+v", verdict)
	}
	if verdict.Width != 120 || verdict.Height != 90 {
		t.Fatalf("expected decoded dimensions 120x90, got %dx%d", verdict.Width, verdict.Height)
	}

	narrow := noisyPNG(t, 300, 50)
	verdict = filter.Check(narrow, 0, 0)
	if verdict.Accepted || verdict.Reason != ReasonLowResolution {
		t.Fatalf("expected low_resolution for 300x50, got %+v", verdict)
	}
}

func TestFilterTrustsKnownDimensions(t *testing.T) {
	filter := NewFilter(Config{MinBytes: 16})
	content := []byte(strings.Repeat("x", 64))

	if verdict := filter.Check(content, 640, 480); !verdict.Accepted {
		t.Fatalf("expected known dimensions to be trusted, got %+v", verdict)
	}
	if verdict := filter.Check(content, 0, 480); verdict.Reason != ReasonUndecodable {
		t.Fatalf("expected undecodable when header is unreadable, got %+v", verdict)
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("JPG"); got != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", got)
	}
	if got := ContentType(""); got != "application/octet-stream" {
		t.Fatalf("expected octet-stream fallback, got %q", got)
	}
}
