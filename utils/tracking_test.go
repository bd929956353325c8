package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testBaseURL = "https://app.example.com"

func TestGenerateTrackingPixelURL(t *testing.T) {
	url := GenerateTrackingPixelURL(testBaseURL, "tok-123")
	assert.Equal(t, "https://app.example.com/track/open/tok-123", url)
}

func TestGenerateClickTrackURLEscapesDestination(t *testing.T) {
	url := GenerateClickTrackURL(testBaseURL, "tok-123", "https://dest.example.com/page?a=1&b=2")
	assert.Equal(t, "https://app.example.com/track/click/tok-123?to=https%3A%2F%2Fdest.example.com%2Fpage%3Fa%3D1%26b%3D2", url)
}

func TestInjectTrackingAppendsPixel(t *testing.T) {
	body := InjectTracking("<p>Hello</p>", testBaseURL, "tok-1")
	assert.True(t, strings.HasPrefix(body, "<p>Hello</p>"))
	assert.Contains(t, body, `src="https://app.example.com/track/open/tok-1"`)
	assert.Contains(t, body, `width="1" height="1"`)
}

func TestInjectTrackingWrapsLinks(t *testing.T) {
	body := InjectTracking(`<a href="https://dest.example.com">go</a>`, testBaseURL, "tok-1")
	assert.Contains(t, body, `href="https://app.example.com/track/click/tok-1?to=https%3A%2F%2Fdest.example.com"`)
	assert.NotContains(t, body, `href="https://dest.example.com"`)
}

func TestInjectTrackingWrapsEveryLink(t *testing.T) {
	html := `<a href="https://one.example.com">1</a> text <a href="https://two.example.com">2</a>`
	body := InjectTracking(html, testBaseURL, "tok-1")
	assert.Equal(t, 2, strings.Count(body, "/track/click/tok-1?to="))
}

func TestTransparentPixelIsPNG(t *testing.T) {
	pixel := TransparentPixel()
	assert.True(t, bytes.HasPrefix(pixel, []byte{0x89, 'P', 'N', 'G'}))
	assert.True(t, bytes.HasSuffix(pixel, []byte("IEND\xae\x42\x60\x82")))
}
