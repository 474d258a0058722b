package avatar

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"math"
	"strings"
)

// ghostPath is the outline of the default ghost avatar, filled with a
// per-username color by FallbackSVG.
const ghostPath = "M27 54.06C33.48 54.06 39.48 51.78 44.16 47.94C43.32 46.68 42.36 45.78 41.34 44.94C38.22 42.48 " +
	"33.78 41.58 30.72 41.04L30.6 39.84C35.28 37.08 36.42 34.14 38.28 27.96L38.34 27.54C38.34 27.54 " +
	"39.96 26.88 40.2 23.88C40.56 19.8 38.88 21 38.88 20.7C39.06 18.6 39 15.84 38.4 13.8C37.14 9.42 " +
	"32.88 5.94 27 5.94C21.12 5.94 16.86 9.36 15.6 13.8C15 15.84 14.94 18.6 15.12 20.76C15.12 21.06 " +
	"13.5 19.86 13.8 23.94C14.04 26.94 15.66 27.6 15.66 27.6L15.72 28.02C17.58 34.2 18.72 37.14 " +
	"23.4 39.9L23.28 41.1C20.28 41.64 15.78 42.54 12.66 45C11.64 45.84 10.68 46.74 9.84 48C14.52 " +
	"51.78 20.52 54.06 27 54.06Z"

// FallbackSVG synthesises the ghost avatar with a deterministic fill color
// derived from the username.
func FallbackSVG(username string) string {
	return fmt.Sprintf(
		`<svg viewBox="0 0 %d %d" xmlns="http://www.w3.org/2000/svg">`+
			`<path d="%s" fill="%s" stroke="black" stroke-opacity="0.2" stroke-width="0.9"/></svg>`,
		avatarSize, avatarSize, ghostPath, fallbackColor(username))
}

// fallbackColor hashes the username into a hue and renders it at fixed
// lightness and saturation, so distinct users tend toward distinct colors
// while the same user always gets the same one.
func fallbackColor(username string) string {
	digest := sha256.Sum256([]byte(username))
	hue := float64(binary.LittleEndian.Uint16(digest[:2]) % 360)

	r, g, b := hlsToRGB(hue/360, 0.6, 0.3)
	return fmt.Sprintf("#%02x%02x%02x", int(r*255), int(g*255), int(b*255))
}

// hlsToRGB converts hue/lightness/saturation (all in [0,1]) to RGB.
func hlsToRGB(h, l, s float64) (r, g, b float64) {
	if s == 0 {
		return l, l, l
	}

	var m2 float64
	if l <= 0.5 {
		m2 = l * (1 + s)
	} else {
		m2 = l + s - l*s
	}
	m1 := 2*l - m2

	return hueComponent(m1, m2, h+1.0/3), hueComponent(m1, m2, h), hueComponent(m1, m2, h-1.0/3)
}

func hueComponent(m1, m2, hue float64) float64 {
	hue = math.Mod(hue, 1.0)
	if hue < 0 {
		hue++
	}
	switch {
	case hue < 1.0/6:
		return m1 + (m2-m1)*hue*6
	case hue < 0.5:
		return m2
	case hue < 2.0/3:
		return m1 + (m2-m1)*(2.0/3-hue)*6
	}
	return m1
}

// imageHref walks a Snapcode SVG and returns the href of its first <image>
// element, in either the xlink or plain form.
func imageHref(svg []byte) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(string(svg)))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("no <image> element in snapcode SVG")
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "image" {
			continue
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "href" && attr.Value != "" {
				return attr.Value, nil
			}
		}
		return "", fmt.Errorf("no href attribute on <image> element")
	}
}
