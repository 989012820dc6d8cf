package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Painter rasterizes layers onto images.
type Painter struct {
	mu      sync.Mutex
	face    font.Face
	quality int
}

// NewPainter loads the label font. quality is the JPEG quality used by Annotate.
func NewPainter(quality int) (*Painter, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing label font: %w", err)
	}
	return &Painter{
		face:    truetype.NewFace(f, &truetype.Options{Size: FontSize}),
		quality: quality,
	}, nil
}

// Paint returns a copy of img with the layer drawn on top.
func (p *Painter) Paint(img image.Image, layer Layer) image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()

	dc := gg.NewContextForImage(img)
	dc.SetFontFace(p.face)
	white := color.White

	for _, b := range layer.Boxes {
		c := parseHex(b.Color)

		dc.SetColor(c)
		dc.SetLineWidth(StrokeWidth)
		dc.DrawRectangle(b.X, b.Y, b.Width, b.Height)
		dc.Stroke()

		w, _ := dc.MeasureString(b.Label)
		dc.DrawRectangle(b.X, b.Y-TagHeight, w+2*TagPadding, TagHeight)
		dc.Fill()

		dc.SetColor(white)
		dc.DrawString(b.Label, b.X+TagPadding, b.Y-8)
	}
	return dc.Image()
}

// Annotate decodes an encoded frame, paints the layer and re-encodes it as JPEG.
func (p *Painter) Annotate(data []byte, layer Layer) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, p.Paint(img, layer), &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encoding annotated frame: %w", err)
	}
	return buf.Bytes(), nil
}

// parseHex reads "#rrggbb"; anything else falls back to the default blue.
func parseHex(s string) color.Color {
	var r, g, b uint8
	if len(s) == 7 && s[0] == '#' {
		if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &r, &g, &b); err == nil {
			return color.RGBA{R: r, G: g, B: b, A: 0xff}
		}
	}
	return color.RGBA{R: 0x0f, G: 0x62, B: 0xfe, A: 0xff}
}
