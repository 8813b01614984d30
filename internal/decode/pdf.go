package decode

import (
	"bytes"
	"fmt"
	"image"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

// pdfcpu would otherwise install its config and fonts under the user config dir.
func init() { api.DisableConfigDir() }

// pdfPages returns one raster per page: the largest image embedded in it.
// Scanned invoices carry the page scan as a single full-page image.
// Pages with no decodable image are skipped with a warning.
func (d *Decoder) pdfPages(data []byte) ([]image.Image, []string, error) {
	count, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("read pdf: %v: %w", err, common.ErrCorruptDocument)
	}
	if count == 0 {
		return nil, nil, fmt.Errorf("pdf has no pages: %w", common.ErrCorruptDocument)
	}

	c := newPageCollector()
	if err := api.ExtractImages(bytes.NewReader(data), nil, c.digest, nil); err != nil {
		return nil, c.warns, fmt.Errorf("extract pdf images: %v: %w", err, common.ErrCorruptDocument)
	}
	pages, warns := c.ordered(count)
	if len(pages) == 0 {
		return nil, warns, fmt.Errorf("pdf has no usable pages: %w", common.ErrCorruptDocument)
	}
	return pages, warns, nil
}

// pageCollector keeps the largest decodable image of every page.
type pageCollector struct {
	pages map[int]image.Image
	warns []string
}

func newPageCollector() *pageCollector {
	return &pageCollector{pages: map[int]image.Image{}}
}

func (c *pageCollector) digest(img model.Image, _ bool, _ int) error {
	if img.Reader == nil || img.Thumb {
		return nil
	}
	decoded, _, err := image.Decode(img)
	if err != nil {
		c.warns = append(c.warns, fmt.Sprintf("page %d: unreadable %s image %s: %v", img.PageNr, img.FileType, img.Name, err))
		return nil
	}
	if cur, ok := c.pages[img.PageNr]; !ok || area(decoded) > area(cur) {
		c.pages[img.PageNr] = decoded
	}
	return nil
}

// ordered returns the rasters of pages 1..count in order.
func (c *pageCollector) ordered(count int) ([]image.Image, []string) {
	var out []image.Image
	warns := c.warns
	for n := 1; n <= count; n++ {
		img, ok := c.pages[n]
		if !ok {
			warns = append(warns, fmt.Sprintf("page %d: no raster image, skipped", n))
			continue
		}
		out = append(out, img)
	}
	return out, warns
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}
