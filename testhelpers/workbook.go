package testhelpers

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Anchor describes one picture anchor inside a drawing part.
// Embed is the relationship id of the picture; empty means no blip.
type Anchor struct {
	Kind  string // "oneCellAnchor" or "twoCellAnchor"
	Row   int    // raw 0-based row written into <xdr:from>
	Embed string
	NoRow bool
}

// Drawing is a drawing part and its relationship part.
// Rels maps relationship ids to targets such as "../media/image1.png".
type Drawing struct {
	Name    string // e.g. "drawing1.xml"
	Anchors []Anchor
	Rels    map[string]string
	NoRels  bool
	RawXML  string // overrides the generated drawing XML when set
	RawRels string // overrides the generated relationship XML when set
}

// Workbook is a minimal zipped SpreadsheetML package for scanner tests.
type Workbook struct {
	Drawings []Drawing
	Media    map[string][]byte // base filename -> content
	Extra    map[string]string // any additional entry
}

// WriteWorkbook writes the fixture to dir/name and returns its path.
func WriteWorkbook(t *testing.T, dir, name string, wb Workbook) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(entry string, data []byte) {
		w, err := zw.Create(entry)
		if err != nil {
			t.Fatalf("Failed to create zip entry %s: %v", entry, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("Failed to write zip entry %s: %v", entry, err)
		}
	}

	write("[Content_Types].xml", []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`))
	write("xl/workbook.xml", []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheets><sheet name="Sheet1" sheetId="1"/></sheets></workbook>`))

	for _, d := range wb.Drawings {
		drawingXML := d.RawXML
		if drawingXML == "" {
			drawingXML = DrawingXML(d.Anchors)
		}
		write("xl/drawings/"+d.Name, []byte(drawingXML))

		if d.NoRels {
			continue
		}
		relsXML := d.RawRels
		if relsXML == "" {
			relsXML = RelsXML(d.Rels)
		}
		write("xl/drawings/_rels/"+d.Name+".rels", []byte(relsXML))
	}

	for name, data := range wb.Media {
		write("xl/media/"+name, data)
	}
	for name, data := range wb.Extra {
		write(name, []byte(data))
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip writer: %v", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write workbook: %v", err)
	}
	return path
}

// DrawingXML renders a spreadsheet drawing part holding the given anchors.
func DrawingXML(anchors []Anchor) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<xdr:wsDr xmlns:xdr="http://schemas.openxmlformats.org/drawingml/2006/spreadsheetDrawing" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">`)
	for i, a := range anchors {
		kind := a.Kind
		if kind == "" {
			kind = "twoCellAnchor"
		}
		fmt.Fprintf(&sb, `<xdr:%s>`, kind)
		if a.NoRow {
			sb.WriteString(`<xdr:from><xdr:col>0</xdr:col></xdr:from>`)
		} else {
			fmt.Fprintf(&sb, `<xdr:from><xdr:col>1</xdr:col><xdr:colOff>0</xdr:colOff><xdr:row>%d</xdr:row><xdr:rowOff>0</xdr:rowOff></xdr:from>`, a.Row)
		}
		if kind == "twoCellAnchor" {
			fmt.Fprintf(&sb, `<xdr:to><xdr:col>2</xdr:col><xdr:colOff>0</xdr:colOff><xdr:row>%d</xdr:row><xdr:rowOff>0</xdr:rowOff></xdr:to>`, a.Row+1)
		} else {
			sb.WriteString(`<xdr:ext cx="952500" cy="952500"/>`)
		}
		fmt.Fprintf(&sb, `<xdr:pic><xdr:nvPicPr><xdr:cNvPr id="%d" name="Picture %d"/><xdr:cNvPicPr/></xdr:nvPicPr>`, i+2, i+1)
		if a.Embed != "" {
			fmt.Fprintf(&sb, `<xdr:blipFill><a:blip r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></xdr:blipFill>`, a.Embed)
		}
		sb.WriteString(`<xdr:spPr><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></xdr:spPr></xdr:pic><xdr:clientData/>`)
		fmt.Fprintf(&sb, `</xdr:%s>`, kind)
	}
	sb.WriteString(`</xdr:wsDr>`)
	return sb.String()
}

// RelsXML renders a relationship part for the given id -> target pairs.
func RelsXML(rels map[string]string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for id, target := range rels {
		relType := "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
		if !strings.Contains(target, "media") {
			relType = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink"
		}
		fmt.Fprintf(&sb, `<Relationship Id="%s" Type="%s" Target="%s"/>`, id, relType, target)
	}
	sb.WriteString(`</Relationships>`)
	return sb.String()
}

// PNG returns a tiny valid PNG image.
func PNG(t *testing.T) []byte {
	t.Helper()
	return SolidPNG(t, color.RGBA{R: 255, A: 255})
}

// SolidPNG returns a 2x2 PNG filled with c. Different colours give different bytes.
func SolidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}
