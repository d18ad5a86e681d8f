package excel

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// XML namespaces used by SpreadsheetML drawing parts
const (
	nsXDR  = "http://schemas.openxmlformats.org/drawingml/2006/spreadsheetDrawing"
	nsA    = "http://schemas.openxmlformats.org/drawingml/2006/main"
	nsR    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	nsRels = "http://schemas.openxmlformats.org/package/2006/relationships"
)

type xlsxRelationships struct {
	XMLName      xml.Name `xml:"Relationships"`
	Relationship []struct {
		ID     string `xml:"Id,attr"`
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"http://schemas.openxmlformats.org/package/2006/relationships Relationship"`
}

type xlsxFrom struct {
	Row *string `xml:"http://schemas.openxmlformats.org/drawingml/2006/spreadsheetDrawing row"`
}

// drawingAnchor is one oneCellAnchor or twoCellAnchor reduced to the two
// things the import needs: the anchor row and the first picture reference.
type drawingAnchor struct {
	Row     *int // raw 0-based row, nil when the anchor has none
	Embed   string
	HasBlip bool
}

// parseMediaRelationships maps relationship ids to media filenames.
// Only targets pointing into the media folder are kept.
func parseMediaRelationships(data []byte) (map[string]string, error) {
	var rels xlsxRelationships
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&rels); err != nil {
		return nil, err
	}

	relMap := make(map[string]string)
	for _, rel := range rels.Relationship {
		if rel.Target == "" || !strings.Contains(rel.Target, "media") {
			continue
		}
		relMap[rel.ID] = rel.Target[strings.LastIndex(rel.Target, "/")+1:]
	}
	return relMap, nil
}

// parseDrawingAnchors returns every one-cell anchor followed by every
// two-cell anchor found anywhere in the drawing part.
func parseDrawingAnchors(data []byte) ([]drawingAnchor, error) {
	var oneCell, twoCell []drawingAnchor

	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		se, ok := token.(xml.StartElement)
		if !ok || se.Name.Space != nsXDR {
			continue
		}
		switch se.Name.Local {
		case "oneCellAnchor":
			anchor, err := parseAnchor(decoder)
			if err != nil {
				return nil, err
			}
			oneCell = append(oneCell, anchor)
		case "twoCellAnchor":
			anchor, err := parseAnchor(decoder)
			if err != nil {
				return nil, err
			}
			twoCell = append(twoCell, anchor)
		}
	}

	return append(oneCell, twoCell...), nil
}

// parseAnchor consumes the anchor element whose start tag was just read. A
// direct <xdr:from> child wins over one nested deeper; the first <a:blip> at
// any depth is the picture.
func parseAnchor(decoder *xml.Decoder) (drawingAnchor, error) {
	var anchor drawingAnchor
	haveFrom, directFrom := false, false
	depth := 1

	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return anchor, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			depth++
			switch {
			case t.Name.Space == nsXDR && t.Name.Local == "from":
				direct := depth == 2
				var from xlsxFrom
				if err := decoder.DecodeElement(&from, &t); err != nil {
					return anchor, err
				}
				depth--
				if directFrom || (haveFrom && !direct) {
					continue
				}
				haveFrom, directFrom = true, direct
				anchor.Row = nil
				if from.Row != nil {
					row, err := strconv.Atoi(strings.TrimSpace(*from.Row))
					if err != nil {
						return anchor, fmt.Errorf("invalid anchor row %q: %w", *from.Row, err)
					}
					anchor.Row = &row
				}
			case t.Name.Space == nsA && t.Name.Local == "blip" && !anchor.HasBlip:
				anchor.HasBlip = true
				for _, attr := range t.Attr {
					if attr.Name.Space == nsR && attr.Name.Local == "embed" {
						anchor.Embed = attr.Value
					}
				}
			}
		case xml.EndElement:
			depth--
		}
	}

	return anchor, nil
}
