package docparse

import (
	"encoding/xml"
	"errors"
	"io"
)

// WordprocessingML structures. Elements are matched by local name, which
// holds for any prefix the producer chose for the w: namespace.

type xmlDocument struct {
	Body xmlBody `xml:"body"`
}

// xmlBody preserves the interleaved order of paragraphs and tables, which
// struct-tag decoding cannot express. The final section's properties sit at
// the end of the body.
type xmlBody struct {
	children []bodyChild
	sectPr   *xmlSectPr
}

type bodyChild struct {
	para  *xmlParagraph
	table *xmlTable
}

func (b *xmlBody) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				var p xmlParagraph
				if err := d.DecodeElement(&p, &t); err != nil {
					return err
				}
				b.children = append(b.children, bodyChild{para: &p})
			case "tbl":
				var tbl xmlTable
				if err := d.DecodeElement(&tbl, &t); err != nil {
					return err
				}
				b.children = append(b.children, bodyChild{table: &tbl})
			case "sectPr":
				var sp xmlSectPr
				if err := d.DecodeElement(&sp, &t); err != nil {
					return err
				}
				b.sectPr = &sp
			default:
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

type xmlParagraph struct {
	Props *xmlParaProps `xml:"pPr"`
	Runs  []xmlRun      `xml:"r"`
}

type xmlParaProps struct {
	Style      *xmlValAttr `xml:"pStyle"`
	NumPr      *xmlNumPr   `xml:"numPr"`
	Jc         *xmlValAttr `xml:"jc"`
	Ind        *xmlInd     `xml:"ind"`
	Spacing    *xmlSpacing `xml:"spacing"`
	OutlineLvl *xmlValAttr `xml:"outlineLvl"`
	SectPr     *xmlSectPr  `xml:"sectPr"`
}

type xmlNumPr struct {
	Ilvl  *xmlValAttr `xml:"ilvl"`
	NumID *xmlValAttr `xml:"numId"`
}

// xmlInd keeps measurement attributes as strings; values like "auto" show
// up in the wild and must not fail the decode.
type xmlInd struct {
	Left      string `xml:"left,attr"`
	Right     string `xml:"right,attr"`
	FirstLine string `xml:"firstLine,attr"`
	Hanging   string `xml:"hanging,attr"`
}

type xmlSpacing struct {
	Before   string `xml:"before,attr"`
	After    string `xml:"after,attr"`
	Line     string `xml:"line,attr"`
	LineRule string `xml:"lineRule,attr"`
}

type xmlRun struct {
	Props  *xmlRunProps `xml:"rPr"`
	Texts  []xmlText    `xml:"t"`
	Breaks []xmlBreak   `xml:"br"`
}

type xmlRunProps struct {
	Bold      *xmlOnOff   `xml:"b"`
	Italic    *xmlOnOff   `xml:"i"`
	Strike    *xmlOnOff   `xml:"strike"`
	Underline *xmlValAttr `xml:"u"`
	Fonts     *xmlFonts   `xml:"rFonts"`
	Size      *xmlValAttr `xml:"sz"`
	Color     *xmlValAttr `xml:"color"`
	Highlight *xmlValAttr `xml:"highlight"`
}

type xmlFonts struct {
	ASCII string `xml:"ascii,attr"`
	HAnsi string `xml:"hAnsi,attr"`
}

type xmlText struct {
	Value string `xml:",chardata"`
}

type xmlBreak struct {
	Type string `xml:"type,attr"`
}

// xmlOnOff is a toggle property element; presence means on unless the val
// attribute turns it off.
type xmlOnOff struct {
	Val string `xml:"val,attr"`
}

type xmlValAttr struct {
	Val string `xml:"val,attr"`
}

type xmlTable struct {
	Rows []xmlTableRow `xml:"tr"`
}

type xmlTableRow struct {
	Cells []xmlTableCell `xml:"tc"`
}

type xmlTableCell struct {
	Paragraphs []xmlParagraph `xml:"p"`
}

type xmlSectPr struct {
	HeaderRefs []xmlHdrFtrRef `xml:"headerReference"`
	FooterRefs []xmlHdrFtrRef `xml:"footerReference"`
}

type xmlHdrFtrRef struct {
	Type string `xml:"type,attr"`
	ID   string `xml:"id,attr"`
}

// xmlHdrFtr is the root of a header or footer part (w:hdr / w:ftr).
type xmlHdrFtr struct {
	Paragraphs []xmlParagraph `xml:"p"`
}

// xmlRelationships is the package relationships part
// (word/_rels/document.xml.rels).
type xmlRelationships struct {
	Rels []xmlRelationship `xml:"Relationship"`
}

type xmlRelationship struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
}
