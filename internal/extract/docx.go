package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// DefaultMaxDOCXBytes caps the decompressed size of word/document.xml.
const DefaultMaxDOCXBytes int64 = 100 << 20

// DOCX extracts paragraph text from the main document part of a
// WordprocessingML package. Paragraphs are separated by blank lines.
type DOCX struct {
	// MaxXMLBytes caps the decompressed document part. Zero means DefaultMaxDOCXBytes.
	MaxXMLBytes int64
}

func (d DOCX) Extract(ctx context.Context, r io.ReaderAt, size int64) (string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("open docx: missing " + docxBody)
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", docxBody, err)
	}
	defer rc.Close()

	limit := d.MaxXMLBytes
	if limit <= 0 {
		limit = DefaultMaxDOCXBytes
	}
	lr := &io.LimitedReader{R: rc, N: limit + 1}
	text, err := paragraphs(ctx, xml.NewDecoder(lr))
	if lr.N <= 0 {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrContentTooLarge, docxBody, limit)
	}
	return text, err
}

func paragraphs(ctx context.Context, dec *xml.Decoder) (string, error) {
	var (
		b      strings.Builder
		para   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", docxBody, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if err := ctx.Err(); err != nil {
					return "", err
				}
				if b.Len() > 0 {
					b.WriteString("\n\n")
				}
				b.WriteString(para.String())
				para.Reset()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	if para.Len() > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(para.String())
	}
	return b.String(), nil
}
