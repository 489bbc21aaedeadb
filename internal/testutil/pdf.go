// Package testutil holds fixtures shared by tests across packages.
package testutil

import (
	"bytes"
	"fmt"
	"strings"
)

// BuildPDF writes a minimal PDF with a Helvetica text layer, one line per
// entry and one page per slice. Lines are separated with T* so readers see
// them as separate lines.
func BuildPDF(pages [][]string) []byte {
	var objects []string

	// 1: catalog, 2: page tree, 3: font, then page + content pairs
	pageIDs := make([]int, len(pages))
	for i := range pages {
		pageIDs[i] = 4 + i*2
	}

	kids := make([]string, len(pageIDs))
	for i, id := range pageIDs {
		kids[i] = fmt.Sprintf("%d 0 R", id)
	}

	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)

	for i, lines := range pages {
		var content bytes.Buffer
		content.WriteString("BT /F1 10 Tf 12 TL 50 750 Td ")
		for j, line := range lines {
			if j > 0 {
				content.WriteString("T* ")
			}
			fmt.Fprintf(&content, "(%s) Tj ", escape(line))
		}
		content.WriteString("ET")

		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", pageIDs[i]+1),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return buf.Bytes()
}

// escape protects the characters that end or nest a PDF string literal
func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
}
