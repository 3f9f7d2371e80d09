package extract

import (
	"bytes"
	"strings"

	"github.com/hyperjump/hikidashi/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New()

func loadMarkdown(path string) ([]models.Document, error) {
	content, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return single(markdownText([]byte(toValidUTF8(content)))), nil
}

// markdownText renders the text content of a Markdown document, dropping markup.
// Block elements are separated by a blank line; code blocks keep their lines verbatim.
func markdownText(source []byte) string {
	doc := markdownParser.Parser().Parse(text.NewReader(source))
	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				endBlock(&buf)
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.HardLineBreak() || node.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.URL(source))
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(source))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

// endBlock terminates the current block with a blank line unless one is already there.
func endBlock(buf *bytes.Buffer) {
	if buf.Len() == 0 {
		return
	}
	b := bytes.TrimRight(buf.Bytes(), " \t")
	buf.Truncate(len(b))
	switch {
	case bytes.HasSuffix(b, []byte("\n\n")):
	case bytes.HasSuffix(b, []byte("\n")):
		buf.WriteByte('\n')
	default:
		buf.WriteString("\n\n")
	}
}
