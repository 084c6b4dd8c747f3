package whatsapp

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// FormatReply converts model Markdown into WhatsApp markup: **bold**
// and *bold* become *bold*, _italic_ stays, ~~strike~~ becomes ~strike~,
// headings turn bold, bullets become "•", and links show their target.
// Line breaks inside paragraphs are kept.
func FormatReply(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	source := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(source))

	f := &formatter{source: source, marks: make(map[ast.Node]int)}
	_ = ast.Walk(doc, f.visit)
	return strings.TrimSpace(f.out.String())
}

type formatter struct {
	source []byte
	out    strings.Builder
	marks  map[ast.Node]int // output offset where a node started
	depth  int              // list nesting
}

func (f *formatter) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering && n.Type() == ast.TypeBlock && n.PreviousSibling() != nil {
		f.separate(n)
	}

	switch node := n.(type) {
	case *ast.Heading:
		f.out.WriteString("*")

	case *ast.Emphasis:
		f.out.WriteString(f.emphasisMark(node))

	case *east.Strikethrough:
		f.out.WriteString("~")

	case *ast.CodeSpan:
		f.out.WriteString("`")

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			f.out.WriteString("```\n")
			f.writeLines(n)
			f.out.WriteString("```")
		}
		return ast.WalkSkipChildren, nil

	case *ast.List:
		if entering {
			f.depth++
		} else {
			f.depth--
		}

	case *ast.ListItem:
		if entering {
			f.out.WriteString(strings.Repeat("  ", f.depth-1))
			f.out.WriteString(listMarker(node))
		}

	case *ast.Blockquote:
		if entering {
			f.marks[n] = f.out.Len()
		} else {
			f.quote(f.marks[n])
		}

	case *ast.Link:
		if entering {
			f.marks[n] = f.out.Len()
		} else {
			label := f.out.String()[f.marks[n]:]
			dest := string(node.Destination)
			if dest != "" && label != dest {
				f.out.WriteString(" (" + dest + ")")
			}
		}

	case *ast.AutoLink:
		if entering {
			f.out.Write(node.URL(f.source))
		}
		return ast.WalkSkipChildren, nil

	case *ast.Image:
		if entering {
			f.out.Write(node.Destination)
		}
		return ast.WalkSkipChildren, nil

	case *ast.Text:
		if entering {
			f.out.Write(node.Segment.Value(f.source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				f.out.WriteString("\n")
			}
		}

	case *ast.String:
		if entering {
			f.out.Write(node.Value)
		}

	case *ast.RawHTML:
		if entering {
			for i := 0; i < node.Segments.Len(); i++ {
				seg := node.Segments.At(i)
				f.out.Write(seg.Value(f.source))
			}
		}

	case *ast.HTMLBlock:
		if entering {
			f.writeLines(n)
		}

	case *ast.ThematicBreak:
		if entering {
			f.out.WriteString("───")
		}
	}
	return ast.WalkContinue, nil
}

// separate writes the gap between a block and its previous sibling.
func (f *formatter) separate(n ast.Node) {
	switch {
	case n.Kind() == ast.KindListItem:
		f.out.WriteString("\n")
	case n.Parent() != nil && n.Parent().Kind() == ast.KindListItem:
		f.out.WriteString("\n")
	case n.Kind() == ast.KindList:
		f.out.WriteString("\n")
	default:
		f.out.WriteString("\n\n")
	}
}

// emphasisMark maps emphasis to WhatsApp: level 2 is bold; level 1 keeps
// its delimiter, "*" (bold on WhatsApp) or "_" (italic).
func (f *formatter) emphasisMark(e *ast.Emphasis) string {
	if e.Level >= 2 {
		return "*"
	}
	if t, ok := e.FirstChild().(*ast.Text); ok && t.Segment.Start > 0 && f.source[t.Segment.Start-1] == '_' {
		return "_"
	}
	return "*"
}

func (f *formatter) writeLines(n ast.Node) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		f.out.Write(seg.Value(f.source))
	}
}

// quote prefixes every output line written since start with "> ".
func (f *formatter) quote(start int) {
	full := f.out.String()
	body := full[start:]
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	f.out.Reset()
	f.out.WriteString(full[:start])
	f.out.WriteString(strings.Join(lines, "\n"))
}

func listMarker(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "• "
	}
	idx := 0
	for s := item.PreviousSibling(); s != nil; s = s.PreviousSibling() {
		idx++
	}
	return strconv.Itoa(list.Start+idx) + ". "
}
