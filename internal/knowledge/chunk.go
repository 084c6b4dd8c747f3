package knowledge

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxChunkRunes bounds a single passage. Longer sections are split on
// paragraph boundaries.
const maxChunkRunes = 1200

// Chunk is one indexable passage of support material.
type Chunk struct {
	Key     string // heading path, slugified
	Section string // top-level heading
	Content string
}

var (
	headingPattern = regexp.MustCompile(`^(#{1,3})\s+(.+)$`)
	fencePattern   = regexp.MustCompile("^```")
	slugPattern    = regexp.MustCompile(`[^a-z0-9]+`)
)

// parseMarkdown splits markdown into one chunk per heading section.
// Text before the first heading is keyed by fallbackKey.
func parseMarkdown(r io.Reader, fallbackKey string) []Chunk {
	var (
		chunks   []Chunk
		headings [3]string
		content  strings.Builder
		key      = fallbackKey
		inFence  bool
		hasBody  bool
	)

	flush := func() {
		text := strings.TrimSpace(content.String())
		content.Reset()
		if !hasBody || text == "" {
			return
		}
		hasBody = false
		for _, part := range splitLong(text, maxChunkRunes) {
			chunks = append(chunks, Chunk{Key: key, Section: headings[0], Content: part})
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if fencePattern.MatchString(line) || inFence {
			if fencePattern.MatchString(line) {
				inFence = !inFence
			}
			content.WriteString(line + "\n")
			hasBody = true
			continue
		}

		if m := headingPattern.FindStringSubmatch(line); m != nil {
			flush()
			level := len(m[1]) - 1
			headings[level] = strings.TrimSpace(m[2])
			for i := level + 1; i < len(headings); i++ {
				headings[i] = ""
			}
			var parts []string
			for _, h := range headings {
				if h != "" {
					parts = append(parts, slugify(h))
				}
			}
			key = strings.Join(parts, "/")
			// Keep the heading text in the passage so answers quote it.
			content.WriteString(headings[level] + "\n")
			continue
		}

		if strings.TrimSpace(line) != "" {
			hasBody = true
		}
		if line != "" || content.Len() > 0 {
			content.WriteString(line + "\n")
		}
	}
	flush()
	return chunks
}

// parsePlain splits plain text into paragraph-bounded chunks.
func parsePlain(text, key string) []Chunk {
	var chunks []Chunk
	for _, part := range splitLong(strings.TrimSpace(text), maxChunkRunes) {
		chunks = append(chunks, Chunk{Key: key, Content: part})
	}
	return chunks
}

// splitLong packs paragraphs of text into pieces of at most limit runes.
// A single oversized paragraph is cut hard.
func splitLong(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= limit {
		return []string{text}
	}

	var out []string
	var cur strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && len([]rune(cur.String()))+len([]rune(para))+2 > limit {
			out = append(out, cur.String())
			cur.Reset()
		}
		for r := []rune(para); len(r) > limit; r = []rune(para) {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, string(r[:limit]))
			para = string(r[limit:])
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func slugify(s string) string {
	s = slugPattern.ReplaceAllString(strings.ToLower(fold(s)), "-")
	return strings.Trim(s, "-")
}

// skipElements hold no support text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
}

// extractHTML returns the document title and its readable text, with
// block elements separated by blank lines.
func extractHTML(raw string) (string, string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", ""
	}
	var b strings.Builder
	extractText(doc, &b)
	return strings.TrimSpace(findTitle(doc)), cleanWhitespace(b.String())
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return b.String()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func extractText(n *html.Node, w *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		if isBlock(n.DataAtom) && w.Len() > 0 {
			w.WriteString("\n\n")
		}
	}
	if n.Type == html.TextNode {
		if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
			w.WriteString(text)
			w.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, w)
	}
	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		w.WriteString("\n")
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Hr:
		return true
	}
	return false
}

// cleanWhitespace collapses runs of spaces within lines and runs of
// blank lines.
func cleanWhitespace(s string) string {
	var cleaned []string
	prevEmpty := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
