package converter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
)

// LocalConverter renders HTML to Markdown in-process.
// It stands in for the remote service in development and tests.
type LocalConverter struct{}

// NewLocalConverter creates the in-process converter
func NewLocalConverter() *LocalConverter {
	return &LocalConverter{}
}

func (c *LocalConverter) Name() string { return "local" }

// CanConvert rejects images, which carry no HTML
func (c *LocalConverter) CanConvert(docType domain.DocumentType) bool {
	return docType != domain.DocumentTypeUMLImage
}

func (c *LocalConverter) Convert(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	md, err := HTMLToMarkdown(req.Content)
	if err != nil {
		return "", fmt.Errorf("local: %w", err)
	}
	if md == "" {
		return "", fmt.Errorf("local: %s has no text content", req.FileName)
	}
	return md, nil
}

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
	headingTags = map[string]int{"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6}
)

// HTMLToMarkdown renders the common block and inline elements of an HTML
// document as Markdown. Unknown elements contribute their text.
func HTMLToMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	doc.Find("script, style, head, noscript").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	renderBlocks(&b, root)
	return normalize(b.String()), nil
}

func renderBlocks(b *strings.Builder, s *goquery.Selection) {
	s.Contents().Each(func(_ int, node *goquery.Selection) {
		name := goquery.NodeName(node)
		switch {
		case name == "#text":
			if text := collapse(node.Text()); strings.TrimSpace(text) != "" {
				b.WriteString(text)
			}
		case name == "#comment":
		case headingTags[name] > 0:
			block(b, strings.Repeat("#", headingTags[name])+" "+inline(node))
		case name == "p":
			block(b, inline(node))
		case name == "ul" || name == "ol":
			block(b, list(node, name == "ol"))
		case name == "pre":
			block(b, "```\n"+strings.Trim(node.Text(), "\n")+"\n```")
		case name == "table":
			block(b, table(node))
		case name == "blockquote":
			block(b, "> "+inline(node))
		case name == "hr":
			block(b, "---")
		case name == "br":
			b.WriteString("\n")
		case isInline(name):
			b.WriteString(renderInline(node))
		default:
			b.WriteString("\n\n")
			renderBlocks(b, node)
			b.WriteString("\n\n")
		}
	})
}

func block(b *strings.Builder, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(text)
	b.WriteString("\n\n")
}

func isInline(name string) bool {
	switch name {
	case "a", "strong", "b", "em", "i", "code", "span", "img", "u", "small", "sub", "sup":
		return true
	}
	return false
}

// inline renders the children of s on a single line
func inline(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, node *goquery.Selection) {
		b.WriteString(renderInline(node))
	})
	return strings.TrimSpace(collapse(b.String()))
}

func renderInline(node *goquery.Selection) string {
	switch name := goquery.NodeName(node); name {
	case "#text":
		return collapse(node.Text())
	case "#comment":
		return ""
	case "br":
		return " "
	case "strong", "b":
		return wrap("**", inline(node))
	case "em", "i":
		return wrap("*", inline(node))
	case "code":
		return wrap("`", strings.TrimSpace(node.Text()))
	case "a":
		text := inline(node)
		href, ok := node.Attr("href")
		if !ok || href == "" || text == "" {
			return text
		}
		return "[" + text + "](" + href + ")"
	case "img":
		alt, _ := node.Attr("alt")
		src, _ := node.Attr("src")
		if src == "" {
			return alt
		}
		return "![" + alt + "](" + src + ")"
	default:
		return inline(node)
	}
}

func wrap(marker, text string) string {
	if text == "" {
		return ""
	}
	return marker + text + marker
}

func list(s *goquery.Selection, ordered bool) string {
	var lines []string
	s.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
		prefix := "- "
		if ordered {
			prefix = fmt.Sprintf("%d. ", i+1)
		}
		lines = append(lines, prefix+inline(li))
	})
	return strings.Join(lines, "\n")
}

func table(s *goquery.Selection) string {
	var rows [][]string
	s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.ReplaceAll(inline(cell), "|", `\|`))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})
	if len(rows) == 0 {
		return ""
	}

	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}

	var b strings.Builder
	for i, r := range rows {
		for len(r) < width {
			r = append(r, "")
		}
		b.WriteString("| " + strings.Join(r, " | ") + " |\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func collapse(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}

// normalize trims trailing spaces and leading spaces outside code fences
// and squeezes blank lines
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			lines[i] = strings.TrimSpace(line)
			continue
		}
		if inFence {
			lines[i] = strings.TrimRight(line, " \t")
			continue
		}
		lines[i] = strings.TrimSpace(line)
	}
	out := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}
