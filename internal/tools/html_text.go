package tools

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]+`)
)

// maxHTMLDepth stops runaway recursion on deeply nested documents.
const maxHTMLDepth = 64

// htmlToText renders an HTML document as plain text with light markdown
// for headings, list items and links.
func htmlToText(document string) (string, error) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	writeNodeText(root, &sb, 0)
	return cleanText(sb.String()), nil
}

func writeNodeText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > maxHTMLDepth {
		return
	}
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer":
			return
		case "title":
			sb.WriteString("# ")
		case "h1", "h2", "h3":
			sb.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		case "h4", "h5", "h6", "p", "div", "section", "article", "table", "tr":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "pre":
			sb.WriteString("\n\n```\n")
		case "img":
			if alt := attr(n, "alt"); alt != "" {
				sb.WriteString("[Image: " + alt + "] ")
			}
			return
		}
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		writeNodeText(child, sb, depth+1)
	}

	if n.Type != html.ElementNode {
		return
	}
	switch n.Data {
	case "title", "h1", "h2", "h3", "h4", "h5", "h6":
		sb.WriteString("\n\n")
	case "pre":
		sb.WriteString("\n```\n\n")
	case "a":
		if href := attr(n, "href"); href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:") {
			sb.WriteString("(" + href + ") ")
		}
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// cleanText collapses runs of blank lines and spaces and trims every line.
func cleanText(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
