package app

import (
	"strings"

	"golang.org/x/net/html"
)

// StripMarkup reduces chapter content to plain narratable text: HTML tags are
// dropped keeping their text, Markdown heading markers and emphasis wrappers
// are removed, and whitespace is collapsed to single spaces.
func StripMarkup(content string) string {
	text := stripHTML(content)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for strings.HasPrefix(trimmed, "#") {
			trimmed = strings.TrimPrefix(trimmed, "#")
		}
		trimmed = strings.TrimSpace(trimmed)
		trimmed = strings.ReplaceAll(trimmed, "**", "")
		trimmed = strings.ReplaceAll(trimmed, "__", "")
		lines[i] = trimmed
	}
	return strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
}

func stripHTML(content string) string {
	if !strings.ContainsRune(content, '<') {
		return content
	}
	node, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return content
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6":
				sb.WriteString(" ")
			}
		}
	}
	walk(node)
	return sb.String()
}
