// Package markup turns untrusted post bodies into plain text and a
// restricted HTML subset.
package markup

import (
	"html"
	"strings"

	"github.com/russross/blackfriday/v2"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var allowedTags = map[atom.Atom]bool{
	atom.P: true, atom.Br: true, atom.A: true, atom.Em: true, atom.Strong: true,
	atom.B: true, atom.I: true, atom.Ul: true, atom.Ol: true, atom.Li: true,
	atom.Blockquote: true, atom.Code: true, atom.Pre: true, atom.H1: true,
	atom.H2: true, atom.H3: true, atom.H4: true, atom.Del: true, atom.Hr: true,
}

// dropped tags lose their text content as well.
var droppedTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Iframe: true, atom.Object: true,
	atom.Embed: true, atom.Noscript: true, atom.Form: true,
}

// Sanitize keeps allowlisted tags, drops every attribute except a safe
// href on links, and escapes everything else.
func Sanitize(src string) string {
	var sb strings.Builder
	z := nethtml.NewTokenizer(strings.NewReader(src))
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case nethtml.ErrorToken:
			return strings.TrimSpace(sb.String())
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			tok := z.Token()
			if droppedTags[tok.DataAtom] {
				if tt == nethtml.StartTagToken {
					skipDepth++
				}
				continue
			}
			if skipDepth > 0 || !allowedTags[tok.DataAtom] {
				continue
			}
			sb.WriteString("<" + tok.Data)
			if tok.DataAtom == atom.A {
				if href := safeHref(tok.Attr); href != "" {
					sb.WriteString(` href="` + html.EscapeString(href) + `" rel="nofollow noopener"`)
				}
			}
			if tt == nethtml.SelfClosingTagToken {
				sb.WriteString(" />")
			} else {
				sb.WriteString(">")
			}
		case nethtml.EndTagToken:
			tok := z.Token()
			if droppedTags[tok.DataAtom] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth > 0 || !allowedTags[tok.DataAtom] || tok.DataAtom == atom.Br || tok.DataAtom == atom.Hr {
				continue
			}
			sb.WriteString("</" + tok.Data + ">")
		case nethtml.TextToken:
			if skipDepth > 0 {
				continue
			}
			sb.WriteString(html.EscapeString(string(z.Text())))
		}
	}
}

// PlainText strips markup and collapses whitespace.
func PlainText(src string) string {
	var sb strings.Builder
	z := nethtml.NewTokenizer(strings.NewReader(src))
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case nethtml.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case nethtml.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if droppedTags[a] {
				skipDepth++
			}
			if a == atom.P || a == atom.Br || a == atom.Li || a == atom.Div {
				sb.WriteByte(' ')
			}
		case nethtml.SelfClosingTagToken:
			sb.WriteByte(' ')
		case nethtml.EndTagToken:
			name, _ := z.TagName()
			if droppedTags[atom.Lookup(name)] && skipDepth > 0 {
				skipDepth--
			}
			sb.WriteByte(' ')
		case nethtml.TextToken:
			if skipDepth == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

// RenderMarkdown renders markdown self-text into sanitized HTML.
func RenderMarkdown(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	out := blackfriday.Run([]byte(src), blackfriday.WithExtensions(blackfriday.CommonExtensions))
	return Sanitize(string(out))
}

// FirstImage returns the og:image meta of a page, else the first <img> src.
func FirstImage(src string) string {
	doc, err := nethtml.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}

	var ogImage, firstImg string
	var walk func(*nethtml.Node)
	walk = func(n *nethtml.Node) {
		if n.Type == nethtml.ElementNode {
			switch n.DataAtom {
			case atom.Meta:
				prop := attr(n, "property")
				if prop == "" {
					prop = attr(n, "name")
				}
				if (prop == "og:image" || prop == "twitter:image") && ogImage == "" {
					ogImage = attr(n, "content")
				}
			case atom.Img:
				if firstImg == "" {
					firstImg = attr(n, "src")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if ogImage != "" {
		return ogImage
	}
	return firstImg
}

func attr(n *nethtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func safeHref(attrs []nethtml.Attribute) string {
	for _, a := range attrs {
		if a.Key != "href" {
			continue
		}
		v := strings.TrimSpace(a.Val)
		lower := strings.ToLower(v)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "/") {
			return v
		}
	}
	return ""
}
