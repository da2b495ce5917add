// Package artifact validates rendered documentation output.
package artifact

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// Info summarizes a verified HTML artifact.
type Info struct {
	Path  string
	Title string
	Links int
}

// VerifyHTML parses the rendered HTML file and checks it is a plausible
// documentation page: parseable, with a non-empty <title>. It returns basic
// structure info for the run report.
func VerifyHTML(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifact not found: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("artifact is not parseable HTML: %w", err)
	}

	info := &Info{Path: path}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if n.FirstChild != nil {
					info.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "a":
				for _, attr := range n.Attr {
					if attr.Key == "href" && attr.Val != "" {
						info.Links++
						break
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if info.Title == "" {
		return nil, fmt.Errorf("artifact %s has no <title>; build output looks incomplete", path)
	}
	return info, nil
}
