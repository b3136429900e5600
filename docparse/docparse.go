// Package docparse evaluates path expressions over HTML and JSON response
// bodies. It is the read-only extraction layer used by every login step:
// callers ask "does this exist", "give me this string", "give me this form"
// and get empty results rather than errors when the document does not match.
package docparse

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/url"
	"regexp"
	"strconv"

	"github.com/antchfx/htmlquery"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

const (
	contentTypeHTML = "text/html"
	contentTypeJSON = "application/json"
)

var ErrNotHTML = errors.New("response is not an HTML document")

// Document is a parsed HTML response together with the URL it was fetched
// from, so that relative form actions can be resolved against it.
type Document struct {
	root *html.Node
	base *url.URL
}

// ParseHTML parses body as HTML. The content type must be text/html and the
// body non-empty; anything else returns ErrNotHTML, which callers surface as
// a bad-response failure.
func ParseHTML(body []byte, contentType string, base *url.URL) (*Document, error) {
	if mediaType(contentType) != contentTypeHTML || len(body) == 0 {
		return nil, errors.Wrapf(ErrNotHTML, "[ParseHTML] content type %q, %d bytes", contentType, len(body))
	}
	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "[ParseHTML] htmlquery.Parse")
	}
	return &Document{root: root, base: base}, nil
}

// PathExists reports whether expr selects at least one node.
func (d *Document) PathExists(expr string) bool {
	nodes, err := htmlquery.QueryAll(d.root, expr)
	return err == nil && len(nodes) > 0
}

// String evaluates expr and returns the text content of the first selected
// node. No match, or an invalid expression, yields "".
func (d *Document) String(expr string) string {
	node, err := htmlquery.Query(d.root, expr)
	if err != nil || node == nil {
		return ""
	}
	return htmlquery.InnerText(node)
}

// Nodes returns every node selected by expr, for bulk extraction such as
// collecting all hidden form inputs.
func (d *Document) Nodes(expr string) []*html.Node {
	nodes, err := htmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil
	}
	return nodes
}

// URL returns the address the document was fetched from.
func (d *Document) URL() *url.URL {
	return d.base
}

// JSONObject parses body as a JSON object and returns its top-level scalar
// members as a flat string map. Non-scalar members are dropped. A content
// type other than application/json, an empty body, a parse error, or a
// non-object root all yield nil.
func JSONObject(body []byte, contentType string) map[string]string {
	if mediaType(contentType) != contentTypeJSON || len(body) == 0 {
		return nil
	}
	var object map[string]any
	if err := json.Unmarshal(body, &object); err != nil {
		return nil
	}
	result := make(map[string]string, len(object))
	for name, value := range object {
		switch v := value.(type) {
		case string:
			result[name] = v
		case bool:
			result[name] = strconv.FormatBool(v)
		case float64:
			result[name] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return result
}

// RegexGroup returns the given capture group from the first match of pattern
// against body, or "" when there is no match.
func RegexGroup(body []byte, pattern string, group int) string {
	matcher, err := regexp.Compile(pattern)
	if err != nil {
		return ""
	}
	match := matcher.FindSubmatch(body)
	if match == nil || group >= len(match) {
		return ""
	}
	return string(match[group])
}

func mediaType(contentType string) string {
	parsed, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return parsed
}
