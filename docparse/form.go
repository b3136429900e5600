package docparse

import (
	"net/http"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/pkg/errors"
)

var ErrFormNotFound = errors.New("form not found in document")

// Form describes an HTML form well enough to submit it programmatically:
// where to send it, how, and which fields to fill in.
type Form struct {
	Method        string
	Action        string
	EmailField    string // name of the first input[@type='email'], if any
	PasswordField string // name of the first input[@type='password'], if any
	Fields        map[string]string
}

// ExtractForm locates the form selected by formPath and pulls out its
// submission parameters. The method defaults to GET and is uppercased; the
// action is resolved against the document's own URL (and defaults to it when
// the form has no action attribute). Fields is seeded with every hidden
// input, last write winning on duplicate names.
func (d *Document) ExtractForm(formPath string) (*Form, error) {
	if !d.PathExists(formPath) {
		return nil, errors.Wrapf(ErrFormNotFound, "[ExtractForm] %s", formPath)
	}

	form := &Form{
		Method: strings.ToUpper(d.String(formPath + "/@method")),
		Fields: make(map[string]string),
	}
	if form.Method == "" {
		form.Method = http.MethodGet
	}

	action := d.String(formPath + "/@action")
	if action == "" {
		form.Action = d.base.String()
	} else {
		resolved, err := d.base.Parse(action)
		if err != nil {
			return nil, errors.Wrapf(err, "[ExtractForm] resolving action %q", action)
		}
		form.Action = resolved.String()
	}

	form.EmailField = d.String(formPath + "//input[@type='email'][1]/@name")
	form.PasswordField = d.String(formPath + "//input[@type='password'][1]/@name")

	for _, input := range d.Nodes(formPath + "//input[@type='hidden']") {
		name := htmlquery.SelectAttr(input, "name")
		if name == "" {
			continue
		}
		form.Fields[name] = htmlquery.SelectAttr(input, "value")
	}

	return form, nil
}
