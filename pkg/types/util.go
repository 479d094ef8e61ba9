package types

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig"
)

// RenderComment executes the given archive comment template, with sprig functions
// available, against data.
func RenderComment(body string, data *CommentData) (string, error) {
	tmpl, err := template.New("comment").Funcs(sprig.TxtFuncMap()).Parse(body)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return "", err
	}
	return out.String(), nil
}
