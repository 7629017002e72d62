package services

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// descriptionRenderer turns vendor-written markdown into HTML safe to embed in the product page.
type descriptionRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func newDescriptionRenderer() *descriptionRenderer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("loading").OnElements("img")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return &descriptionRenderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify)),
		policy: policy,
	}
}

func (r *descriptionRenderer) Render(source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(r.policy.SanitizeBytes(buf.Bytes()))), nil
}
