package collyfetcher

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// invisibleSelector matches elements whose text never renders.
const invisibleSelector = "script, style, noscript, template"

// ExtractText parses markup and returns the concatenated visible text.
func ExtractText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(invisibleSelector).Remove()
	return doc.Text(), nil
}
