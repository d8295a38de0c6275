package render

import "strings"

// cardItem is one row of a rendered card: either a label/value pair or a
// free-text block.
type cardItem struct {
	Kind  string // "kv" or "text"
	Label string
	Value string
	Text  string
}

type cardData struct {
	Title         string
	Items         []cardItem
	PosterURL     string
	FormattedTime string
	Extra         map[string]any
}

// splitCard parses message text into a title and rows. The first line is the
// title; subsequent "label: value" lines (full-width or ASCII colon) become
// kv rows, everything else a text row. Blank lines separate blocks.
func splitCard(text string) (string, []cardItem) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 {
		return "", nil
	}
	title := strings.TrimSpace(lines[0])

	var items []cardItem
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if label, value, ok := strings.Cut(line, "："); ok {
			items = append(items, cardItem{Kind: "kv", Label: label + "：", Value: strings.TrimSpace(value)})
			continue
		}
		if label, value, ok := strings.Cut(line, ":"); ok {
			items = append(items, cardItem{Kind: "kv", Label: label + ":", Value: strings.TrimSpace(value)})
			continue
		}
		items = append(items, cardItem{Kind: "text", Text: line})
	}
	return title, items
}
