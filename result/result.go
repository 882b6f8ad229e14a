// Package result maps combined-data rows to display records.
package result

import "github.com/eringen/topviews/endpoint"

// Dimension and metric names understood by the top-views query.
const (
	DocumentTitle = "documentTitle"
	DocumentURL   = "documentURL"
	DocumentView  = "DocumentView"
)

// DisplayRecord is the template-facing projection of one combination row.
type DisplayRecord struct {
	UniqueID     string
	URI          string
	ClickURI     string
	PrintableURI string
	Title        string
	Index        int
	// Raw is a copy of the row with "uri" and "printableUri" merged in.
	Raw map[string]any
}

// Views returns the DocumentView metric from Raw, or 0.
func (r DisplayRecord) Views() float64 {
	v, _ := r.Raw[DocumentView].(float64)
	return v
}

// FromCombination builds the display record for row at position index.
// Missing title or URI dimensions become empty strings.
func FromCombination[D, M ~string](row endpoint.Combination[D, M], index int) DisplayRecord {
	title := row.Dimension(D(DocumentTitle))
	uri := row.Dimension(D(DocumentURL))

	raw := row.Fields()
	raw["printableUri"] = uri
	raw["uri"] = uri

	return DisplayRecord{
		UniqueID:     uri,
		URI:          uri,
		ClickURI:     uri,
		PrintableURI: uri,
		Title:        title,
		Index:        index,
		Raw:          raw,
	}
}

// FromResponse maps every row of resp in order.
func FromResponse[D, M ~string](resp *endpoint.CombinedDataResponse[D, M]) []DisplayRecord {
	if resp == nil {
		return nil
	}
	out := make([]DisplayRecord, len(resp.Combinations))
	for i, row := range resp.Combinations {
		out[i] = FromCombination(row, i)
	}
	return out
}
