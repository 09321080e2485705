package analytics

import (
	"encoding/json"

	"gsc/internal/output"
)

// QueryResponse is the Search Analytics response shape this client reads.
type QueryResponse struct {
	Rows                    []Row  `json:"rows"`
	ResponseAggregationType string `json:"responseAggregationType,omitempty"`
}

// Row is the API's positional row: one key per requested dimension plus
// metric fields. Metrics decode as json.Number so the API's native
// numeric representation survives untouched; the zero value "" marks an
// absent field.
type Row struct {
	Keys        []string    `json:"keys"`
	Clicks      json.Number `json:"clicks,omitempty"`
	Impressions json.Number `json:"impressions,omitempty"`
	CTR         json.Number `json:"ctr,omitempty"`
	Position    json.Number `json:"position,omitempty"`
}

// RowsToRecords flattens response rows into uniform records. Field order
// follows the request's dimension order, not the response's. A row with
// fewer positional keys than requested dimensions gets nil for the
// missing trailing dimensions; that is legitimate data, not an error.
func RowsToRecords(response *QueryResponse, dimensions []string) []*output.Record {
	records := make([]*output.Record, 0, len(response.Rows))

	for _, row := range response.Rows {
		record := output.NewRecord()

		for index, dimension := range dimensions {
			if index < len(row.Keys) {
				record.Set(dimension, row.Keys[index])
			} else {
				record.Set(dimension, nil)
			}
		}

		if row.Clicks != "" {
			record.Set("clicks", row.Clicks)
		}
		if row.Impressions != "" {
			record.Set("impressions", row.Impressions)
		}
		if row.CTR != "" {
			record.Set("ctr", row.CTR)
		}
		if row.Position != "" {
			record.Set("position", row.Position)
		}

		records = append(records, record)
	}

	return records
}
