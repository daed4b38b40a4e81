package domain

// ============================================================
// Upload / Import
// ============================================================

// ImportFormat is the file format of an upload.
type ImportFormat string

const (
	FormatCSV  ImportFormat = "csv"
	FormatXLSX ImportFormat = "xlsx"
)

// ImportOptions tune one import run.
type ImportOptions struct {
	Format  ImportFormat
	Sheet   string // xlsx only; first sheet when empty
	FanOut  int    // zero uses the router default
	Route   bool   // route each created lead inline
	MaxRows int    // zero means unlimited
}

// RowError describes a row that could not be imported.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportSummary is returned after an import completes.
type ImportSummary struct {
	Rows       int        `json:"rows"`
	Created    int        `json:"created"`
	Duplicates int        `json:"duplicates"`
	Invalid    int        `json:"invalid"`
	Routed     int        `json:"routed"`
	Unroutable int        `json:"unroutable"`
	Failed     int        `json:"failed"`
	Errors     []RowError `json:"errors,omitempty"`
}

// Coordinates is a resolved geographic point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
