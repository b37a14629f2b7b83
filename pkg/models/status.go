package models

// PageStatus is the terminal state of a page task as recorded in the ledger
type PageStatus string

const (
	PageStatusUnset     PageStatus = ""          // Zero value = unset/unknown
	PageStatusCached    PageStatus = "cached"    // Fetched and added to the page store
	PageStatusUnchanged PageStatus = "unchanged" // Fetched for link extraction only; local copy is fresh
	PageStatusSkipped   PageStatus = "skipped"   // Out of scope, excluded, robots, or over the file limit
	PageStatusFailed    PageStatus = "failed"    // Fetch failed after the retry policy gave up
	PageStatusNotFound  PageStatus = "not_found" // Page not in ledger
	PageStatusDBError   PageStatus = "db_error"  // Ledger error occurred
)

// String implements fmt.Stringer for logging
func (s PageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a terminal task state that can be stored
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusCached, PageStatusUnchanged, PageStatusSkipped, PageStatusFailed:
		return true
	}
	return false
}

// AssetStatus is the outcome of a static resource download
type AssetStatus string

const (
	AssetStatusUnset      AssetStatus = ""
	AssetStatusDownloaded AssetStatus = "downloaded" // Bytes written to disk this run
	AssetStatusUnchanged  AssetStatus = "unchanged"  // Local copy exists and is not older than the remote
	AssetStatusSkipped    AssetStatus = "skipped"    // Already downloaded, or the URL cannot be named
	AssetStatusFailed     AssetStatus = "failed"
	AssetStatusNotFound   AssetStatus = "not_found" // Asset not in ledger
	AssetStatusDBError    AssetStatus = "db_error"
)

// String implements fmt.Stringer for logging
func (s AssetStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a storable download outcome
func (s AssetStatus) IsValid() bool {
	switch s {
	case AssetStatusDownloaded, AssetStatusUnchanged, AssetStatusSkipped, AssetStatusFailed:
		return true
	}
	return false
}
