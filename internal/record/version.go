package record

// Version constants for the persisted record format.
const (
	// FormatVersion is the event record format version.
	FormatVersion = "1"

	// StoreVersion is the diarystore release version.
	StoreVersion = "0.1.0"
)
