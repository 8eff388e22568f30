package model

// Document describes an uploaded file owned by a coachee.
// EncodedPayload carries the content inline as a data URI; records without inline
// content may carry a pre-created ResourceURL instead. UploadDate, Size and Format
// are descriptive and stored as given.
type Document struct {
	ID             string `json:"id"`
	CoacheeID      string `json:"coacheeId"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	EncodedPayload string `json:"encodedPayload,omitempty"`
	ResourceURL    string `json:"url,omitempty"`
	UploadDate     string `json:"uploadDate,omitempty"`
	Size           string `json:"size,omitempty"`
	Format         string `json:"format,omitempty"`
}

// Document categories used by the practice application. The store accepts any value.
const (
	TypeContract   = "contract"
	TypeAssessment = "assessment"
	TypeNotes      = "notes"
	TypeReport     = "report"
)
