package domain

// ExtractedEvent is one calendar event candidate pulled out of a Slack
// message by the extraction service. Only Title is guaranteed to be set;
// every other field may be empty when the source text did not mention it.
//
// Field formats mirror what the extraction schema asks the model for:
// Date is "YYYY-MM-DD", StartTime and EndTime are 24-hour "HH:MM".
type ExtractedEvent struct {
	Title       string `json:"title"`
	Date        string `json:"date,omitempty"`
	StartTime   string `json:"startTime,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}
