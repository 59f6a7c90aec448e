package ecapi

import (
	"encoding/json"
	"fmt"
	"time"
)

// TerminationPayload is the wire body for one EmpEmploymentTermination
// upsert.
type TerminationPayload struct {
	Metadata         PayloadMetadata `json:"__metadata"`
	PersonIDExternal string          `json:"personIdExternal"`
	UserID           string          `json:"userId"`
	EndDate          string          `json:"endDate"`
	EventReason      string          `json:"eventReason"`
}

type PayloadMetadata struct {
	URI string `json:"uri"`
}

// BuildTerminationPayload assembles the request body for one record.
func BuildTerminationPayload(personID, userID string, lastWorkingDay time.Time, eventReason, metadataURI string) TerminationPayload {
	return TerminationPayload{
		Metadata:         PayloadMetadata{URI: metadataURI},
		PersonIDExternal: personID,
		UserID:           userID,
		EndDate:          encodeWireDate(lastWorkingDay),
		EventReason:      eventReason,
	}
}

// JSON serializes the payload.
func (p TerminationPayload) JSON() ([]byte, error) {
	return json.Marshal(p)
}

// encodeWireDate renders the vendor's "/Date(<millis>)/" format. The
// last working day is a calendar date, not an instant: the millis must
// be taken from midnight UTC of that calendar day. Converting a
// local-zoned midnight to UTC, or adding a fixed offset, shifts the date
// across the midnight boundary for any host not at UTC+0 and submits the
// wrong day.
func encodeWireDate(day time.Time) string {
	utcMidnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return fmt.Sprintf("/Date(%d)/", utcMidnight.UnixMilli())
}
