package problem

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ContentType is the media type of problem responses.
const ContentType = "application/problem+json"

// Details is the RFC 7807 body.
type Details struct {
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail"`
	Errors map[string]string `json:"errors,omitempty"`
}

// DetailsOf builds the response body for err. Causes of dependency and
// unclassified errors are not exposed.
func DetailsOf(err error) Details {
	pe, ok := As(err)
	if !ok {
		return Details{
			Type:   "about:blank",
			Title:  http.StatusText(http.StatusInternalServerError),
			Status: http.StatusInternalServerError,
			Detail: "internal error",
		}
	}

	status := pe.Status()
	return Details{
		Type:   "https://httpstatuses.com/" + strconv.Itoa(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: pe.Detail,
		Errors: pe.Fields,
	}
}

// Write renders err as application/problem+json.
func Write(w http.ResponseWriter, err error) {
	d := DetailsOf(err)
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
