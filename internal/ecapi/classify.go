package ecapi

import (
	"fmt"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// Outcome is the classified result of one termination call.
type Outcome struct {
	Success bool
	Reason  string
}

// Classify decides success or failure from a termination response body.
// The upstream envelope is inconsistent: most responses wrap the result
// entries in an object ({"d":[{...}]}), but some arrive as a bare array
// ([{...}]). Both shapes are normalized to their first entry before
// interpretation. Success requires status "OK" (case-insensitive) and an
// empty message; everything else, including an unparsable body, is a
// failure with the best available reason.
func Classify(raw []byte) Outcome {
	root, err := gabs.ParseJSON(raw)
	if err != nil {
		return Outcome{Reason: fmt.Sprintf("invalid response format: %v", err)}
	}

	first := firstResultEntry(root)
	if first == nil {
		return Outcome{Reason: "unexpected response format"}
	}

	status, _ := first.Search("status").Data().(string)
	message, _ := first.Search("message").Data().(string)

	if strings.EqualFold(status, "OK") && message == "" {
		return Outcome{Success: true}
	}
	if message == "" {
		message = "Unknown error"
	}
	return Outcome{Reason: message}
}

// firstResultEntry normalizes the two accepted envelope shapes to the
// first result entry, or nil when neither shape matches.
func firstResultEntry(root *gabs.Container) *gabs.Container {
	switch root.Data().(type) {
	case map[string]any:
		wrapped := root.Search("d")
		if wrapped == nil {
			return nil
		}
		if _, ok := wrapped.Data().([]any); !ok {
			return nil
		}
		return elementAt(wrapped, 0)
	case []any:
		return elementAt(root, 0)
	default:
		return nil
	}
}

func elementAt(arr *gabs.Container, i int) *gabs.Container {
	children := arr.Children()
	if i >= len(children) {
		return nil
	}
	return children[i]
}
