package ecapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clbanning/mxj/v2"

	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/config"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/obs"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/termination"
)

// LookupResult carries the resolved user id together with the request
// and response content for the audit trail.
type LookupResult struct {
	UserID       string
	RequestURL   string
	ResponseBody string
}

// LookupUserID resolves the platform-internal user id for a DAS id via
// the user directory endpoint. The endpoint template carries a {dasid}
// placeholder which is substituted with the quoted username. The
// response is an OData XML document; the id lives in a namespaced
// userId element under the entry's properties node.
func LookupUserID(ctx context.Context, client *Client, cfg config.Config, dasID string) (LookupResult, error) {
	start := time.Now()
	defer obs.ObserveCall(cfg.Tenant(), "user_lookup", start)

	url := strings.Replace(cfg.Get(config.KeyUserEndpointBase), "{dasid}", "'"+dasID+"'", 1)
	result := LookupResult{RequestURL: url}

	resp, err := client.Do(ctx, http.MethodGet, url, nil, "", "*/*")
	if err != nil {
		return result, &Error{Kind: KindUserLookup, Op: "get user directory", RequestBody: url, Err: err}
	}
	result.ResponseBody = string(resp.Body)
	if !resp.OK() {
		return result, &Error{
			Kind: KindUserLookup, Op: "get user directory",
			RequestBody: url, ResponseBody: result.ResponseBody,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	userID, err := extractUserID(resp.Body)
	if err != nil {
		return result, &Error{
			Kind: KindUserLookup, Op: "extract user id",
			RequestBody: url, ResponseBody: result.ResponseBody,
			Err: err,
		}
	}
	result.UserID = userID
	return result, nil
}

// extractUserID walks the parsed XML tree for the first userId element
// sitting under a properties node. Namespace prefixes vary between
// responses, so elements are matched by local name.
func extractUserID(body []byte) (string, error) {
	doc, err := mxj.NewMapXml(body)
	if err != nil {
		return "", fmt.Errorf("parse directory response: %w", err)
	}

	for _, leaf := range doc.LeafNodes() {
		segments := strings.Split(leaf.Path, ".")
		if localName(segments[len(segments)-1]) != "userId" {
			continue
		}
		if !underProperties(segments) {
			continue
		}
		value, ok := leaf.Value.(string)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		return value, nil
	}
	return "", fmt.Errorf("%w: userId element absent or empty in directory response", termination.ErrUserNotFound)
}

func underProperties(segments []string) bool {
	for _, seg := range segments[:len(segments)-1] {
		if localName(seg) == "properties" {
			return true
		}
	}
	return false
}

// localName strips an XML namespace prefix.
func localName(tag string) string {
	if i := strings.LastIndex(tag, ":"); i >= 0 {
		return tag[i+1:]
	}
	return tag
}
