package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/port"
)

func (c *Client) setHeaders(ctx context.Context, req *http.Request, prefer string) {
	token := c.serviceRoleKey
	if c.tokenFrom != nil {
		if t := c.tokenFrom(ctx); t != "" {
			token = t
		}
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
}

// filterQuery renders equality filters (and, for reads, ordering) in
// PostgREST syntax. Columns are sorted so URLs are stable.
func filterQuery(f port.Filter, withOrder bool) string {
	q := url.Values{}
	if withOrder {
		q.Set("select", "*")
	}
	cols := make([]string, 0, len(f.Eq))
	for col := range f.Eq {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		q.Add(col, "eq."+f.Eq[col])
	}
	if withOrder && f.Order != "" {
		q.Set("order", f.Order)
	}
	return q.Encode()
}

// postgrestError is the error body PostgREST returns.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func statusError(op, table string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var pe postgrestError
	if err := json.Unmarshal(body, &pe); err == nil && pe.Message != "" {
		msg = pe.Message
		if pe.Code != "" {
			msg = pe.Code + ": " + msg
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return &domain.ErrNotAuthenticated{Reason: msg}
	case status >= 400 && status < 500:
		return &domain.ErrRemoteRejected{Table: table, Op: op, Err: fmt.Errorf("status %d: %s", status, msg)}
	default:
		return &domain.ErrExternalService{Service: serviceName, Err: fmt.Errorf("%s %s returned %d: %s", op, table, status, msg)}
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
