package accounting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"invoicechat/cmd/internal/gateway"
)

// DefaultMinorVersion pins the service API minor version.
const DefaultMinorVersion = "75"

// Doer executes authenticated calls. *gateway.Gateway satisfies it.
type Doer interface {
	Do(ctx context.Context, call gateway.Call) (*gateway.Response, error)
}

// Client is the invoice API client.
type Client struct {
	gw           Doer
	minorVersion string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMinorVersion overrides DefaultMinorVersion. Empty disables the parameter.
func WithMinorVersion(v string) ClientOption {
	return func(c *Client) { c.minorVersion = v }
}

// NewClient constructs a Client over gw.
func NewClient(gw Doer, opts ...ClientOption) *Client {
	c := &Client{gw: gw, minorVersion: DefaultMinorVersion}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// QueryResult is one page of a query.
type QueryResult struct {
	Invoices      []Invoice
	TotalCount    int
	StartPosition int
	MaxResults    int
	Query         string
}

// QueryInvoices runs the statement built from f.
func (c *Client) QueryInvoices(ctx context.Context, f InvoiceFilter) (QueryResult, error) {
	q := BuildInvoiceQuery(f)

	var out struct {
		QueryResponse struct {
			Invoice       []Invoice `json:"Invoice"`
			StartPosition int       `json:"startPosition"`
			MaxResults    int       `json:"maxResults"`
			TotalCount    int       `json:"totalCount"`
		} `json:"QueryResponse"`
	}
	if err := c.call(ctx, http.MethodGet, "/query", url.Values{"query": {q}}, nil, &out); err != nil {
		return QueryResult{}, err
	}

	qr := out.QueryResponse
	res := QueryResult{
		Invoices:      qr.Invoice,
		TotalCount:    qr.TotalCount,
		StartPosition: qr.StartPosition,
		MaxResults:    qr.MaxResults,
		Query:         q,
	}
	if res.Invoices == nil {
		res.Invoices = []Invoice{}
	}
	if res.TotalCount == 0 {
		res.TotalCount = len(res.Invoices)
	}
	if res.StartPosition == 0 {
		res.StartPosition = max(f.StartPosition, 1)
	}
	if res.MaxResults == 0 {
		res.MaxResults = len(res.Invoices)
	}
	return res, nil
}

// CountInvoices returns the total number of invoices matching f.
func (c *Client) CountInvoices(ctx context.Context, f InvoiceFilter) (int, error) {
	f.MaxResults, f.StartPosition = 0, 0
	q := strings.Replace(BuildInvoiceQuery(f), "SELECT *", "SELECT COUNT(*)", 1)
	q = strings.TrimSuffix(q, " ORDER BY TxnDate DESC")

	var out struct {
		QueryResponse struct {
			TotalCount int `json:"totalCount"`
		} `json:"QueryResponse"`
	}
	if err := c.call(ctx, http.MethodGet, "/query", url.Values{"query": {q}}, nil, &out); err != nil {
		return 0, err
	}
	return out.QueryResponse.TotalCount, nil
}

// GetInvoice reads one invoice. A missing id yields ErrNotFound.
func (c *Client) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	if err := checkID(id); err != nil {
		return Invoice{}, err
	}
	var out struct {
		Invoice *Invoice `json:"Invoice"`
	}
	if err := c.call(ctx, http.MethodGet, "/invoice/"+id, nil, nil, &out); err != nil {
		return Invoice{}, err
	}
	if out.Invoice == nil || out.Invoice.ID == "" {
		return Invoice{}, &UpstreamError{StatusCode: http.StatusOK, Message: "Invoice does not exist", kind: ErrNotFound}
	}
	return *out.Invoice, nil
}

// CreateInvoice creates inv and returns the stored invoice.
func (c *Client) CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	inv.ID, inv.SyncToken = "", ""
	return c.writeInvoice(ctx, "/invoice", nil, inv)
}

// UpdateInvoice writes inv, which must carry Id and the current SyncToken.
// An outdated SyncToken yields ErrStaleVersion.
func (c *Client) UpdateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	if err := checkID(inv.ID); err != nil {
		return Invoice{}, err
	}
	return c.writeInvoice(ctx, "/invoice", nil, inv)
}

// DeleteResult confirms a deletion.
type DeleteResult struct {
	ID     string `json:"Id"`
	Status string `json:"status"`
}

// DeleteInvoice deletes by id. The current SyncToken is read first, since the
// service requires it on delete.
func (c *Client) DeleteInvoice(ctx context.Context, id string) (DeleteResult, error) {
	cur, err := c.GetInvoice(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	body, err := json.Marshal(cur.Reference())
	if err != nil {
		return DeleteResult{}, err
	}
	var out struct {
		Invoice DeleteResult `json:"Invoice"`
	}
	if err := c.call(ctx, http.MethodPost, "/invoice", url.Values{"operation": {"delete"}}, body, &out); err != nil {
		return DeleteResult{}, err
	}
	if out.Invoice.ID == "" {
		out.Invoice.ID = id
	}
	return out.Invoice, nil
}

// SendInvoice emails the invoice PDF to email.
func (c *Client) SendInvoice(ctx context.Context, id, email string) (Invoice, error) {
	if err := checkID(id); err != nil {
		return Invoice{}, err
	}
	var out struct {
		Invoice Invoice `json:"Invoice"`
	}
	err := c.callWith(ctx, gateway.Call{
		Method: http.MethodPost,
		Path:   "/invoice/" + id + "/send",
		Query:  url.Values{"sendTo": {email}},
		Body:   []byte{},
		Header: http.Header{"Content-Type": {"application/octet-stream"}},
	}, &out)
	return out.Invoice, err
}

// CompanyInfo is the subset of the company record used for status checks.
type CompanyInfo struct {
	CompanyName string `json:"CompanyName"`
	LegalName   string `json:"LegalName,omitempty"`
	Country     string `json:"Country,omitempty"`
}

// GetCompanyInfo reads the tenant's company record.
func (c *Client) GetCompanyInfo(ctx context.Context) (CompanyInfo, error) {
	var out struct {
		CompanyInfo CompanyInfo `json:"CompanyInfo"`
	}
	err := c.call(ctx, http.MethodGet, "/companyinfo/"+gateway.TenantPlaceholder, nil, nil, &out)
	return out.CompanyInfo, err
}

func (c *Client) writeInvoice(ctx context.Context, path string, q url.Values, inv Invoice) (Invoice, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return Invoice{}, err
	}
	var out struct {
		Invoice Invoice `json:"Invoice"`
	}
	if err := c.call(ctx, http.MethodPost, path, q, body, &out); err != nil {
		return Invoice{}, err
	}
	return out.Invoice, nil
}

func (c *Client) call(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	return c.callWith(ctx, gateway.Call{Method: method, Path: path, Query: q, Body: body}, out)
}

// callWith scopes call.Path to the tenant, executes it and decodes a 2xx body into out.
func (c *Client) callWith(ctx context.Context, call gateway.Call, out any) error {
	call.Path = "/v3/company/" + gateway.TenantPlaceholder + call.Path
	if c.minorVersion != "" {
		if call.Query == nil {
			call.Query = url.Values{}
		}
		call.Query.Set("minorversion", c.minorVersion)
	}

	resp, err := c.gw.Do(ctx, call)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return decodeFault(resp.StatusCode, resp.Body)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("accounting: decode %s %s: %w", call.Method, call.Path, err)
	}
	return nil
}

func checkID(id string) error {
	if id == "" || len(id) > 64 || strings.ContainsAny(id, "/?#% ") {
		return ErrInvalidID
	}
	return nil
}
