// Package accountingtest provides an in-memory stand-in for the accounting
// service's invoice API, for tests in packages that sit above the gateway.
package accountingtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"invoicechat/cmd/internal/accounting"
)

// Server serves /v3/company/{tenant}/... for any tenant.
type Server struct {
	*httptest.Server

	// Token, when set, is the only bearer token accepted; others get 401.
	Token string

	mu       sync.Mutex
	invoices map[string]accounting.Invoice
	nextID   int

	requests atomic.Int64
	writes   atomic.Int64
}

// NewServer starts a Server and closes it when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{invoices: map[string]accounting.Invoice{}, nextID: 1}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

// Requests returns how many requests reached the server.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Writes returns how many POST requests reached the server.
func (s *Server) Writes() int64 { return s.writes.Load() }

// Seed inserts n invoices with ids starting at the next free id. Transaction
// dates decrease with id so the newest-first order is id ascending.
func (s *Server) Seed(n int) []accounting.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]accounting.Invoice, 0, n)
	for i := 0; i < n; i++ {
		id := strconv.Itoa(s.nextID)
		total := float64(100 + s.nextID)
		inv := accounting.Invoice{
			ID:          id,
			SyncToken:   "0",
			DocNumber:   fmt.Sprintf("INV-%04d", s.nextID),
			TxnDate:     base.AddDate(0, 0, -s.nextID).Format(time.DateOnly),
			TotalAmt:    &total,
			Balance:     &total,
			CustomerRef: &accounting.Ref{Value: "1", Name: "Amy's Bird Sanctuary"},
			Line: []accounting.Line{{
				Amount:     total,
				DetailType: accounting.DetailTypeSalesItem,
				SalesItemLineDetail: &accounting.SalesItemLineDetail{
					ItemRef: &accounting.Ref{Value: "1", Name: "Services"},
				},
			}},
		}
		s.invoices[id] = inv
		s.nextID++
		out = append(out, inv)
	}
	return out
}

// Put stores inv as-is, replacing any invoice with the same id.
func (s *Server) Put(inv accounting.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv
	if n, err := strconv.Atoi(inv.ID); err == nil && n >= s.nextID {
		s.nextID = n + 1
	}
}

// Invoice returns the stored invoice with id.
func (s *Server) Invoice(id string) (accounting.Invoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	return inv, ok
}

var companyPath = regexp.MustCompile(`^/v3/company/[^/]+(/.*)$`)

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	if r.Method == http.MethodPost {
		s.writes.Add(1)
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || (s.Token != "" && auth != "Bearer "+s.Token) {
		writeFault(w, http.StatusUnauthorized, "AuthenticationFault", "3200", "AuthenticationFailed")
		return
	}

	m := companyPath.FindStringSubmatch(r.URL.Path)
	if m == nil {
		http.NotFound(w, r)
		return
	}
	rest := strings.Split(strings.Trim(m[1], "/"), "/")

	switch {
	case r.Method == http.MethodGet && rest[0] == "query":
		s.query(w, r.URL.Query().Get("query"))
	case r.Method == http.MethodGet && rest[0] == "invoice" && len(rest) == 2:
		s.read(w, rest[1])
	case r.Method == http.MethodPost && rest[0] == "invoice" && len(rest) == 1:
		if r.URL.Query().Get("operation") == "delete" {
			s.remove(w, r)
			return
		}
		s.write(w, r)
	case r.Method == http.MethodPost && rest[0] == "invoice" && len(rest) == 3 && rest[2] == "send":
		s.send(w, rest[1], r.URL.Query().Get("sendTo"))
	case r.Method == http.MethodGet && rest[0] == "companyinfo":
		writeJSON(w, http.StatusOK, map[string]any{"CompanyInfo": map[string]any{"CompanyName": "Sandbox Company"}})
	default:
		http.NotFound(w, r)
	}
}

var (
	startRe = regexp.MustCompile(`STARTPOSITION (\d+)`)
	maxRe   = regexp.MustCompile(`MAXRESULTS (\d+)`)
)

func (s *Server) query(w http.ResponseWriter, q string) {
	if !strings.HasPrefix(q, "SELECT ") || !strings.Contains(q, " FROM Invoice") {
		writeFault(w, http.StatusBadRequest, "ValidationFault", "4000", "Error parsing query")
		return
	}

	s.mu.Lock()
	all := make([]accounting.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		all = append(all, inv)
	}
	s.mu.Unlock()

	if strings.HasPrefix(q, "SELECT COUNT(*)") {
		writeJSON(w, http.StatusOK, map[string]any{"QueryResponse": map[string]any{"totalCount": len(all)}})
		return
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].TxnDate != all[j].TxnDate {
			return all[i].TxnDate > all[j].TxnDate
		}
		return all[i].ID < all[j].ID
	})

	start, limit := 1, 100
	if m := startRe.FindStringSubmatch(q); m != nil {
		start, _ = strconv.Atoi(m[1])
	}
	if m := maxRe.FindStringSubmatch(q); m != nil {
		limit, _ = strconv.Atoi(m[1])
	}
	lo := min(max(start-1, 0), len(all))
	hi := min(lo+limit, len(all))
	page := all[lo:hi]

	resp := map[string]any{"startPosition": start, "maxResults": len(page)}
	if len(page) > 0 {
		resp["Invoice"] = page
	}
	writeJSON(w, http.StatusOK, map[string]any{"QueryResponse": resp})
}

func (s *Server) read(w http.ResponseWriter, id string) {
	inv, ok := s.Invoice(id)
	if !ok {
		writeFault(w, http.StatusBadRequest, "ValidationFault", "610", "Object Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Invoice": inv})
}

func (s *Server) write(w http.ResponseWriter, r *http.Request) {
	var inv accounting.Invoice
	if err := decode(r.Body, &inv); err != nil {
		writeFault(w, http.StatusBadRequest, "ValidationFault", "2020", "Required param missing")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == "" {
		inv.ID = strconv.Itoa(s.nextID)
		s.nextID++
		inv.SyncToken = "0"
		var total float64
		for _, l := range inv.Line {
			total += l.Amount
		}
		inv.TotalAmt, inv.Balance = &total, &total
		s.invoices[inv.ID] = inv
		writeJSON(w, http.StatusOK, map[string]any{"Invoice": inv})
		return
	}

	cur, ok := s.invoices[inv.ID]
	if !ok {
		writeFault(w, http.StatusBadRequest, "ValidationFault", "610", "Object Not Found")
		return
	}
	if inv.SyncToken != cur.SyncToken {
		writeFault(w, http.StatusBadRequest, "ValidationFault", "5010",
			"Stale Object Error : You and root were working on this at the same time. SyncToken mismatch")
		return
	}
	inv.SyncToken = bump(cur.SyncToken)
	s.invoices[inv.ID] = inv
	writeJSON(w, http.StatusOK, map[string]any{"Invoice": inv})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	var ref accounting.Reference
	if err := decode(r.Body, &ref); err != nil {
		writeFault(w, http.StatusBadRequest, "ValidationFault", "2020", "Required param missing")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.invoices[ref.ID]
	if !ok {
		writeFault(w, http.StatusBadRequest, "ValidationFault", "610", "Object Not Found")
		return
	}
	if ref.SyncToken != cur.SyncToken {
		writeFault(w, http.StatusBadRequest, "ValidationFault", "5010", "Stale Object Error")
		return
	}
	delete(s.invoices, ref.ID)
	writeJSON(w, http.StatusOK, map[string]any{"Invoice": map[string]any{"Id": ref.ID, "status": "Deleted"}})
}

func (s *Server) send(w http.ResponseWriter, id, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		writeFault(w, http.StatusBadRequest, "ValidationFault", "610", "Object Not Found")
		return
	}
	inv.EmailStatus = "EmailSent"
	inv.BillEmail = &accounting.EmailAddress{Address: to}
	inv.SyncToken = bump(inv.SyncToken)
	s.invoices[id] = inv
	writeJSON(w, http.StatusOK, map[string]any{"Invoice": inv})
}

func bump(tok string) string {
	n, _ := strconv.Atoi(tok)
	return strconv.Itoa(n + 1)
}

func decode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func writeFault(w http.ResponseWriter, status int, typ, code, msg string) {
	writeJSON(w, status, map[string]any{
		"Fault": map[string]any{
			"type":  typ,
			"Error": []map[string]string{{"Message": msg, "Detail": msg, "code": code}},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
