package accounting

import (
	"strconv"
	"strings"
)

// MaxQueryResults is the service's page size ceiling.
const MaxQueryResults = 1000

// Invoice statuses accepted by InvoiceFilter.Status. "All" disables the filter.
var InvoiceStatuses = []string{"All", "Pending", "Approved", "Closed", "Voided"}

// InvoiceFilter is the structured filter accepted by listInvoices. Absent
// fields are omitted from the generated statement.
type InvoiceFilter struct {
	CustomerID   string   `json:"customerId,omitempty"`
	CustomerName string   `json:"customerName,omitempty"`
	Status       string   `json:"status,omitempty"`
	DateFrom     string   `json:"dateFrom,omitempty"`
	DateTo       string   `json:"dateTo,omitempty"`
	DueDateFrom  string   `json:"dueDateFrom,omitempty"`
	DueDateTo    string   `json:"dueDateTo,omitempty"`
	TotalFrom    *float64 `json:"totalFrom,omitempty"`
	TotalTo      *float64 `json:"totalTo,omitempty"`
	DocNumber    string   `json:"docNumber,omitempty"`
	BalanceFrom  *float64 `json:"balanceFrom,omitempty"`
	BalanceTo    *float64 `json:"balanceTo,omitempty"`

	MaxResults    int `json:"maxResults,omitempty"`
	StartPosition int `json:"startPosition,omitempty"`
}

// BuildInvoiceQuery renders f as a statement in the service's query language:
//
//	SELECT * FROM Invoice [WHERE c1 AND c2 ...] ORDER BY TxnDate DESC [STARTPOSITION m] [MAXRESULTS n]
//
// CustomerName is echoed back to the caller but not queried; the service
// cannot filter on a reference's display name.
func BuildInvoiceQuery(f InvoiceFilter) string {
	var conds []string
	eq := func(field, v string) { conds = append(conds, field+" = "+quote(v)) }
	cmp := func(field, op, v string) { conds = append(conds, field+" "+op+" "+quote(v)) }
	num := func(field, op string, v *float64) {
		if v != nil {
			cmp(field, op, strconv.FormatFloat(*v, 'f', -1, 64))
		}
	}

	if f.CustomerID != "" {
		eq("CustomerRef", f.CustomerID)
	}
	if f.Status != "" && f.Status != "All" {
		eq("PrivateNote", f.Status)
	}
	if f.DateFrom != "" {
		cmp("TxnDate", ">=", f.DateFrom)
	}
	if f.DateTo != "" {
		cmp("TxnDate", "<=", f.DateTo)
	}
	if f.DueDateFrom != "" {
		cmp("DueDate", ">=", f.DueDateFrom)
	}
	if f.DueDateTo != "" {
		cmp("DueDate", "<=", f.DueDateTo)
	}
	num("TotalAmt", ">=", f.TotalFrom)
	num("TotalAmt", "<=", f.TotalTo)
	if f.DocNumber != "" {
		conds = append(conds, "DocNumber LIKE '%"+escape(f.DocNumber)+"%'")
	}
	num("Balance", ">=", f.BalanceFrom)
	num("Balance", "<=", f.BalanceTo)

	var b strings.Builder
	b.WriteString("SELECT * FROM Invoice")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY TxnDate DESC")
	if f.StartPosition > 0 {
		b.WriteString(" STARTPOSITION ")
		b.WriteString(strconv.Itoa(f.StartPosition))
	}
	if n := ClampMaxResults(f.MaxResults); n > 0 {
		b.WriteString(" MAXRESULTS ")
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// ClampMaxResults caps n at MaxQueryResults. Non-positive means unset.
func ClampMaxResults(n int) int {
	if n <= 0 {
		return 0
	}
	if n > MaxQueryResults {
		return MaxQueryResults
	}
	return n
}

func quote(v string) string { return "'" + escape(v) + "'" }

func escape(v string) string { return strings.ReplaceAll(v, "'", "''") }
