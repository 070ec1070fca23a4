package accounting

// Summary is the flattened invoice view served by the REST endpoints.
type Summary struct {
	ID              string        `json:"id"`
	DocNumber       string        `json:"docNumber,omitempty"`
	TotalAmount     *float64      `json:"totalAmount,omitempty"`
	Balance         *float64      `json:"balance,omitempty"`
	TransactionDate string        `json:"transactionDate,omitempty"`
	DueDate         string        `json:"dueDate,omitempty"`
	CustomerName    string        `json:"customerName,omitempty"`
	CustomerID      string        `json:"customerId,omitempty"`
	Status          string        `json:"status,omitempty"`
	LineItems       []LineSummary `json:"lineItems"`
	BillEmail       string        `json:"billEmail,omitempty"`
	Memo            string        `json:"memo,omitempty"`
	PrivateNote     string        `json:"privateNote,omitempty"`
}

// LineSummary is one line in a Summary.
type LineSummary struct {
	Description string   `json:"description,omitempty"`
	Amount      float64  `json:"amount"`
	DetailType  string   `json:"detailType,omitempty"`
	ItemName    string   `json:"itemName,omitempty"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unitPrice,omitempty"`
}

// Summarize projects inv into a Summary. Subtotal lines are skipped.
func Summarize(inv Invoice) Summary {
	s := Summary{
		ID:              inv.ID,
		DocNumber:       inv.DocNumber,
		TotalAmount:     inv.TotalAmt,
		Balance:         inv.Balance,
		TransactionDate: inv.TxnDate,
		DueDate:         inv.DueDate,
		Status:          inv.EmailStatus,
		PrivateNote:     inv.PrivateNote,
		LineItems:       []LineSummary{},
	}
	if inv.CustomerRef != nil {
		s.CustomerName = inv.CustomerRef.Name
		s.CustomerID = inv.CustomerRef.Value
	}
	if inv.BillEmail != nil {
		s.BillEmail = inv.BillEmail.Address
	}
	if inv.CustomerMemo != nil {
		s.Memo = inv.CustomerMemo.Value
	}
	for _, l := range inv.Line {
		if l.DetailType == "SubTotalLineDetail" {
			continue
		}
		ls := LineSummary{Description: l.Description, Amount: l.Amount, DetailType: l.DetailType}
		if d := l.SalesItemLineDetail; d != nil {
			ls.Quantity, ls.UnitPrice = d.Qty, d.UnitPrice
			if d.ItemRef != nil {
				ls.ItemName = d.ItemRef.Name
			}
		}
		s.LineItems = append(s.LineItems, ls)
	}
	return s
}
