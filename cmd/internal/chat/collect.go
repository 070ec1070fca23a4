package chat

import (
	"invoicechat/cmd/internal/accounting"
	"invoicechat/cmd/internal/tools"
)

// collection accumulates invoices across steps. An id seen again replaces the
// stored invoice but keeps the position where it first appeared.
type collection struct {
	order []string
	byID  map[string]accounting.Invoice
}

func newCollection() *collection {
	return &collection{byID: map[string]accounting.Invoice{}}
}

func (c *collection) addResult(r tools.Result) {
	if !r.OK() {
		return
	}
	carrier, ok := r.Value.(tools.InvoiceCarrier)
	if !ok {
		return
	}
	for _, inv := range carrier.CollectInvoices() {
		c.add(inv)
	}
}

func (c *collection) add(inv accounting.Invoice) {
	id := inv.Identity()
	if id == "" {
		return
	}
	if _, seen := c.byID[id]; !seen {
		c.order = append(c.order, id)
	}
	c.byID[id] = inv
}

func (c *collection) invoices() []accounting.Invoice {
	out := make([]accounting.Invoice, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}
