package accounting

import (
	"encoding/json"
)

// Ref points at another object (customer, item, ...).
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
}

// EmailAddress is the service's email wrapper.
type EmailAddress struct {
	Address string `json:"Address,omitempty"`
}

// MemoRef is the customer-facing memo.
type MemoRef struct {
	Value string `json:"value"`
}

// Invoice is the typed core this system inspects and validates. Every other
// field the service sends is kept in Extra and written back as received.
type Invoice struct {
	ID           string        `json:"Id,omitempty"`
	SyncToken    string        `json:"SyncToken,omitempty"`
	DocNumber    string        `json:"DocNumber,omitempty"`
	TxnDate      string        `json:"TxnDate,omitempty"`
	DueDate      string        `json:"DueDate,omitempty"`
	TotalAmt     *float64      `json:"TotalAmt,omitempty"`
	Balance      *float64      `json:"Balance,omitempty"`
	CustomerRef  *Ref          `json:"CustomerRef,omitempty"`
	Line         []Line        `json:"Line,omitempty"`
	BillEmail    *EmailAddress `json:"BillEmail,omitempty"`
	PrivateNote  string        `json:"PrivateNote,omitempty"`
	CustomerMemo *MemoRef      `json:"CustomerMemo,omitempty"`
	EmailStatus  string        `json:"EmailStatus,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var invoiceKeys = keySet("Id", "SyncToken", "DocNumber", "TxnDate", "DueDate", "TotalAmt", "Balance",
	"CustomerRef", "Line", "BillEmail", "PrivateNote", "CustomerMemo", "EmailStatus")

// Identity is the dedupe key: Id, falling back to DocNumber.
func (inv Invoice) Identity() string {
	if inv.ID != "" {
		return inv.ID
	}
	return inv.DocNumber
}

// Reference returns the {id, version} pair a mutation must carry.
func (inv Invoice) Reference() Reference {
	return Reference{ID: inv.ID, SyncToken: inv.SyncToken}
}

// Reference identifies one revision of an object.
type Reference struct {
	ID        string `json:"Id"`
	SyncToken string `json:"SyncToken"`
}

// MarshalJSON writes the typed core merged with Extra.
func (inv Invoice) MarshalJSON() ([]byte, error) {
	type alias Invoice
	return marshalWithExtra(alias(inv), inv.Extra)
}

// UnmarshalJSON fills the typed core and keeps every other key in Extra.
func (inv *Invoice) UnmarshalJSON(data []byte) error {
	type alias Invoice
	var a alias
	extra, err := unmarshalWithExtra(data, &a, invoiceKeys)
	if err != nil {
		return err
	}
	*inv = Invoice(a)
	inv.Extra = extra
	return nil
}

// Line is one invoice line.
type Line struct {
	ID                  string               `json:"Id,omitempty"`
	LineNum             *int                 `json:"LineNum,omitempty"`
	Description         string               `json:"Description,omitempty"`
	Amount              float64              `json:"Amount"`
	DetailType          string               `json:"DetailType,omitempty"`
	SalesItemLineDetail *SalesItemLineDetail `json:"SalesItemLineDetail,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// DetailTypeSalesItem is the line detail type that requires an item reference.
const DetailTypeSalesItem = "SalesItemLineDetail"

var lineKeys = keySet("Id", "LineNum", "Description", "Amount", "DetailType", "SalesItemLineDetail")

// MarshalJSON writes the typed core merged with Extra.
func (l Line) MarshalJSON() ([]byte, error) {
	type alias Line
	return marshalWithExtra(alias(l), l.Extra)
}

// UnmarshalJSON fills the typed core and keeps every other key in Extra.
func (l *Line) UnmarshalJSON(data []byte) error {
	type alias Line
	var a alias
	extra, err := unmarshalWithExtra(data, &a, lineKeys)
	if err != nil {
		return err
	}
	*l = Line(a)
	l.Extra = extra
	return nil
}

// SalesItemLineDetail describes a product or service line.
type SalesItemLineDetail struct {
	ItemRef   *Ref     `json:"ItemRef,omitempty"`
	Qty       *float64 `json:"Qty,omitempty"`
	UnitPrice *float64 `json:"UnitPrice,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var salesDetailKeys = keySet("ItemRef", "Qty", "UnitPrice")

// MarshalJSON writes the typed core merged with Extra.
func (d SalesItemLineDetail) MarshalJSON() ([]byte, error) {
	type alias SalesItemLineDetail
	return marshalWithExtra(alias(d), d.Extra)
}

// UnmarshalJSON fills the typed core and keeps every other key in Extra.
func (d *SalesItemLineDetail) UnmarshalJSON(data []byte) error {
	type alias SalesItemLineDetail
	var a alias
	extra, err := unmarshalWithExtra(data, &a, salesDetailKeys)
	if err != nil {
		return err
	}
	*d = SalesItemLineDetail(a)
	d.Extra = extra
	return nil
}

func keySet(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func unmarshalWithExtra(data []byte, typed any, known map[string]struct{}) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, typed); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func marshalWithExtra(typed any, extra map[string]json.RawMessage) ([]byte, error) {
	raw, err := json.Marshal(typed)
	if err != nil || len(extra) == 0 {
		return raw, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}
