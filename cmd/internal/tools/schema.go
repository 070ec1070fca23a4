package tools

import (
	"encoding/json"

	"invoicechat/cmd/internal/accounting"

	"github.com/google/jsonschema-go/jsonschema"
)

func str(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func number(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: desc}
}

func integer(desc string, lo, hi float64) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: desc, Minimum: &lo, Maximum: &hi}
}

func object(desc string, props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Description: desc, Properties: props, Required: required}
}

func enum(desc string, values []string) *jsonschema.Schema {
	e := make([]any, len(values))
	for i, v := range values {
		e[i] = v
	}
	return &jsonschema.Schema{Type: "string", Description: desc, Enum: e}
}

func refSchema(desc, valueDesc string) *jsonschema.Schema {
	return object(desc, map[string]*jsonschema.Schema{
		"value": str(valueDesc),
		"name":  str("Display name"),
	})
}

func invoiceIDSchema() *jsonschema.Schema { return str("The Id of the invoice") }

func listInvoicesSchema() *jsonschema.Schema {
	return object("Invoice filters and pagination", map[string]*jsonschema.Schema{
		"maxResults":    integer("Maximum number of results to return (max 1000). Use 20 when paging through a large set.", 1, accounting.MaxQueryResults),
		"startPosition": integer("1-based starting position for pagination (default 1)", 1, 1e9),
		"customerId":    str("Filter by customer ID"),
		"customerName":  str("Customer name the user mentioned (echoed back, not queried)"),
		"status":        enum("Filter by invoice status", accounting.InvoiceStatuses),
		"dateFrom":      str("Transaction date from (YYYY-MM-DD)"),
		"dateTo":        str("Transaction date to (YYYY-MM-DD)"),
		"dueDateFrom":   str("Due date from (YYYY-MM-DD)"),
		"dueDateTo":     str("Due date to (YYYY-MM-DD)"),
		"totalFrom":     number("Minimum total amount"),
		"totalTo":       number("Maximum total amount"),
		"docNumber":     str("Document number (partial match)"),
		"balanceFrom":   number("Minimum balance"),
		"balanceTo":     number("Maximum balance"),
	})
}

func byIDSchema() *jsonschema.Schema {
	return object("", map[string]*jsonschema.Schema{"invoiceId": invoiceIDSchema()}, "invoiceId")
}

func lineSchema() *jsonschema.Schema {
	return object("Invoice line", map[string]*jsonschema.Schema{
		"DetailType":  str(`Line type, e.g. "SalesItemLineDetail"`),
		"Amount":      number("Line amount"),
		"Description": str("Line description"),
		"SalesItemLineDetail": object("Required when DetailType is SalesItemLineDetail", map[string]*jsonschema.Schema{
			"ItemRef":   refSchema("Item reference", "Item ID"),
			"Qty":       number("Quantity"),
			"UnitPrice": number("Unit price"),
		}),
	})
}

func createInvoiceSchema() *jsonschema.Schema {
	minOne := 1
	lines := &jsonschema.Schema{Type: "array", Description: "At least one line item is required", Items: lineSchema(), MinItems: &minOne}
	return object("", map[string]*jsonschema.Schema{
		"invoice": object("Invoice with required CustomerRef and Line", map[string]*jsonschema.Schema{
			"CustomerRef": refSchema("Customer reference (required)", "Customer ID"),
			"Line":        lines,
			"DocNumber":   str("Document number"),
			"TxnDate":     str("Transaction date (YYYY-MM-DD)"),
			"DueDate":     str("Due date (YYYY-MM-DD)"),
			"PrivateNote": str("Private note"),
			"Memo":        str("Public memo shown to the customer"),
			"BillEmail":   object("Billing email", map[string]*jsonschema.Schema{"Address": str("Email address")}),
		}, "CustomerRef", "Line"),
	}, "invoice")
}

func updateInvoiceSchema() *jsonschema.Schema {
	return object("", map[string]*jsonschema.Schema{
		"invoiceId": invoiceIDSchema(),
		"invoice": object("Full invoice with changes applied. Must include Id and the latest SyncToken.", map[string]*jsonschema.Schema{
			"Id":        str("Invoice Id, must match invoiceId"),
			"SyncToken": str("Current SyncToken from the latest getInvoice"),
		}, "SyncToken"),
	}, "invoiceId", "invoice")
}

func sendInvoiceSchema() *jsonschema.Schema {
	return object("", map[string]*jsonschema.Schema{
		"invoiceId": invoiceIDSchema(),
		"email":     str("Recipient email address"),
	}, "invoiceId", "email")
}

// schemaMap renders s as a plain JSON object for model drivers.
func schemaMap(s *jsonschema.Schema) map[string]any {
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m
}
