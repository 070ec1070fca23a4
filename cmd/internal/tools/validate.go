package tools

import (
	"encoding/json"
	"net/mail"
	"strings"

	"invoicechat/cmd/internal/accounting"
)

// invoiceArg returns the "invoice" object from args. When args has no such
// key but looks like an invoice itself, args is used directly.
func invoiceArg(args map[string]any) map[string]any {
	if inv, ok := args["invoice"].(map[string]any); ok {
		return inv
	}
	if _, ok := args["invoice"]; ok {
		return nil
	}
	if _, ok := args["CustomerRef"]; ok {
		return args
	}
	if _, ok := args["Line"]; ok {
		return args
	}
	return map[string]any{}
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func refValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m["value"]
}

// checkCreate enforces the structural rules for a new invoice and reports the
// first violation.
func checkCreate(args map[string]any) *ToolError {
	inv := invoiceArg(args)
	if inv == nil {
		return Validation("invoice must be an object")
	}
	if !nonEmptyString(refValue(inv["CustomerRef"])) {
		return Validation("CustomerRef.value is required")
	}
	lines, _ := inv["Line"].([]any)
	if len(lines) == 0 {
		return Validation("At least one Line item is required")
	}
	for i, raw := range lines {
		n := i + 1
		line, ok := raw.(map[string]any)
		if !ok {
			return Validation("Line %d: must be an object", n)
		}
		if !nonEmptyString(line["DetailType"]) {
			return Validation("Line %d: DetailType is required", n)
		}
		if _, ok := line["Amount"].(float64); !ok {
			return Validation("Line %d: Amount must be a number", n)
		}
		if line["DetailType"] == accounting.DetailTypeSalesItem {
			detail, _ := line["SalesItemLineDetail"].(map[string]any)
			if !nonEmptyString(refValue(detail["ItemRef"])) {
				return Validation("Line %d: ItemRef.value is required for SalesItemLineDetail", n)
			}
		}
	}
	return nil
}

// checkUpdate requires a matching id and a version token.
func checkUpdate(args map[string]any) *ToolError {
	id, _ := args["invoiceId"].(string)
	if strings.TrimSpace(id) == "" {
		return Validation("invoiceId is required")
	}
	inv, ok := args["invoice"].(map[string]any)
	if !ok {
		return Validation("invoice must be an object with Id and SyncToken")
	}
	if !nonEmptyString(inv["SyncToken"]) {
		return Validation("SyncToken is required for update")
	}
	if v, present := inv["Id"]; present && v != id {
		return Validation("invoice.Id must match invoiceId")
	}
	return nil
}

func checkID(args map[string]any) *ToolError {
	if !nonEmptyString(args["invoiceId"]) {
		return Validation("invoiceId is required")
	}
	return nil
}

func checkSend(args map[string]any) *ToolError {
	if te := checkID(args); te != nil {
		return te
	}
	email, _ := args["email"].(string)
	if !ValidEmail(email) {
		return Validation("email must be a valid email address")
	}
	return nil
}

// ValidEmail reports whether s is a bare addr-spec like "a@b.co".
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// decodeInvoice converts a validated invoice object into the typed model.
// A top-level "Memo" string becomes CustomerMemo.
func decodeInvoice(inv map[string]any) (accounting.Invoice, error) {
	if memo, ok := inv["Memo"].(string); ok {
		if _, set := inv["CustomerMemo"]; !set && memo != "" {
			inv["CustomerMemo"] = map[string]any{"value": memo}
		}
		delete(inv, "Memo")
	}
	raw, err := json.Marshal(inv)
	if err != nil {
		return accounting.Invoice{}, err
	}
	var out accounting.Invoice
	if err := json.Unmarshal(raw, &out); err != nil {
		return accounting.Invoice{}, err
	}
	return out, nil
}
