package tools

import (
	"context"
	"encoding/json"

	"invoicechat/cmd/internal/accounting"
)

func definitions() []*tool {
	return []*tool{
		{
			name:        ListInvoices,
			op:          "fetch invoices",
			description: "List invoices with optional filtering, newest transaction date first. For large or unbounded requests page with maxResults 20 and increasing startPosition.",
			schema:      listInvoicesSchema(),
			run:         runList,
		},
		{
			name:        GetInvoice,
			op:          "get invoice",
			description: "Get details of a specific invoice by ID, including its current SyncToken.",
			schema:      byIDSchema(),
			prepare:     passThrough(checkID),
			run:         runGet,
		},
		{
			name:        CreateInvoice,
			op:          "create invoice",
			description: "Create a new invoice. REQUIRED: CustomerRef.value (Customer ID) and at least one Line item. Line items must include DetailType and a numeric Amount; SalesItemLineDetail lines need SalesItemLineDetail.ItemRef.value.",
			schema:      createInvoiceSchema(),
			prepare:     prepareCreate,
			run:         runCreate,
		},
		{
			name:        UpdateInvoice,
			op:          "update invoice",
			description: "Update an existing invoice. Always call getInvoice first and send the full invoice with Id and the latest SyncToken. Preserve existing Line items unless told otherwise. If the SyncToken is stale, call getInvoice again and retry with the new token.",
			schema:      updateInvoiceSchema(),
			prepare:     prepareUpdate,
			run:         runUpdate,
		},
		{
			name:        DeleteInvoice,
			op:          "delete invoice",
			description: "Delete an invoice by ID.",
			schema:      byIDSchema(),
			prepare:     passThrough(checkID),
			run:         runDelete,
		},
		{
			name:        SendInvoicePdf,
			op:          "send invoice",
			description: "Email the invoice PDF to the given address.",
			schema:      sendInvoiceSchema(),
			prepare:     passThrough(checkSend),
			run:         runSend,
		},
	}
}

func passThrough(check func(map[string]any) *ToolError) func(map[string]any) (map[string]any, *ToolError) {
	return func(args map[string]any) (map[string]any, *ToolError) {
		return args, check(args)
	}
}

func prepareCreate(args map[string]any) (map[string]any, *ToolError) {
	if te := checkCreate(args); te != nil {
		return nil, te
	}
	return map[string]any{"invoice": invoiceArg(args)}, nil
}

func prepareUpdate(args map[string]any) (map[string]any, *ToolError) {
	if te := checkUpdate(args); te != nil {
		return nil, te
	}
	inv := args["invoice"].(map[string]any)
	inv["Id"] = args["invoiceId"]
	return args, nil
}

type idArgs struct {
	InvoiceID string `json:"invoiceId"`
}

func runList(ctx context.Context, api Invoices, raw json.RawMessage) (any, error) {
	var f accounting.InvoiceFilter
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, Validation("filters: %v", err)
	}
	res, err := api.QueryInvoices(ctx, f)
	if err != nil {
		return nil, err
	}
	return ListResult{
		Invoices:      res.Invoices,
		TotalCount:    res.TotalCount,
		StartPosition: res.StartPosition,
		MaxResults:    res.MaxResults,
		Query:         res.Query,
		Filters:       f,
	}, nil
}

func runGet(ctx context.Context, api Invoices, raw json.RawMessage) (any, error) {
	var a idArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, Validation("%v", err)
	}
	inv, err := api.GetInvoice(ctx, a.InvoiceID)
	if err != nil {
		return nil, err
	}
	return InvoiceResult{inv}, nil
}

func runCreate(ctx context.Context, api Invoices, raw json.RawMessage) (any, error) {
	var a struct {
		Invoice map[string]any `json:"invoice"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, Validation("%v", err)
	}
	inv, err := decodeInvoice(a.Invoice)
	if err != nil {
		return nil, Validation("invoice: %v", err)
	}
	created, err := api.CreateInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}
	return InvoiceResult{created}, nil
}

func runUpdate(ctx context.Context, api Invoices, raw json.RawMessage) (any, error) {
	var a struct {
		Invoice map[string]any `json:"invoice"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, Validation("%v", err)
	}
	inv, err := decodeInvoice(a.Invoice)
	if err != nil {
		return nil, Validation("invoice: %v", err)
	}
	updated, err := api.UpdateInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}
	return InvoiceResult{updated}, nil
}

func runDelete(ctx context.Context, api Invoices, raw json.RawMessage) (any, error) {
	var a idArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, Validation("%v", err)
	}
	res, err := api.DeleteInvoice(ctx, a.InvoiceID)
	if err != nil {
		return nil, err
	}
	return DeleteResult{Message: "Invoice deleted successfully", Result: res}, nil
}

func runSend(ctx context.Context, api Invoices, raw json.RawMessage) (any, error) {
	var a struct {
		InvoiceID string `json:"invoiceId"`
		Email     string `json:"email"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, Validation("%v", err)
	}
	inv, err := api.SendInvoice(ctx, a.InvoiceID, a.Email)
	if err != nil {
		return nil, err
	}
	return SendResult{Message: "Invoice sent successfully", Invoice: inv}, nil
}
