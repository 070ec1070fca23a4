package accounting

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const serverInvoice = `{
  "Id": "129",
  "SyncToken": "3",
  "DocNumber": "1037",
  "TxnDate": "2026-01-15",
  "TotalAmt": 362.07,
  "Balance": 362.07,
  "CustomerRef": {"value": "24", "name": "Sonnenschein Family Store"},
  "EmailStatus": "NotSet",
  "CurrencyRef": {"value": "USD", "name": "United States Dollar"},
  "MetaData": {"CreateTime": "2026-01-15T10:00:00-08:00"},
  "Line": [
    {
      "Id": "1",
      "LineNum": 1,
      "Amount": 362.07,
      "DetailType": "SalesItemLineDetail",
      "SalesItemLineDetail": {"ItemRef": {"value": "4", "name": "Design"}, "TaxCodeRef": {"value": "TAX"}},
      "LinkedTxn": []
    },
    {"Amount": 362.07, "DetailType": "SubTotalLineDetail", "SubTotalLineDetail": {}}
  ]
}`

func TestInvoice_PreservesUnknownFields(t *testing.T) {
	var inv Invoice
	require.NoError(t, json.Unmarshal([]byte(serverInvoice), &inv))

	require.Equal(t, "129", inv.ID)
	require.Equal(t, "3", inv.SyncToken)
	require.Equal(t, "24", inv.CustomerRef.Value)
	require.InDelta(t, 362.07, *inv.Balance, 1e-9)
	require.Len(t, inv.Line, 2)
	require.Equal(t, "4", inv.Line[0].SalesItemLineDetail.ItemRef.Value)

	require.Contains(t, inv.Extra, "CurrencyRef")
	require.Contains(t, inv.Extra, "MetaData")
	require.NotContains(t, inv.Extra, "Id")
	require.Contains(t, inv.Line[0].Extra, "LinkedTxn")
	require.Contains(t, inv.Line[0].SalesItemLineDetail.Extra, "TaxCodeRef")
	require.Contains(t, inv.Line[1].Extra, "SubTotalLineDetail")

	out, err := json.Marshal(inv)
	require.NoError(t, err)
	require.JSONEq(t, serverInvoice, string(out))
}

func TestInvoice_TypedFieldWinsOverExtra(t *testing.T) {
	inv := Invoice{ID: "1", Extra: map[string]json.RawMessage{"Id": json.RawMessage(`"2"`), "sparse": json.RawMessage(`true`)}}
	out, err := json.Marshal(inv)
	require.NoError(t, err)
	require.JSONEq(t, `{"Id":"1","sparse":true}`, string(out))
}

func TestInvoice_Identity(t *testing.T) {
	require.Equal(t, "7", Invoice{ID: "7", DocNumber: "1001"}.Identity())
	require.Equal(t, "1001", Invoice{DocNumber: "1001"}.Identity())
}

func TestSummarize(t *testing.T) {
	var inv Invoice
	require.NoError(t, json.Unmarshal([]byte(serverInvoice), &inv))

	s := Summarize(inv)
	require.Equal(t, "129", s.ID)
	require.Equal(t, "Sonnenschein Family Store", s.CustomerName)
	require.Equal(t, "24", s.CustomerID)
	require.Equal(t, "NotSet", s.Status)
	require.Len(t, s.LineItems, 1, "subtotal line skipped")
	require.Equal(t, "Design", s.LineItems[0].ItemName)
}
