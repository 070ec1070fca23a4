package app

import "testing"

// The startup log advertises where the REST and websocket chat surfaces answer.
func TestStartupURLs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		addr    string
		wantURL string
		wantWS  string
	}{
		{addr: "0.0.0.0:8080", wantURL: "http://127.0.0.1:8080", wantWS: "ws://127.0.0.1:8080/ws/chat"},
		{addr: ":3001", wantURL: "http://127.0.0.1:3001", wantWS: "ws://127.0.0.1:3001/ws/chat"},
		{addr: " [::]:8443 ", wantURL: "http://127.0.0.1:8443", wantWS: "ws://127.0.0.1:8443/ws/chat"},
		{addr: "chat.internal:8080", wantURL: "http://chat.internal:8080", wantWS: "ws://chat.internal:8080/ws/chat"},
		{addr: "invoicechat", wantURL: "http://invoicechat", wantWS: "ws://invoicechat/ws/chat"},
	}

	for _, tc := range cases {
		t.Run(tc.addr, func(t *testing.T) {
			t.Parallel()
			base := runtimeBaseURL(tc.addr)
			if base != tc.wantURL {
				t.Fatalf("url for %q = %q want %q", tc.addr, base, tc.wantURL)
			}
			if ws := wsBaseURL(base) + "/ws/chat"; ws != tc.wantWS {
				t.Fatalf("ws url for %q = %q want %q", tc.addr, ws, tc.wantWS)
			}
		})
	}
}

func TestWSBaseURL_BehindTLS(t *testing.T) {
	if got := wsBaseURL("https://invoices.example.com"); got != "wss://invoices.example.com" {
		t.Fatalf("wsBaseURL=%q", got)
	}
}
