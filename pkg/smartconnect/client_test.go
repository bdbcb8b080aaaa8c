package smartconnect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *SmartConnect {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSmartConnect(Config{
		APIKey:         "key",
		RootURL:        srv.URL,
		ScripMasterURL: srv.URL + "/scrips.json",
		ClientLocalIP:  "10.0.0.1",
		ClientMAC:      "aa:bb:cc:dd:ee:ff",
	})
}

func TestGenerateSession_StoresTokens(t *testing.T) {
	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != string(routeLogin) {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["totp"] != "123456" {
			t.Errorf("totp = %q", body["totp"])
		}
		if r.Header.Get("X-PrivateKey") != "key" {
			t.Errorf("missing api key header")
		}
		w.Write([]byte(`{"status":true,"data":{"jwtToken":"jwt-1","refreshToken":"rt-1","feedToken":"ft-1"}}`))
	})

	s, err := sc.GenerateSession(context.Background(), "C123", "pw", "123456")
	if err != nil {
		t.Fatalf("GenerateSession: %v", err)
	}
	if s.JWTToken != "jwt-1" || sc.AccessToken() != "jwt-1" {
		t.Errorf("access token not stored: %+v", s)
	}
	if sc.FeedToken() != "ft-1" || sc.UserID() != "C123" {
		t.Errorf("feed token/user not stored")
	}
}

func TestDoRequest_SendsBearer(t *testing.T) {
	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"status":true,"data":{"availablecash":"1000.50"}}`))
	})
	sc.SetAccessToken("tok")

	res, err := sc.RMSLimit(context.Background())
	if err != nil {
		t.Fatalf("RMSLimit: %v", err)
	}
	data := res["data"].(map[string]any)
	if data["availablecash"] != "1000.50" {
		t.Errorf("availablecash = %v", data["availablecash"])
	}
}

func TestDoRequest_StatusFalseIsAPIError(t *testing.T) {
	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":false,"message":"Invalid Token","errorcode":"AG8001","data":null}`))
	})
	expired := 0
	sc.SessionExpiryHook = func() { expired++ }

	_, err := sc.Position(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.ErrorCode != "AG8001" {
		t.Errorf("ErrorCode = %q", apiErr.ErrorCode)
	}
	if !errors.Is(err, ErrTokenExpired) {
		t.Error("AG8001 should match ErrTokenExpired")
	}
	if expired != 1 {
		t.Errorf("expiry hook called %d times", expired)
	}
}

func TestDoRequest_HTTPErrorWithoutJSON(t *testing.T) {
	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	_, err := sc.RMSLimit(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
}

func TestPlaceOrder_ReturnsOrderID(t *testing.T) {
	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["price"]; ok {
			t.Error("nil params should be dropped")
		}
		w.Write([]byte(`{"status":true,"data":{"orderid":"250327000001"}}`))
	})
	id, err := sc.PlaceOrder(context.Background(), map[string]any{"tradingsymbol": "X", "price": nil})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id != "250327000001" {
		t.Errorf("order id = %q", id)
	}
}

func TestScripMaster_Decodes(t *testing.T) {
	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scrips.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[{"token":"43152","symbol":"NIFTY27MAR2522600CE","name":"NIFTY","expiry":"27MAR2025","strike":"2260000.000000","lotsize":"75","instrumenttype":"OPTIDX","exch_seg":"NFO","tick_size":"5.000000"}]`))
	})
	recs, err := sc.ScripMaster(context.Background())
	if err != nil {
		t.Fatalf("ScripMaster: %v", err)
	}
	if len(recs) != 1 || recs[0].Strike != "2260000.000000" || recs[0].ExchSeg != "NFO" {
		t.Errorf("unexpected records: %+v", recs)
	}
}
