// Package smartconnect is a small client for the Angel One SmartAPI REST
// interface. It covers session login and token renewal, account limits,
// historical candles, order placement, the position book, market quotes and
// the public instrument master.
//
// Usage example:
//
//	sc := smartconnect.NewSmartConnect(smartconnect.Config{APIKey: "your_api_key"})
//	sess, err := sc.GenerateSession(ctx, "CLIENTID", "PASSWORD", "TOTP")
//	if err != nil { log.Fatal(err) }
//	orderID, err := sc.PlaceOrder(ctx, map[string]any{
//	    "variety": "NORMAL", "tradingsymbol": "NIFTY27MAR2522600CE", "symboltoken": "43152",
//	    "transactiontype": "BUY", "exchange": "NFO", "ordertype": "MARKET",
//	    "producttype": "INTRADAY", "duration": "DAY", "quantity": "75",
//	})
package smartconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ---- Config & client ----

type Config struct {
	APIKey      string
	AccessToken string

	RootURL        string        // default: https://apiconnect.angelone.in
	ScripMasterURL string        // default: Angel's public OpenAPIScripMaster.json
	Timeout        time.Duration // default: 7s
	Debug          bool

	ClientPublicIP string // default 106.193.147.98
	ClientLocalIP  string // default resolved, else 127.0.0.1
	ClientMAC      string // default from interface MAC
}

type SmartConnect struct {
	apiKey         string
	rootURL        string
	scripMasterURL string
	debug          bool
	httpClient     *http.Client

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
	userID       string

	// SessionExpiryHook is called when the API rejects the access token.
	SessionExpiryHook func()
}

const (
	defaultRoot        = "https://apiconnect.angelone.in"
	defaultScripMaster = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"
)

type route string

// Only the endpoints the trader calls are mapped.
const (
	routeLogin   route = "/rest/auth/angelbroking/user/v1/loginByPassword"
	routeLogout  route = "/rest/secure/angelbroking/user/v1/logout"
	routeRefresh route = "/rest/auth/angelbroking/jwt/v1/generateTokens"

	routePlaceOrder route = "/rest/secure/angelbroking/order/v1/placeOrder"
	routeRMS        route = "/rest/secure/angelbroking/user/v1/getRMS"
	routePositions  route = "/rest/secure/angelbroking/order/v1/getPosition"

	routeCandles route = "/rest/secure/angelbroking/historical/v1/getCandleData"
	routeQuote   route = "/rest/secure/angelbroking/market/v1/quote"
)

// APIError is a SmartAPI response that reported failure.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("smartapi: %s: %s (http %d)", e.ErrorCode, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("smartapi: %s (http %d)", e.Message, e.StatusCode)
}

// ErrTokenExpired is matched by errors.Is when the access token was rejected.
var ErrTokenExpired = errors.New("smartapi: access token expired")

func (e *APIError) Is(target error) bool {
	return target == ErrTokenExpired &&
		(e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusUnauthorized || e.ErrorCode == "AG8001")
}

// localIPv4 returns the first non-loopback IPv4 address.
func localIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, address := range addrs {
		// Check if it's an IP address and not a loopback
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no local IP found")
}

// NewSmartConnect initializes the client. It makes no network calls.
func NewSmartConnect(cfg Config) *SmartConnect {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.ScripMasterURL == "" {
		cfg.ScripMasterURL = defaultScripMaster
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.ClientLocalIP == "" {
		ip, err := localIPv4()
		if err != nil {
			slog.Debug("smartconnect: local IP lookup failed", "error", err)
		}
		cfg.ClientLocalIP = firstNonEmpty(ip, "127.0.0.1")
	}
	cfg.ClientPublicIP = firstNonEmpty(cfg.ClientPublicIP, "106.193.147.98")
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = macFallback()
	}

	return &SmartConnect{
		apiKey:         cfg.APIKey,
		accessToken:    cfg.AccessToken,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		scripMasterURL: cfg.ScripMasterURL,
		debug:          cfg.Debug,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func macFallback() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Helpers ----

func (sc *SmartConnect) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", sc.clientLocalIP)
	h.Set("X-ClientPublicIP", sc.clientPublicIP)
	h.Set("X-MACAddress", sc.clientMAC)
	h.Set("X-PrivateKey", sc.apiKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	if tok := sc.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

func (sc *SmartConnect) doRequest(ctx context.Context, method string, rt route, params map[string]any) (map[string]any, error) {
	reqURL := sc.rootURL + string(rt)

	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, toString(v))
			}
			reqURL += "?" + q.Encode()
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", rt, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header = sc.requestHeaders()

	if sc.debug {
		slog.Debug("smartconnect request", "method", method, "route", rt)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rt, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", rt, err)
	}

	if sc.debug {
		slog.Debug("smartconnect response", "route", rt, "code", resp.StatusCode, "bytes", len(raw))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return nil, fmt.Errorf("couldn't parse %s response: %w", rt, err)
	}

	// {"error_type": "TokenException", "message": "..."}
	if et, ok := out["error_type"].(string); ok && et != "" {
		msg, _ := out["message"].(string)
		apiErr := &APIError{StatusCode: resp.StatusCode, ErrorCode: et, Message: msg}
		sc.maybeExpired(apiErr)
		return out, apiErr
	}
	if st, ok := out["status"].(bool); (ok && !st) || resp.StatusCode >= 400 {
		msg, _ := out["message"].(string)
		code, _ := out["errorcode"].(string)
		apiErr := &APIError{StatusCode: resp.StatusCode, ErrorCode: code, Message: msg}
		sc.maybeExpired(apiErr)
		return out, apiErr
	}
	return out, nil
}

func (sc *SmartConnect) maybeExpired(err *APIError) {
	if sc.SessionExpiryHook != nil && errors.Is(err, ErrTokenExpired) {
		sc.SessionExpiryHook()
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func (sc *SmartConnect) get(ctx context.Context, rt route, params map[string]any) (map[string]any, error) {
	return sc.doRequest(ctx, http.MethodGet, rt, params)
}

func (sc *SmartConnect) post(ctx context.Context, rt route, params map[string]any) (map[string]any, error) {
	return sc.doRequest(ctx, http.MethodPost, rt, params)
}

// ---- Setters/Getters ----

func (sc *SmartConnect) SetAccessToken(t string) {
	sc.mu.Lock()
	sc.accessToken = t
	sc.mu.Unlock()
}

func (sc *SmartConnect) AccessToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.accessToken
}

func (sc *SmartConnect) FeedToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.feedToken
}

func (sc *SmartConnect) UserID() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.userID
}

// ---- Session ----

// Session is the token set returned by a successful login.
type Session struct {
	ClientCode   string
	JWTToken     string
	RefreshToken string
	FeedToken    string
}

// GenerateSession logs in with client code, password and a current TOTP code
// and stores the returned tokens on the client.
func (sc *SmartConnect) GenerateSession(ctx context.Context, clientCode, password, totp string) (Session, error) {
	res, err := sc.post(ctx, routeLogin, map[string]any{"clientcode": clientCode, "password": password, "totp": totp})
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return Session{}, errors.New("login: unexpected response format")
	}

	s := Session{ClientCode: clientCode}
	s.JWTToken, _ = data["jwtToken"].(string)
	s.RefreshToken, _ = data["refreshToken"].(string)
	s.FeedToken, _ = data["feedToken"].(string)
	if s.JWTToken == "" {
		return Session{}, errors.New("login: response carried no jwtToken")
	}

	sc.mu.Lock()
	sc.accessToken = s.JWTToken
	sc.refreshToken = s.RefreshToken
	sc.feedToken = s.FeedToken
	sc.userID = clientCode
	sc.mu.Unlock()
	return s, nil
}

// RenewAccessToken exchanges the refresh token for a new access token.
func (sc *SmartConnect) RenewAccessToken(ctx context.Context) error {
	sc.mu.RLock()
	rt := sc.refreshToken
	sc.mu.RUnlock()
	if rt == "" {
		return errors.New("renew token: no refresh token")
	}
	res, err := sc.post(ctx, routeRefresh, map[string]any{"refreshToken": rt})
	if err != nil {
		return fmt.Errorf("renew token: %w", err)
	}
	data, _ := res["data"].(map[string]any)
	jwt, _ := data["jwtToken"].(string)
	if jwt == "" {
		return errors.New("renew token: response carried no jwtToken")
	}
	sc.mu.Lock()
	sc.accessToken = jwt
	if nrt, _ := data["refreshToken"].(string); nrt != "" {
		sc.refreshToken = nrt
	}
	if ft, _ := data["feedToken"].(string); ft != "" {
		sc.feedToken = ft
	}
	sc.mu.Unlock()
	return nil
}

// TerminateSession logs the current user out.
func (sc *SmartConnect) TerminateSession(ctx context.Context) error {
	_, err := sc.post(ctx, routeLogout, map[string]any{"clientcode": sc.UserID()})
	return err
}

// ---- Orders & account ----

// PlaceOrder submits an order and returns the broker order ID.
func (sc *SmartConnect) PlaceOrder(ctx context.Context, params map[string]any) (string, error) {
	cleanNil(params)
	res, err := sc.post(ctx, routePlaceOrder, params)
	if err != nil {
		return "", err
	}
	if data, ok := res["data"].(map[string]any); ok {
		if oid, _ := data["orderid"].(string); oid != "" {
			return oid, nil
		}
	}
	return "", fmt.Errorf("place order: invalid response format: %v", res)
}

// RMSLimit returns the account's risk limits, including availablecash.
func (sc *SmartConnect) RMSLimit(ctx context.Context) (map[string]any, error) {
	return sc.get(ctx, routeRMS, nil)
}

// Position returns the day's net position book.
func (sc *SmartConnect) Position(ctx context.Context) (map[string]any, error) {
	return sc.get(ctx, routePositions, nil)
}

// ---- Market data ----

func (sc *SmartConnect) GetCandleData(ctx context.Context, params map[string]any) (map[string]any, error) {
	cleanNil(params)
	return sc.post(ctx, routeCandles, params)
}

// GetMarketData fetches quotes. exchangeTokens maps exchange to symbol tokens,
// e.g. {"NFO": ["43152", "43153"]}.
func (sc *SmartConnect) GetMarketData(ctx context.Context, mode string, exchangeTokens map[string][]string) (map[string]any, error) {
	return sc.post(ctx, routeQuote, map[string]any{"mode": mode, "exchangeTokens": exchangeTokens})
}

// ScripRecord is one row of the public instrument master. Numeric fields are
// strings on the wire; strike is in paise.
type ScripRecord struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
	TickSize       string `json:"tick_size"`
}

// ScripMaster downloads the full instrument master. It needs no session.
func (sc *SmartConnect) ScripMaster(ctx context.Context) ([]ScripRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.scripMasterURL, nil)
	if err != nil {
		return nil, err
	}
	// the file is tens of MB; don't apply the short API timeout
	client := &http.Client{Transport: sc.httpClient.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrip master: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "scrip master download failed"}
	}
	var out []ScripRecord
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("scrip master: decode: %w", err)
	}
	return out, nil
}

// ---- Utils ----

func cleanNil(m map[string]any) {
	for k, v := range m {
		if v == nil {
			delete(m, k)
		}
	}
}
