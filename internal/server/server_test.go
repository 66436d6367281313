package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"atelier/internal/config"
	"atelier/internal/db"
	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/engine/auth"
	"atelier/internal/logging"
	"atelier/internal/migrate"
	"atelier/internal/payments/paymentstest"
)

const (
	testSecret        = "test-jwt-secret"
	testWebhookSecret = "whsec_test"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), &paymentstest.Rail{}, logging.Discard())
	handler, err := New(Config{
		Engine:        e,
		BasePath:      "/v1",
		Auth:          AuthConfig{JWTSecret: testSecret, DevLogin: true},
		WebhookSecret: testWebhookSecret,
		Logger:        logging.Discard(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func token(t *testing.T, actorID, brandID string, roles ...string) map[string]string {
	t.Helper()
	tok, err := SignToken(testSecret, actorID, brandID, roles, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestRequiresBearerToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/artisans", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data); got.Code != "unauthorized" {
		t.Fatalf("unexpected error code %q", got.Code)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/artisans", nil, map[string]string{"Authorization": "Bearer garbage"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data); got.Code != "invalid_credentials" {
		t.Fatalf("unexpected error code %q", got.Code)
	}
}

func TestMeListsPermissions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, token(t, "insp-1", "", auth.RoleInspector))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "insp-1" || !contains(me.Permissions, auth.PermQCWrite) || contains(me.Permissions, auth.PermPayoutWrite) {
		t.Fatalf("unexpected principal %+v", me)
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "brand-user",
		"brand_id": "brand-1",
		"roles":    []string{auth.RoleBrand},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"brand_id":"brand-1"`) {
		t.Fatalf("me with dev token: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "x",
		"roles":    []string{"superuser"},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d: %s", res.StatusCode, string(data))
	}
}

func TestForbiddenPermissionAndBrand(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/payouts", map[string]any{
		"artisan_id": "a1",
	}, token(t, "brand-user", "brand-1", auth.RoleBrand))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	got := decodeError(t, data)
	if got.Code != "forbidden" || got.Details["permission"] != auth.PermPayoutWrite {
		t.Fatalf("unexpected error %+v", got)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/orders?brand_id=brand-2", map[string]any{
		"product_id": "prod-1",
		"material":   "gold",
		"technique":  "casting",
	}, token(t, "brand-user", "brand-1", auth.RoleBrand))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign brand, got %d: %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data); got.Code != "forbidden_brand" {
		t.Fatalf("unexpected error code %q", got.Code)
	}
}

func TestOnboardMatchAndRoute(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	brand := token(t, "brand-user", "brand-1", auth.RoleBrand)
	admin := token(t, "ops", "", auth.RoleAdmin)

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v1/products/prod-1", map[string]any{
		"name":             "Ring",
		"base_cost_cents":  5000,
		"base_labor_cents": 3000,
	}, brand)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upsert product status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/artisans", map[string]any{
		"id":            "a1",
		"user_id":       "user-a1",
		"business_name": "Atelier Un",
		"zone":          "eu",
		"capabilities": []map[string]any{
			{"material": "gold", "technique": "casting", "cost_multiplier": 1.0, "lead_time_days": 7},
		},
	}, brand)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create artisan status %d: %s", res.StatusCode, string(data))
	}
	var artisan domain.Artisan
	if err := json.Unmarshal(data, &artisan); err != nil {
		t.Fatalf("unmarshal artisan: %v", err)
	}
	if artisan.BrandID != "brand-1" || artisan.Status != domain.ArtisanInactive {
		t.Fatalf("unexpected artisan %+v", artisan)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/artisans/a1/kyc", map[string]any{"status": "verified"}, brand)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("brand must not verify KYC, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/artisans/a1/kyc", map[string]any{"status": "verified"}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/orders", map[string]any{
		"id":         "ord-1",
		"product_id": "prod-1",
		"material":   "gold",
		"technique":  "casting",
		"quantity":   1,
	}, brand)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create order status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/orders/ord-1/matches", nil, brand)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("matches status %d: %s", res.StatusCode, string(data))
	}
	var matches MatchesResponse
	if err := json.Unmarshal(data, &matches); err != nil {
		t.Fatalf("unmarshal matches: %v", err)
	}
	if len(matches.Items) != 1 || matches.Items[0].Artisan.ID != "a1" {
		t.Fatalf("unexpected matches %+v", matches.Items)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/orders/ord-1/route", map[string]any{"artisan_id": "a1"}, brand)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("route status %d: %s", res.StatusCode, string(data))
	}
	var routed engine.RouteResult
	if err := json.Unmarshal(data, &routed); err != nil {
		t.Fatalf("unmarshal route: %v", err)
	}
	if routed.WorkOrder.ArtisanID != "a1" || routed.WorkOrder.Status != domain.WorkOrderAssigned {
		t.Fatalf("unexpected work order %+v", routed.WorkOrder)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/orders/ord-1/route", map[string]any{"artisan_id": "a1"}, brand)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on re-route, got %d: %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data); got.Code != "conflict" {
		t.Fatalf("unexpected error code %q", got.Code)
	}

	// The artisan moves its own work order; another brand cannot see it.
	artisanTok := token(t, "user-a1", "", auth.RoleArtisan)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/work-orders/"+routed.WorkOrder.ID+"/transition", map[string]any{"status": "accepted"}, artisanTok)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/work-orders/"+routed.WorkOrder.ID, nil, token(t, "other", "brand-2", auth.RoleBrand))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for other brand, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_kind=work_order", nil, brand)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts EventsResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts.Items) == 0 {
		t.Fatalf("expected work order events")
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/artisans/ghost", nil, token(t, "ops", "", auth.RoleAdmin))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data); got.Code != "not_found" || !strings.Contains(got.Message, "ghost") {
		t.Fatalf("unexpected error %+v", got)
	}
}

func TestPaymentWebhookSignature(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	body := []byte(`{"id":"evt_1","object":"event","type":"transfer.updated","data":{"object":{"id":"tr_unknown","object":"transfer","reversed":false}}}`)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", res.StatusCode)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/payments", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	res, err = client.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"received":true`) {
		t.Fatalf("expected 200 received, got %d: %s", res.StatusCode, string(data))
	}
}

func TestPaymentWebhookDropsMalformedEvent(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	body := []byte(`{"id":"evt_2","object":"event","type":"transfer.updated","data":{"object":{"id":"tr_x","object":"transfer","reversed":"maybe"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/payments", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"received":true`) {
		t.Fatalf("expected malformed event to be acknowledged, got %d: %s", res.StatusCode, string(data))
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
