package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientportal/internal/api/handlers"
	"clientportal/internal/api/middleware"
	"clientportal/internal/engine/directory"
	"clientportal/internal/engine/magiclink"
	"clientportal/internal/engine/portal"
	"clientportal/internal/platform/audit"
	"clientportal/internal/platform/auth"
	"clientportal/internal/platform/config"
	"clientportal/internal/platform/crm"
	"clientportal/internal/platform/database"
	"clientportal/internal/platform/notify"
	"clientportal/internal/platform/repositories"
	"clientportal/internal/platform/tasktracker"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// fakeCRM is an in-memory stand-in for the CRM REST API.
type fakeCRM struct {
	mu            sync.Mutex
	contacts      map[string]map[string]string // id -> properties
	companies     map[string]map[string]string
	deals         map[string]map[string]string
	contactOrgs   map[string][]string
	orgDeals      map[string][]string
	failDealQuery bool
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		contacts:    map[string]map[string]string{},
		companies:   map[string]map[string]string{},
		deals:       map[string]map[string]string{},
		contactOrgs: map[string][]string{},
		orgDeals:    map[string][]string{},
	}
}

func (f *fakeCRM) set(kind, id, prop, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m map[string]map[string]string
	switch kind {
	case "contact":
		m = f.contacts
	case "company":
		m = f.companies
	}
	m[id][prop] = value
}

func (f *fakeCRM) get(kind, id, prop string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == "contact" {
		return f.contacts[id][prop]
	}
	return f.companies[id][prop]
}

func (f *fakeCRM) objects(kind string) map[string]map[string]string {
	switch kind {
	case crm.ObjectContacts:
		return f.contacts
	case crm.ObjectCompanies:
		return f.companies
	default:
		return f.deals
	}
}

func (f *fakeCRM) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /crm/v3/objects/{type}/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var req crm.SearchRequest
		json.NewDecoder(r.Body).Decode(&req)
		filter := req.FilterGroups[0].Filters[0]

		var results []crm.Object
		switch r.PathValue("type") {
		case crm.ObjectContacts:
			for id, props := range f.contacts {
				if props["email"] == filter.Value {
					results = append(results, crm.Object{ID: id, Properties: copyProps(props)})
				}
			}
		case crm.ObjectDeals:
			if f.failDealQuery {
				http.Error(w, `{"message":"search unavailable"}`, http.StatusBadGateway)
				return
			}
			for _, id := range f.orgDeals[filter.Value] {
				results = append(results, crm.Object{ID: id, Properties: copyProps(f.deals[id])})
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"total": len(results), "results": results})
	})

	mux.HandleFunc("GET /crm/v4/objects/{type}/{id}/associations/{to}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var ids []string
		if r.PathValue("to") == crm.ObjectCompanies {
			ids = f.contactOrgs[r.PathValue("id")]
		} else {
			ids = f.orgDeals[r.PathValue("id")]
		}
		results := make([]map[string]json.Number, 0, len(ids))
		for _, id := range ids {
			results = append(results, map[string]json.Number{"toObjectId": json.Number(id)})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	})

	mux.HandleFunc("GET /crm/v3/objects/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		props, ok := f.objects(r.PathValue("type"))[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(crm.Object{ID: r.PathValue("id"), Properties: copyProps(props)})
	})

	mux.HandleFunc("PATCH /crm/v3/objects/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Properties map[string]string `json:"properties"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		props, ok := f.objects(r.PathValue("type"))[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		for k, v := range body.Properties {
			props[k] = v
		}
		json.NewEncoder(w).Encode(crm.Object{ID: r.PathValue("id")})
	})

	return mux
}

func copyProps(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// fakeTracker records created tasks and serves a fixed list.
type fakeTracker struct {
	mu       sync.Mutex
	created  []tasktracker.CreateTaskRequest
	listID   string
	failList bool
}

func (f *fakeTracker) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/list/{id}/task", func(w http.ResponseWriter, r *http.Request) {
		if f.failList {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"tasks":[{"id":"t1","name":"Fix login","description":"d","status":{"status":"in progress","color":"#000"},"priority":{"priority":"urgent"},"date_created":"1700000000000","url":"https://tracker/t/t1"}]}`))
	})
	mux.HandleFunc("POST /api/v2/list/{id}/task", func(w http.ResponseWriter, r *http.Request) {
		var req tasktracker.CreateTaskRequest
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.created = append(f.created, req)
		f.listID = r.PathValue("id")
		f.mu.Unlock()

		json.NewEncoder(w).Encode(tasktracker.Task{ID: "t9", Name: req.Name, URL: "https://tracker/t/t9"})
	})
	return mux
}

// fakeSender captures outgoing mail.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

type sentMail struct {
	To, Subject, HTML string
}

func (s *fakeSender) Send(_ context.Context, to, subject, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMail{to, subject, html})
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var tokenPattern = regexp.MustCompile(`verify\?token=([A-Za-z0-9_-]+)`)

func (s *fakeSender) lastToken(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	m := tokenPattern.FindStringSubmatch(s.sent[len(s.sent)-1].HTML)
	require.Len(t, m, 2)
	return m[1]
}

type testEnv struct {
	handler http.Handler
	crm     *fakeCRM
	tracker *fakeTracker
	sender  *fakeSender
	auth    *handlers.AuthHandler
	audit   *audit.Logger
	limiter *middleware.RateLimiter
}

type envOptions struct {
	minDuration  time.Duration
	requestLimit int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	db, err := database.OpenAndMigrate(config.DatabaseConfig{URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fc := newFakeCRM()
	fc.contacts["101"] = map[string]string{"email": "alice@example.com", "firstname": "Alice", "lastname": "Ng", "portal_enabled": "true"}
	fc.contacts["102"] = map[string]string{"email": "disabled@example.com", "portal_enabled": "false"}
	fc.contacts["103"] = map[string]string{"email": "orphan@example.com", "portal_enabled": "true"}
	fc.contacts["104"] = map[string]string{"email": "closed@example.com", "portal_enabled": "true"}
	fc.contacts["105"] = map[string]string{"email": "unconfigured@example.com", "portal_enabled": "true"}
	fc.companies["501"] = map[string]string{"name": "Acme", "portal_enabled": "true", "task_folder_id": "F1", "task_list_id": "L1"}
	fc.companies["502"] = map[string]string{"name": "Closed Co", "portal_enabled": "false", "task_list_id": "L2"}
	fc.companies["503"] = map[string]string{"name": "Half Co", "portal_enabled": "true"}
	fc.contactOrgs["101"] = []string{"501"}
	fc.contactOrgs["102"] = []string{"501"}
	fc.contactOrgs["104"] = []string{"502"}
	fc.contactOrgs["105"] = []string{"503"}
	fc.deals["901"] = map[string]string{"dealname": "Renewal", "amount": "1000", "dealstage": "closedwon", "pipeline": "default"}
	fc.deals["902"] = map[string]string{"dealname": "Upsell", "amount": "250", "dealstage": "contractsent", "pipeline": "default"}
	fc.orgDeals["501"] = []string{"901", "902"}

	crmSrv := httptest.NewServer(fc.handler())
	t.Cleanup(crmSrv.Close)
	ft := &fakeTracker{}
	trackerSrv := httptest.NewServer(ft.handler())
	t.Cleanup(trackerSrv.Close)

	crmClient := crm.NewClient(config.UpstreamConfig{BaseURL: crmSrv.URL, APIKey: "crm-key"})
	dir := directory.NewService(crmClient)
	tokens := repositories.NewTokenRepository(db, 0)
	sessionCfg := config.SessionConfig{Secret: testSecret}
	sessions := auth.NewSessionService(sessionCfg)
	cookies := auth.NewCookieStore(sessionCfg)
	sender := &fakeSender{}
	auditLog := audit.NewLogger(db)

	authHandler := handlers.NewAuthHandler(handlers.AuthHandlerConfig{
		Directory:   dir,
		Issuer:      magiclink.NewIssuer(tokens, "https://portal.example.com"),
		Verifier:    magiclink.NewVerifier(tokens),
		Sessions:    sessions,
		Cookies:     cookies,
		Sender:      sender,
		Audit:       auditLog,
		MinDuration: opts.minDuration,
	})

	requestLimit := opts.requestLimit
	if requestLimit == 0 {
		requestLimit = 1000
	}
	limiter := middleware.NewRateLimiter(map[string]int{
		middleware.LimitRequestLink: requestLimit,
		middleware.LimitVerify:      1000,
	})
	t.Cleanup(limiter.Stop)

	handler := NewRouter(&Dependencies{
		AuthHandler:       authHandler,
		PortalHandler:     handlers.NewPortalHandler(tasktracker.NewClient(config.UpstreamConfig{BaseURL: trackerSrv.URL, APIKey: "pk"}), portal.NewDealResolver(crmClient)),
		ActivityHandler:   handlers.NewActivityHandler(auditLog),
		HealthHandler:     handlers.NewHealthHandler(db),
		SessionMiddleware: middleware.NewSessionMiddleware(sessions, cookies),
		RateLimiter:       limiter,
		CORS:              config.CORSConfig{AllowedOrigins: []string{"https://portal.example.com"}, MaxAge: 600},
	})

	env := &testEnv{handler: handler, crm: fc, tracker: ft, sender: sender, auth: authHandler, audit: auditLog, limiter: limiter}
	t.Cleanup(func() {
		authHandler.Wait()
		auditLog.Wait()
	})
	return env
}

func (e *testEnv) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.DefaultCookieName {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

// login runs the full magic-link flow for alice and returns her cookie.
func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	rec := e.do(http.MethodPost, "/auth/request-link", `{"email":"alice@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodGet, "/auth/verify?token="+e.sender.lastToken(t), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

const genericBody = `{"message":"If this email is registered, you will receive a login link shortly."}` + "\n"

func TestRequestLink_EnumerationSafe(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	emails := []string{
		"nobody@example.com",       // no such contact
		"disabled@example.com",     // contact portal disabled
		"orphan@example.com",       // no associated company
		"closed@example.com",       // company portal disabled
		"unconfigured@example.com", // company has no task list
	}

	for _, email := range emails {
		rec := env.do(http.MethodPost, "/auth/request-link", `{"email":"`+email+`"}`)
		assert.Equal(t, http.StatusOK, rec.Code, email)
		assert.Equal(t, genericBody, rec.Body.String(), email)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), email)
		assert.Empty(t, rec.Result().Cookies(), email)
	}
	assert.Equal(t, 0, env.sender.count())

	rec := env.do(http.MethodPost, "/auth/request-link", `{"email":"  Alice@Example.com "}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, genericBody, rec.Body.String())
	require.Equal(t, 1, env.sender.count())
	assert.Equal(t, "alice@example.com", env.sender.sent[0].To)
}

func TestRequestLink_DirectoryDown(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	// An unreachable directory still answers with the generic message.
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	h := handlers.NewAuthHandler(handlers.AuthHandlerConfig{
		Directory: directory.NewService(crm.NewClient(config.UpstreamConfig{BaseURL: down.URL})),
		Sender:    env.sender,
	})
	rec := httptest.NewRecorder()
	h.RequestLink(rec, httptest.NewRequest(http.MethodPost, "/auth/request-link", strings.NewReader(`{"email":"alice@example.com"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, genericBody, rec.Body.String())
}

func TestRequestLink_PadsResponseTime(t *testing.T) {
	env := newTestEnv(t, envOptions{minDuration: 60 * time.Millisecond})

	start := time.Now()
	rec := env.do(http.MethodPost, "/auth/request-link", `{"email":"nobody@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRequestLink_Validation(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"malformed json", `{"email":`, "Invalid request body"},
		{"missing email", `{}`, "Email is required"},
		{"blank email", `{"email":"   "}`, "Email is required"},
		{"invalid email", `{"email":"not-an-email"}`, "Invalid email address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/auth/request-link", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.msg, body["error"])
		})
	}
}

func TestRequestLink_SinkFailures(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	env.sender.err = fmt.Errorf("%w: status 422", notify.ErrSinkRejected)
	rec := env.do(http.MethodPost, "/auth/request-link", `{"email":"alice@example.com"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to send login email","code":"UPSTREAM_ERROR"}`, rec.Body.String())

	env.sender.err = fmt.Errorf("%w: connection refused", notify.ErrSinkUnreachable)
	rec = env.do(http.MethodPost, "/auth/request-link", `{"email":"alice@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, genericBody, rec.Body.String())
}

func TestEndToEndLoginScenario(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodPost, "/auth/request-link", `{"email":"alice@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.sender.count())
	assert.Contains(t, env.sender.sent[0].HTML, "https://portal.example.com/verify?token=")
	token := env.sender.lastToken(t)

	rec = env.do(http.MethodGet, "/auth/verify?token="+token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var verify handlers.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.True(t, verify.Success)
	assert.Equal(t, handlers.VerifiedUser{Email: "alice@example.com", FirstName: "Alice", LastName: "Ng", OrgName: "Acme"}, verify.User)

	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, 7*24*60*60, cookie.MaxAge)

	rec = env.do(http.MethodGet, "/me", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"email":"alice@example.com","firstName":"Alice","lastName":"Ng","orgName":"Acme","orgId":"501","identityId":"101"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "L1")

	// The link only works once.
	rec = env.do(http.MethodGet, "/auth/verify?token="+token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "TOKEN_ALREADY_USED")

	rec = env.do(http.MethodPost, "/auth/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	cleared := sessionCookie(t, rec)
	assert.Equal(t, "", cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)

	rec = env.do(http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.auth.Wait()
	assert.NotEmpty(t, env.crm.get("contact", "101", directory.PropLastLogin))
}

func TestVerify_Errors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodGet, "/auth/verify", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing token","code":"INVALID_INPUT"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/auth/verify?token=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid login link","code":"INVALID_TOKEN"}`, rec.Body.String())
}

func TestVerify_RechecksEntitlement(t *testing.T) {
	tests := []struct {
		name   string
		revoke func(*fakeCRM)
		status int
	}{
		{"contact disabled", func(f *fakeCRM) { f.set("contact", "101", "portal_enabled", "false") }, http.StatusForbidden},
		{"company disabled", func(f *fakeCRM) { f.set("company", "501", "portal_enabled", "false") }, http.StatusForbidden},
		{"task list removed", func(f *fakeCRM) { f.set("company", "501", "task_list_id", "") }, http.StatusBadRequest},
		{"company unlinked", func(f *fakeCRM) {
			f.mu.Lock()
			delete(f.contactOrgs, "101")
			f.mu.Unlock()
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{})

			rec := env.do(http.MethodPost, "/auth/request-link", `{"email":"alice@example.com"}`)
			require.Equal(t, http.StatusOK, rec.Code)
			token := env.sender.lastToken(t)

			tt.revoke(env.crm)

			rec = env.do(http.MethodGet, "/auth/verify?token="+token, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestSessionRequired(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/me"},
		{http.MethodGet, "/me/activity"},
		{http.MethodGet, "/tasks"},
		{http.MethodPost, "/tasks"},
		{http.MethodGet, "/deals"},
	} {
		rec := env.do(route.method, route.path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}

	rec := env.do(http.MethodGet, "/me", "", &http.Cookie{Name: auth.DefaultCookieName, Value: "forged.token.value"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateTask(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login(t)

	rec := env.do(http.MethodPost, "/tasks",
		`{"name":"Need help","description":"Issue X","priority":"high","category":"technical"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"task":{"id":"t9","name":"Need help","url":"https://tracker/t/t9"}}`, rec.Body.String())

	env.tracker.mu.Lock()
	defer env.tracker.mu.Unlock()
	require.Len(t, env.tracker.created, 1)
	created := env.tracker.created[0]
	assert.Equal(t, "L1", env.tracker.listID)
	assert.Equal(t, 2, created.Priority)
	assert.ElementsMatch(t, []string{"Technical Support", "Portal Request"}, created.Tags)
	assert.Contains(t, created.Description, "Issue X")
	assert.Contains(t, created.Description, "alice@example.com")
}

func TestCreateTask_Validation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login(t)

	rec := env.do(http.MethodPost, "/tasks", `{"description":"Issue X"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Name is required")

	rec = env.do(http.MethodPost, "/tasks", `{"name":"Need help","description":"  "}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Description is required")
}

func TestCreateTask_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login(t)

	body := `{"name":"Need help","description":"` + strings.Repeat("x", 70<<10) + `"}`
	rec := env.do(http.MethodPost, "/tasks", body, cookie)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	env.tracker.mu.Lock()
	defer env.tracker.mu.Unlock()
	assert.Empty(t, env.tracker.created)
}

func TestListTasks(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login(t)

	rec := env.do(http.MethodGet, "/tasks", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body handlers.TasksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "in progress", body.Tasks[0].Status)
	assert.Equal(t, "#4194f6", body.Tasks[0].StatusColor)
	assert.Equal(t, "Urgent", body.Tasks[0].Priority)

	env.tracker.failList = true
	rec = env.do(http.MethodGet, "/tasks", "", cookie)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListDeals(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login(t)

	rec := env.do(http.MethodGet, "/deals", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var body handlers.DealsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Deals, 2)

	// Search down: the association path still finds both deals.
	env.crm.mu.Lock()
	env.crm.failDealQuery = true
	env.crm.mu.Unlock()
	rec = env.do(http.MethodGet, "/deals", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Deals, 2)

	// Both paths down: an empty list, not an error.
	env.crm.mu.Lock()
	env.crm.orgDeals = nil
	env.crm.deals = map[string]map[string]string{}
	env.crm.mu.Unlock()
	rec = env.do(http.MethodGet, "/deals", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deals":[]}`, rec.Body.String())
}

func TestActivity(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.login(t)
	env.audit.Wait()

	rec := env.do(http.MethodGet, "/me/activity", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body handlers.ActivityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	actions := map[string]bool{}
	for _, a := range body.Activity {
		actions[a.Action] = true
	}
	assert.True(t, actions[audit.ActionLinkIssued])
	assert.True(t, actions[audit.ActionVerified])

	rec = env.do(http.MethodGet, "/me/activity?limit=zero", "", cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestLink_RateLimited(t *testing.T) {
	env := newTestEnv(t, envOptions{requestLimit: 2})

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodPost, "/auth/request-link", `{"email":"nobody@example.com"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(http.MethodPost, "/auth/request-link", `{"email":"nobody@example.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodOptions, "/auth/request-link", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://portal.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCrossOriginPostRejected(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"healthy"`)
}
