package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanasha/internal/audit"
	"scanasha/internal/contracts"
	"scanasha/internal/polls"
	"scanasha/internal/scanner"
	"scanasha/internal/store"
)

const (
	alice   = "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"
	bob     = "did:key:z6MkjchhfUsD6mmvni8mCdXHw216Xrm9bQe2mBH1P5RDjVJG"
	address = "0x52908400098527886e0f7030069857d2e4169ee7"
	perms   = `{"0x52908400098527886E0F7030069857D2E4169EE7":{"Vault":{"Contract_Name":"Vault","Functions":[]}}}`
)

type fakeScanner struct {
	got scanner.ScanRequest
	err error
}

func (f *fakeScanner) Scan(_ context.Context, req scanner.ScanRequest) (json.RawMessage, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(perms), nil
}

type fakeAuditor struct {
	got audit.AnalyzeRequest
	err error
}

func (f *fakeAuditor) Analyze(_ context.Context, req audit.AnalyzeRequest) (audit.Report, error) {
	f.got = req
	if f.err != nil {
		return audit.Report{}, f.err
	}
	return audit.Report{
		AuditMarkdown:   "# Vault report",
		ContractName:    "Vault",
		ContractAddress: address,
		RiskScore:       4,
		Metrics:         audit.DefaultMetrics(),
	}, nil
}

type harness struct {
	t       *testing.T
	handler http.Handler
	store   *store.Store
	scanner *fakeScanner
	auditor *fakeAuditor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{t: t, store: st, scanner: &fakeScanner{}, auditor: &fakeAuditor{}}
	h.handler = NewServer(st, h.scanner, h.auditor).Handler()
	return h
}

func (h *harness) do(method, path, caller, body string) (int, map[string]json.RawMessage) {
	h.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if caller != "" {
		req.Header.Set("Authorization", "DID "+caller)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var out map[string]json.RawMessage
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func errorOf(t *testing.T, out map[string]json.RawMessage) string {
	t.Helper()
	return decode[string](t, out["error"])
}

func TestSession(t *testing.T) {
	h := newHarness(t)

	code, out := h.do(http.MethodGet, "/session", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, decode[Session](t, out["data"]).HasSession)

	_, out = h.do(http.MethodGet, "/session", alice, "")
	sess := decode[Session](t, out["data"])
	assert.True(t, sess.HasSession)
	assert.Equal(t, alice, sess.DID)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+alice)
	assert.False(t, sessionFromHeader(req).HasSession)
}

func TestMutationsNeedSession(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/polls", "/contracts", "/audits", "/polls/x/votes", "/contracts/x/scan", "/contracts/x/report"} {
		code, out := h.do(http.MethodPost, path, "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, code, path)
		assert.Equal(t, "Please log in first", errorOf(t, out))
	}
}

func TestPollFlow(t *testing.T) {
	h := newHarness(t)

	code, out := h.do(http.MethodPost, "/polls", alice, `{"title":"Hi","description":"no","options":["a"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errorOf(t, out), "Title must be at least 5 characters.")
	assert.Contains(t, string(out["fields"]), "You must provide at least 2 options.")

	code, out = h.do(http.MethodPost, "/polls", alice, `{"title":"Next chain","description":"Where to deploy","options":["Base","Arbitrum"]}`)
	require.Equal(t, http.StatusCreated, code)
	p := decode[polls.Poll](t, out["data"])
	assert.Equal(t, alice, p.Author)
	require.Len(t, p.Options, 2)

	code, out = h.do(http.MethodPost, "/polls/"+p.ID+"/votes", bob, `{"optionID":"`+p.Options[1].ID+`"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, bob, decode[polls.Vote](t, out["data"]).Voter)

	code, _ = h.do(http.MethodPost, "/polls/"+p.ID+"/votes", bob, `{"optionID":"`+p.Options[0].ID+`"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = h.do(http.MethodPost, "/polls/"+p.ID+"/votes", alice, `{"optionID":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(http.MethodPost, "/polls/missing/votes", alice, `{"optionID":"x"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, out = h.do(http.MethodGet, "/polls/"+p.ID, "", "")
	require.Equal(t, http.StatusOK, code)
	pw := decode[polls.PollWithVotes](t, out["data"])
	assert.Equal(t, 1, pw.TotalVotes)
	assert.Equal(t, 100, polls.OptionPercentage(p.Options[1].ID, pw.VotesByOption, pw.TotalVotes))

	_, out = h.do(http.MethodGet, "/polls", "", "")
	assert.Len(t, decode[[]polls.Poll](t, out["data"]), 1)

	_, out = h.do(http.MethodGet, "/accounts/"+alice+"/polls", "", "")
	assert.Len(t, decode[[]polls.Poll](t, out["data"]), 1)
	_, out = h.do(http.MethodGet, "/accounts/"+bob+"/polls", "", "")
	assert.Empty(t, decode[[]polls.Poll](t, out["data"]))

	_, out = h.do(http.MethodGet, "/accounts/"+bob+"/votes", "", "")
	assert.Len(t, decode[[]polls.Vote](t, out["data"]), 1)

	code, _ = h.do(http.MethodGet, "/polls/missing", "", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPollsWithVotes(t *testing.T) {
	h := newHarness(t)
	for _, title := range []string{"First poll", "Second poll", "Third poll"} {
		code, _ := h.do(http.MethodPost, "/polls", alice, `{"title":"`+title+`","description":"desc.","options":["y","n"]}`)
		require.Equal(t, http.StatusCreated, code)
	}
	code, out := h.do(http.MethodGet, "/polls-with-votes?limit=2", "", "")
	require.Equal(t, http.StatusOK, code)
	list := decode[[]polls.PollWithVotes](t, out["data"])
	require.Len(t, list, 2)
	for _, pw := range list {
		assert.Empty(t, pw.Error)
		assert.Len(t, pw.VotesByOption, 2)
		assert.Equal(t, 0, pw.TotalVotes)
	}
}

func createContract(t *testing.T, h *harness) contracts.Contract {
	t.Helper()
	code, out := h.do(http.MethodPost, "/contracts", alice,
		`{"contractName":"Vault","description":"Main vault","address":"`+address+`"}`)
	require.Equal(t, http.StatusCreated, code)
	return decode[contracts.Contract](t, out["data"])
}

func TestContractCRUD(t *testing.T) {
	h := newHarness(t)

	code, out := h.do(http.MethodPost, "/contracts", alice, `{"contractName":"V","description":"Main vault","address":"0x1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errorOf(t, out), "Please enter a valid Ethereum address (0x...)")

	c := createContract(t, h)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", c.Address, "stored checksummed")
	assert.Equal(t, contracts.StatusPending, c.Status)

	code, out = h.do(http.MethodPatch, "/contracts/"+c.ID, alice, `{"status":"archived"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = h.do(http.MethodPatch, "/contracts/"+c.ID, alice, `{"description":"Updated vault"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Updated vault", decode[contracts.Contract](t, out["data"]).Description)

	code, _ = h.do(http.MethodPatch, "/contracts/missing", alice, `{"description":"Updated vault"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, out = h.do(http.MethodGet, "/contracts/"+c.ID, "", "")
	require.Equal(t, http.StatusOK, code)
	detail := decode[contractDetail](t, out["data"])
	assert.Nil(t, detail.LatestAudit)
	assert.False(t, detail.State.CanGenerateReport())

	_, out = h.do(http.MethodGet, "/contracts", "", "")
	assert.Len(t, decode[[]contracts.Contract](t, out["data"]), 1)

	code, _ = h.do(http.MethodPost, "/contracts", alice, `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAuditCRUD(t *testing.T) {
	h := newHarness(t)
	c := createContract(t, h)

	code, _ := h.do(http.MethodPost, "/audits", bob, `{"contractID":"missing"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.do(http.MethodPost, "/audits", bob, `{"contractID":"`+c.ID+`","score":42}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out := h.do(http.MethodPost, "/audits", bob, `{"contractID":"`+c.ID+`","auditMarkdown":"# Manual","score":2}`)
	require.Equal(t, http.StatusCreated, code)
	a := decode[contracts.Audit](t, out["data"])
	assert.Equal(t, contracts.StatusPending, a.Status)
	assert.Equal(t, bob, a.Author)

	code, out = h.do(http.MethodPatch, "/audits/"+a.ID, bob, `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, contracts.StatusCompleted, decode[contracts.Audit](t, out["data"]).Status)

	code, out = h.do(http.MethodGet, "/audits/"+a.ID, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "# Manual", decode[contracts.Audit](t, out["data"]).AuditMarkdown)

	for _, path := range []string{"/audits", "/contracts/" + c.ID + "/audits", "/accounts/" + bob + "/audits"} {
		_, out = h.do(http.MethodGet, path, "", "")
		assert.Len(t, decode[[]contracts.Audit](t, out["data"]), 1, path)
	}

	_, out = h.do(http.MethodGet, "/contracts/"+c.ID, "", "")
	detail := decode[contractDetail](t, out["data"])
	require.NotNil(t, detail.LatestAudit)
	assert.Equal(t, a.ID, detail.LatestAudit.ID)
}

func TestScanAndReport(t *testing.T) {
	h := newHarness(t)
	c := createContract(t, h)

	code, out := h.do(http.MethodPost, "/contracts/"+c.ID+"/report", alice, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Run the permission scan before generating a report", errorOf(t, out))

	code, out = h.do(http.MethodPost, "/contracts/"+c.ID+"/scan", alice, `{"implementationName":"VaultImpl"}`)
	require.Equal(t, http.StatusOK, code, string(out["error"]))
	scanned := decode[contracts.Contract](t, out["data"])
	assert.Equal(t, contracts.StatusInProgress, scanned.Status)
	assert.JSONEq(t, perms, scanned.PermissionData)
	assert.Equal(t, "VaultImpl", h.scanner.got.ImplementationName)
	assert.Equal(t, "mainnet", h.scanner.got.Chain)
	assert.Equal(t, c.Address, h.scanner.got.ContractAddress)

	code, out = h.do(http.MethodPost, "/contracts/"+c.ID+"/report", alice, `{"docsUrl":"https://docs.example"}`)
	require.Equal(t, http.StatusOK, code, string(out["error"]))
	res := decode[reportResponse](t, out["data"])
	assert.Equal(t, contracts.StatusCompleted, res.Contract.Status)
	assert.Equal(t, "# Vault report", res.Contract.AuditMarkdown)
	assert.Equal(t, 4, res.Contract.Score)
	assert.Equal(t, 4, res.Audit.Score)
	assert.Equal(t, contracts.StatusCompleted, res.Audit.Status)
	assert.JSONEq(t, `{"autonomy":0.5,"exitwindow":0.5,"chain":0.5,"upgradeability":0.5}`, string(res.Audit.Metrics))
	assert.Equal(t, "https://docs.example", h.auditor.got.DocsURL)
	assert.JSONEq(t, perms, string(h.auditor.got.ScannerData))

	_, out = h.do(http.MethodGet, "/contracts/"+c.ID, "", "")
	detail := decode[contractDetail](t, out["data"])
	assert.True(t, detail.State.FullyAudited())
	assert.True(t, detail.State.CanGenerateReport())
}

func TestRescanAndRepeatReport(t *testing.T) {
	h := newHarness(t)
	c := createContract(t, h)

	for i := 0; i < 2; i++ {
		code, out := h.do(http.MethodPost, "/contracts/"+c.ID+"/scan", alice, `{"implementationName":"VaultImpl"}`)
		require.Equal(t, http.StatusOK, code, string(out["error"]))
		code, out = h.do(http.MethodPost, "/contracts/"+c.ID+"/report", alice, "")
		require.Equal(t, http.StatusOK, code, string(out["error"]))
	}

	code, out := h.do(http.MethodPost, "/contracts/"+c.ID+"/report", alice, "")
	require.Equal(t, http.StatusOK, code, string(out["error"]))

	_, out = h.do(http.MethodGet, "/contracts/"+c.ID+"/audits", "", "")
	assert.Len(t, decode[[]contracts.Audit](t, out["data"]), 3)
}

func TestScanErrors(t *testing.T) {
	h := newHarness(t)
	c := createContract(t, h)

	h.scanner.err = scanner.ErrImplementationNameRequired
	code, _ := h.do(http.MethodPost, "/contracts/"+c.ID+"/scan", alice, "")
	assert.Equal(t, http.StatusBadRequest, code)

	h.scanner.err = &UpstreamError{Service: "permission-scanner", Status: 500, Message: "Error running permission scanner: boom"}
	code, out := h.do(http.MethodPost, "/contracts/"+c.ID+"/scan", alice, "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "Error running permission scanner: boom", errorOf(t, out))

	h.scanner.err = errors.New("disk full")
	code, _ = h.do(http.MethodPost, "/contracts/"+c.ID+"/scan", alice, "")
	assert.Equal(t, http.StatusInternalServerError, code)

	code, _ = h.do(http.MethodPost, "/contracts/missing/scan", alice, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUnconfiguredServices(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	defer st.Close()

	handler := NewServer(st, nil, nil).Handler()
	for _, path := range []string{"/contracts/x/scan", "/contracts/x/report"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", "DID "+alice)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestHTTPClients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/scan":
			var req scanner.ScanRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.ContractName == "Proxy" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"implementation name required"}`))
				return
			}
			w.Write([]byte(perms))
		case "/analyze":
			w.Write([]byte(`{"success":true,"data":{"auditMarkdown":"# R","riskScore":3,"metrics":{"autonomy":1}}}`))
		}
	}))
	defer srv.Close()

	sc := NewScannerClient(srv.URL+"/", 0)
	data, err := sc.Scan(context.Background(), scanner.ScanRequest{ContractName: "Vault", ContractAddress: address})
	require.NoError(t, err)
	assert.JSONEq(t, perms, string(data))

	_, err = sc.Scan(context.Background(), scanner.ScanRequest{ContractName: "Proxy", ContractAddress: address})
	var uerr *UpstreamError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, http.StatusBadRequest, uerr.Status)
	assert.Equal(t, "implementation name required", uerr.Message)

	report, err := NewAuditClient(srv.URL, 0).Analyze(context.Background(), audit.AnalyzeRequest{ScannerData: json.RawMessage(perms)})
	require.NoError(t, err)
	assert.Equal(t, "# R", report.AuditMarkdown)
	assert.Equal(t, 3, report.RiskScore)
	assert.Equal(t, 1.0, report.Metrics.Autonomy)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	code, out := h.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", decode[string](t, out["status"]))

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scanasha_registry_http_requests_total")
}
