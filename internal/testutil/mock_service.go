// Package testutil provides a scriptable in-process mock of the batch
// verification service for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/verikit/sheerid-batch/pkg/verify"
)

// DefaultCSRFToken is the anti-forgery token the mock embeds in its landing
// page until SetCSRFToken changes it.
const DefaultCSRFToken = "mock-csrf-token-1"

// BatchPayload mirrors the wire payload of a batch submission, decoded for
// assertions.
type BatchPayload struct {
	VerificationIDs []string `json:"verificationIds"`
	HCaptchaToken   string   `json:"hCaptchaToken"`
	UseLucky        bool     `json:"useLucky"`
	ProgramID       string   `json:"programId"`
}

// statusReply is one scripted response for a status poll.
type statusReply struct {
	statusCode int
	body       string
}

// MockService is a configurable mock verification service. It serves the
// landing page with an embedded anti-forgery token, the batch submission
// endpoint with a scriptable event stream, the status poll endpoint with
// per-token reply queues, and the cancellation endpoint.
//
// By default every POST endpoint enforces the X-CSRF-Token header against
// the current token, so token refresh behavior can be driven by rotating
// the token mid-test.
type MockService struct {
	server *httptest.Server
	mu     sync.RWMutex

	csrfToken   string
	enforceCSRF bool

	// Fault injection, consumed one request at a time.
	failLanding        int
	failBatchAuth      int
	failBatchServer    int
	failBatchTransport int

	// Scripted responses.
	batchStreams  [][]string
	statusReplies map[string][]statusReply
	cancelStatus  int
	cancelBody    string

	// Tracking.
	landingCount  int
	batchCount    int
	statusCount   int
	cancelCount   int
	batchPayloads []BatchPayload
	checkTokens   []string
	lastCancelID  string
	lastHeader    http.Header
}

// NewMockService creates and starts a mock verification service.
func NewMockService() *MockService {
	mock := &MockService{
		csrfToken:     DefaultCSRFToken,
		enforceCSRF:   true,
		statusReplies: make(map[string][]statusReply),
		cancelStatus:  http.StatusOK,
		cancelBody:    `{"status":"success","message":"Verification cancelled"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", mock.handleLanding)
	mux.HandleFunc("/api/batch", mock.handleBatch)
	mux.HandleFunc("/api/check-status", mock.handleStatus)
	mux.HandleFunc("/api/cancel", mock.handleCancel)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the mock server URL.
func (m *MockService) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockService) Close() {
	m.server.Close()
}

// Reset clears counters, scripts, and fault injection, keeping the server
// and the current token.
func (m *MockService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLanding = 0
	m.failBatchAuth = 0
	m.failBatchServer = 0
	m.failBatchTransport = 0
	m.batchStreams = nil
	m.statusReplies = make(map[string][]statusReply)
	m.landingCount = 0
	m.batchCount = 0
	m.statusCount = 0
	m.cancelCount = 0
	m.batchPayloads = nil
	m.checkTokens = nil
	m.lastCancelID = ""
}

// SetCSRFToken replaces the anti-forgery token. Subsequent landing page
// loads embed the new token; with enforcement on, requests still carrying
// the old token are rejected with 403.
func (m *MockService) SetCSRFToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.csrfToken = token
}

// CSRFToken returns the current anti-forgery token.
func (m *MockService) CSRFToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.csrfToken
}

// SetEnforceCSRF toggles token validation on the POST endpoints.
func (m *MockService) SetEnforceCSRF(enforce bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enforceCSRF = enforce
}

// FailLanding makes the next n landing page requests answer 500.
func (m *MockService) FailLanding(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLanding = n
}

// FailBatchAuth makes the next n batch submissions answer 403 regardless of
// the token presented.
func (m *MockService) FailBatchAuth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failBatchAuth = n
}

// FailBatchServer makes the next n batch submissions answer 500.
func (m *MockService) FailBatchServer(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failBatchServer = n
}

// FailBatchTransport makes the next n batch submissions drop the connection
// without a response.
func (m *MockService) FailBatchTransport(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failBatchTransport = n
}

// QueueBatchStream scripts the response body of one upcoming batch
// submission as raw stream lines. Queued streams are consumed in order;
// submissions beyond the queue fall back to the default stream, which
// reports success for every submitted ID.
func (m *MockService) QueueBatchStream(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchStreams = append(m.batchStreams, lines)
}

// QueueStatus scripts the next reply for status polls presenting checkToken.
// Replies queue per token and are consumed in order; a token with an empty
// queue gets the default still-pending reply carrying the same token.
func (m *MockService) QueueStatus(checkToken string, statusCode int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusReplies[checkToken] = append(m.statusReplies[checkToken], statusReply{statusCode: statusCode, body: body})
}

// SetCancelResponse scripts all following cancellation replies.
func (m *MockService) SetCancelResponse(statusCode int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelStatus = statusCode
	m.cancelBody = body
}

// GetLandingCount returns the number of landing page requests served.
func (m *MockService) GetLandingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.landingCount
}

// GetBatchCount returns the number of batch submissions received.
func (m *MockService) GetBatchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchCount
}

// GetStatusCount returns the number of status polls received.
func (m *MockService) GetStatusCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusCount
}

// GetCancelCount returns the number of cancellation requests received.
func (m *MockService) GetCancelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancelCount
}

// BatchPayloads returns the decoded payloads of all batch submissions in
// arrival order.
func (m *MockService) BatchPayloads() []BatchPayload {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]BatchPayload(nil), m.batchPayloads...)
}

// LastBatchPayload returns the most recent batch submission payload.
func (m *MockService) LastBatchPayload() BatchPayload {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.batchPayloads) == 0 {
		return BatchPayload{}
	}
	return m.batchPayloads[len(m.batchPayloads)-1]
}

// CheckTokens returns the check tokens presented by status polls in arrival
// order.
func (m *MockService) CheckTokens() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.checkTokens...)
}

// LastCancelID returns the verification ID of the most recent cancellation
// request.
func (m *MockService) LastCancelID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCancelID
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockService) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// recordHeader captures request headers for assertions.
func (m *MockService) recordHeader(r *http.Request) {
	m.mu.Lock()
	m.lastHeader = r.Header.Clone()
	m.mu.Unlock()
}

// handleLanding serves the landing page with the embedded token.
func (m *MockService) handleLanding(w http.ResponseWriter, r *http.Request) {
	m.recordHeader(r)
	m.mu.Lock()
	m.landingCount++
	fail := m.failLanding > 0
	if fail {
		m.failLanding--
	}
	token := m.csrfToken
	m.mu.Unlock()

	if fail {
		http.Error(w, "service unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html>
<head>
<script>window.CSRF_TOKEN = %q;</script>
</head>
<body>Batch verification portal</body>
</html>`, token)
}

// checkCSRF validates the anti-forgery header. Returns false after writing
// the rejection.
func (m *MockService) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	m.mu.RLock()
	enforce := m.enforceCSRF
	token := m.csrfToken
	m.mu.RUnlock()

	if !enforce || r.Header.Get("X-CSRF-Token") == token {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	fmt.Fprint(w, `{"error":"invalid csrf token"}`)
	return false
}

// handleBatch serves batch submissions with a scripted or default stream.
func (m *MockService) handleBatch(w http.ResponseWriter, r *http.Request) {
	m.recordHeader(r)
	m.mu.Lock()
	m.batchCount++
	if m.failBatchTransport > 0 {
		m.failBatchTransport--
		m.mu.Unlock()
		dropConnection(w)
		return
	}
	forceAuthFail := m.failBatchAuth > 0
	if forceAuthFail {
		m.failBatchAuth--
	}
	forceServerFail := m.failBatchServer > 0
	if forceServerFail {
		m.failBatchServer--
	}
	m.mu.Unlock()

	if forceAuthFail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"forbidden"}`)
		return
	}
	if forceServerFail {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !m.checkCSRF(w, r) {
		return
	}

	var payload BatchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.batchPayloads = append(m.batchPayloads, payload)
	var lines []string
	if len(m.batchStreams) > 0 {
		lines = m.batchStreams[0]
		m.batchStreams = m.batchStreams[1:]
	}
	m.mu.Unlock()

	if lines == nil {
		for _, id := range payload.VerificationIDs {
			lines = append(lines, EventLine(verify.Event{
				VerificationID: id,
				CurrentStep:    verify.StepSuccess,
				Message:        "Verified",
			}))
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, line := range lines {
		fmt.Fprint(w, line)
		if !strings.HasSuffix(line, "\n") {
			fmt.Fprint(w, "\n")
		}
		fmt.Fprint(w, "\n")
	}
}

// handleStatus serves status polls from the per-token reply queues.
func (m *MockService) handleStatus(w http.ResponseWriter, r *http.Request) {
	m.recordHeader(r)
	if !m.checkCSRF(w, r) {
		return
	}

	var req struct {
		CheckToken string `json:"checkToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.statusCount++
	m.checkTokens = append(m.checkTokens, req.CheckToken)
	reply := statusReply{
		statusCode: http.StatusOK,
		body: StatusBody(verify.Event{
			CurrentStep: verify.StepPending,
			Message:     "Still processing",
			CheckToken:  req.CheckToken,
		}),
	}
	if queue := m.statusReplies[req.CheckToken]; len(queue) > 0 {
		reply = queue[0]
		m.statusReplies[req.CheckToken] = queue[1:]
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.statusCode)
	fmt.Fprint(w, reply.body)
}

// handleCancel serves cancellation requests.
func (m *MockService) handleCancel(w http.ResponseWriter, r *http.Request) {
	m.recordHeader(r)
	if !m.checkCSRF(w, r) {
		return
	}

	var req struct {
		VerificationID string `json:"verificationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.cancelCount++
	m.lastCancelID = req.VerificationID
	status := m.cancelStatus
	body := m.cancelBody
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

// dropConnection closes the client connection without writing a response.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("mock server connection does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic("hijacking mock server connection: " + err.Error())
	}
	conn.Close()
}

// EventLine renders an event as one stream line in the service's format.
func EventLine(event verify.Event) string {
	payload, err := json.Marshal(event)
	if err != nil {
		panic("marshalling mock event: " + err.Error())
	}
	return "data: " + string(payload)
}

// StatusBody renders an event as a status poll response body.
func StatusBody(event verify.Event) string {
	payload, err := json.Marshal(event)
	if err != nil {
		panic("marshalling mock status: " + err.Error())
	}
	return string(payload)
}
