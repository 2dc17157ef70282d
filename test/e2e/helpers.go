//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/claimguard-jp/claimguard/internal/api/handlers"
	"github.com/claimguard-jp/claimguard/internal/cache"
	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/jobs"
	"github.com/claimguard-jp/claimguard/internal/queue"
	"github.com/claimguard-jp/claimguard/internal/repository"
	"github.com/claimguard-jp/claimguard/internal/server"
	"github.com/claimguard-jp/claimguard/internal/service"
	"github.com/claimguard-jp/claimguard/internal/storage"
	"github.com/claimguard-jp/claimguard/internal/stream"
	"github.com/claimguard-jp/claimguard/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	Detector     *substringDetector
	Queue        *queue.AdmissionQueue

	OrgID       string
	AdminToken  string
	MemberToken string
	AdminID     string
	MemberID    string

	HTTPClient *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers and server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx, cancel := context.WithCancel(context.Background())

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "ap-northeast-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "claimguard-e2e",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	detector := &substringDetector{}
	serverURL, closer, admissionQueue := startServer(ctx, t, pool, s3Client, detector, port)

	env := &E2ETestEnv{
		T:         t,
		Ctx:       ctx,
		PostgresC: pgC,
		RustFSC:   s3C,
		Pool:      pool,
		ServerURL: serverURL,
		ServerCloser: func() {
			closer()
			cancel()
		},
		Detector:   detector,
		Queue:      admissionQueue,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	env.bootstrap()
	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(context.Background())
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(context.Background())
	}
}

// bootstrap provisions an organization with an admin and a member user,
// the way the claimguardd CLI would.
func (e *E2ETestEnv) bootstrap() {
	orgRepo := repository.NewOrgRepository(e.Pool)
	userRepo := repository.NewUserRepository(e.Pool)
	tokenRepo := repository.NewTokenRepository(e.Pool)
	authSvc := service.NewAuthService(orgRepo, userRepo, tokenRepo, &service.DefaultUUIDGenerator{})

	org, err := authSvc.CreateOrg(e.Ctx, "E2E Test Org")
	if err != nil {
		e.T.Fatalf("failed to create org: %v", err)
	}
	e.OrgID = org.ID

	admin, err := authSvc.CreateUser(e.Ctx, org.ID, domain.UserRoleAdmin)
	if err != nil {
		e.T.Fatalf("failed to create admin: %v", err)
	}
	e.AdminID = admin.ID
	e.AdminToken, err = authSvc.IssueToken(e.Ctx, admin.ID, "e2e-admin")
	if err != nil {
		e.T.Fatalf("failed to issue admin token: %v", err)
	}

	member, err := authSvc.CreateUser(e.Ctx, org.ID, domain.UserRoleMember)
	if err != nil {
		e.T.Fatalf("failed to create member: %v", err)
	}
	e.MemberID = member.ID
	e.MemberToken, err = authSvc.IssueToken(e.Ctx, member.ID, "e2e-member")
	if err != nil {
		e.T.Fatalf("failed to issue member token: %v", err)
	}
}

// NewMemberToken provisions an extra member in the test org and returns
// the user id and a fresh bearer token. Tests that count per-user state
// use this for isolation.
func (e *E2ETestEnv) NewMemberToken(name string) (string, string) {
	orgRepo := repository.NewOrgRepository(e.Pool)
	userRepo := repository.NewUserRepository(e.Pool)
	tokenRepo := repository.NewTokenRepository(e.Pool)
	authSvc := service.NewAuthService(orgRepo, userRepo, tokenRepo, &service.DefaultUUIDGenerator{})

	user, err := authSvc.CreateUser(e.Ctx, e.OrgID, domain.UserRoleMember)
	if err != nil {
		e.T.Fatalf("failed to create member: %v", err)
	}
	token, err := authSvc.IssueToken(e.Ctx, user.ID, name)
	if err != nil {
		e.T.Fatalf("failed to issue token: %v", err)
	}
	return user.ID, token
}

// APIResponse represents a standard API response
type APIResponse struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
}

func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, authToken)
}

func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, authToken)
}

func (e *E2ETestEnv) Put(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("PUT", path, body, authToken)
}

func (e *E2ETestEnv) Delete(path, authToken string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil, authToken)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := APIResponse{Status: resp.StatusCode}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
			}
			return nil, err
		}
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// WaitForCheckStatus polls a check until it reaches the wanted terminal
// status or the timeout elapses.
func (e *E2ETestEnv) WaitForCheckStatus(checkID, authToken string, want string, timeout time.Duration) json.RawMessage {
	deadline := time.Now().Add(timeout)
	var last string
	for time.Now().Before(deadline) {
		resp, err := e.Get("/checks/"+checkID, authToken)
		if err == nil {
			var check struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(resp.Data, &check); err == nil {
				last = check.Status
				if check.Status == want {
					return resp.Data
				}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.T.Fatalf("check %s did not reach status %q within %v (last: %q)", checkID, want, timeout, last)
	return nil
}

// SSEEvent is one parsed server-sent event
type SSEEvent struct {
	Event string
	Data  json.RawMessage
}

// StreamEvents opens the SSE endpoint for a check and collects events
// until the stream closes or maxWait elapses.
func (e *E2ETestEnv) StreamEvents(checkID, authToken string, maxWait time.Duration) []SSEEvent {
	req, err := http.NewRequest("GET", e.ServerURL+"/checks/"+checkID+"/stream", nil)
	if err != nil {
		e.T.Fatalf("failed to build stream request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)

	client := &http.Client{Timeout: maxWait}
	resp, err := client.Do(req)
	if err != nil {
		e.T.Fatalf("failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		e.T.Fatalf("stream returned HTTP %d: %s", resp.StatusCode, body)
	}

	var events []SSEEvent
	var current SSEEvent
	body, _ := io.ReadAll(resp.Body)
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
		case line == "":
			if current.Event != "" {
				events = append(events, current)
				current = SSEEvent{}
			}
		}
	}
	return events
}

// substringDetector is a deterministic stand-in for the language model:
// it flags every NG candidate phrase found verbatim in the text and
// rewrites by bracketing. An optional delay simulates model latency.
type substringDetector struct {
	mu    sync.Mutex
	delay time.Duration
}

func (d *substringDetector) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

func (d *substringDetector) DetectViolations(ctx context.Context, text string, candidates []*domain.RankedCandidate) (*domain.DetectionResult, error) {
	d.mu.Lock()
	delay := d.delay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result := &domain.DetectionResult{ModifiedText: text}
	for _, c := range candidates {
		if c.Category != domain.PhraseCategoryNG {
			continue
		}
		idx := strings.Index(text, c.Phrase)
		if idx < 0 {
			continue
		}
		start := len([]rune(text[:idx]))
		end := start + len([]rune(c.Phrase))
		result.Violations = append(result.Violations, domain.DetectedViolation{
			StartPos:     start,
			EndPos:       end,
			Reason:       "NG表現に一致: " + c.Phrase,
			DictionaryID: c.EntryID,
		})
		result.ModifiedText = strings.ReplaceAll(result.ModifiedText, c.Phrase, "[要修正]")
	}
	return result, nil
}

// zeroEmbedder returns fixed vectors so the resolver and embedding jobs
// run without an OpenAI dependency.
type zeroEmbedder struct{}

func (zeroEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 1536)
	vec[0] = 1
	return vec, nil
}

// startServer wires the full pipeline against the containers and serves it
func startServer(ctx context.Context, t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, detector *substringDetector, port int) (string, func(), *queue.AdmissionQueue) {
	checkRepo := repository.NewCheckRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)
	dictionaryRepo := repository.NewDictionaryRepository(pool)
	orgRepo := repository.NewOrgRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	uuidGen := &service.DefaultUUIDGenerator{}
	authSvc := service.NewAuthService(orgRepo, userRepo, tokenRepo, uuidGen)

	notifier := repository.NewCheckNotifier(pool)
	go notifier.Start(ctx)

	embedder := zeroEmbedder{}
	resolver := service.NewResolver(dictionaryRepo, embedder)
	candidateCache := cache.New[[]*domain.RankedCandidate](service.CandidateCacheTTL)
	processor := service.NewCheckProcessor(checkRepo, orgRepo, resolver, detector, txRunner, candidateCache, uuidGen)

	admissionQueue := queue.NewAdmissionQueue(2, processor)
	admissionQueue.Start(ctx)

	timeouts := stream.DefaultTimeouts()
	timeouts.TextConnection = 10 * time.Second
	timeouts.ImageConnection = 10 * time.Second
	broker := stream.NewBroker(checkRepo, violationRepo, userRepo, notifier, timeouts)

	embeddingQueue := jobs.NewEmbeddingQueue(dictionaryRepo, embedder, uuidGen)
	embeddingQueue.Start(ctx)

	checkSvc := service.NewCheckService(checkRepo, checkRepo, admissionQueue, s3Client, uuidGen)
	dictionarySvc := service.NewDictionaryService(dictionaryRepo, embedder, uuidGen)

	cfg := server.RouterConfig{
		TokenValidator:    authSvc,
		CheckHandler:      handlers.NewCheckHandler(checkSvc, violationRepo),
		StreamHandler:     handlers.NewStreamHandler(broker),
		DictionaryHandler: handlers.NewDictionaryHandler(dictionarySvc, embeddingQueue),
	}

	router := server.NewRouter(cfg)
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		admissionQueue.Wait()
		embeddingQueue.Wait()
	}, admissionQueue
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
