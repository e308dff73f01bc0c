package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"checkpoint-service/internal/app"
	"checkpoint-service/internal/domain"
	"checkpoint-service/internal/infra/postgres"
	"checkpoint-service/internal/infra/postgres/migrations"
	infraredis "checkpoint-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

type stack struct {
	db        *bun.DB
	pool      *pgxpool.Pool
	redis     *goredis.Client
	sessions  *app.SessionService
	execution *app.ExecutionService
	feed      *infraredis.EventFeed
}

func newStack(t *testing.T, ctx context.Context) *stack {
	t.Helper()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	t.Cleanup(pgCleanup)
	redisURL, redisCleanup := startRedis(t, ctx)
	t.Cleanup(redisCleanup)

	db := migrateAndSeed(t, ctx, pgURL)
	t.Cleanup(func() { _ = db.Close() })

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = redisClient.Close() })

	loader := postgres.NewCatalogLoader(pool)
	catalog := infraredis.NewCatalogCache(redisClient, loader, 5*time.Minute)
	store := postgres.NewStore(db)
	feed := infraredis.NewEventFeed(redisClient, nil)
	opts := []app.Option{app.WithEventFeed(feed)}
	return &stack{
		db:        db,
		pool:      pool,
		redis:     redisClient,
		sessions:  app.NewSessionService(store, catalog, loader, opts...),
		execution: app.NewExecutionService(store, catalog, opts...),
		feed:      feed,
	}
}

func TestCheckpointSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, ctx)

	session, err := s.sessions.CreateSession(ctx, "u1", "cp-1", []byte(`{"browser":"firefox"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.AttemptNumber != 1 || session.QuestionsTotal != 3 {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.TimeLimitSeconds == nil || *session.TimeLimitSeconds != 2700 {
		t.Fatalf("expected accommodated 2700s limit, got %v", session.TimeLimitSeconds)
	}

	events, cancel, err := s.sessions.WatchEvents(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if _, err := s.sessions.StartSession(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case e := <-events:
		if e.EventType != domain.EventSessionStart {
			t.Fatalf("expected session_start over the feed, got %s", e.EventType)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event received over redis feed")
	}

	// Concurrent submissions for one question collapse into a single row.
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(option string) {
			defer wg.Done()
			_, err := s.execution.SubmitResponse(ctx, app.SubmitResponseInput{
				SessionID:       session.ID,
				QuestionID:      "q1",
				ResponsePayload: domain.ResponsePayload{SelectedOptions: []string{option}},
			}, "u1")
			errs <- err
		}([]string{"o1", "o2"}[i%2])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent submit: %v", err)
		}
	}
	var rows int
	if err := s.db.NewSelect().TableExpr("checkpoint_responses").
		ColumnExpr("count(*)").
		Where("session_id = ? AND question_id = ?", session.ID, "q1").
		Scan(ctx, &rows); err != nil {
		t.Fatalf("count responses: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one response row, got %d", rows)
	}

	if _, err := s.execution.SubmitResponse(ctx, app.SubmitResponseInput{
		SessionID:       session.ID,
		QuestionID:      "q1",
		ResponsePayload: domain.ResponsePayload{SelectedOptions: []string{"o2"}},
	}, "u1"); err != nil {
		t.Fatalf("final answer: %v", err)
	}
	if _, err := s.execution.SubmitResponse(ctx, app.SubmitResponseInput{
		SessionID:       session.ID,
		QuestionID:      "q2",
		ResponsePayload: domain.ResponsePayload{Ordering: []string{"one", "two", "three"}},
	}, "u1"); err != nil {
		t.Fatalf("ordering answer: %v", err)
	}
	text := "Because the digits add up."
	if _, err := s.execution.SubmitResponse(ctx, app.SubmitResponseInput{
		SessionID:       session.ID,
		QuestionID:      "q3",
		ResponsePayload: domain.ResponsePayload{TextResponse: &text},
	}, "u1"); err != nil {
		t.Fatalf("text answer: %v", err)
	}
	if _, err := s.execution.FlagQuestion(ctx, session.ID, "q3", "u1"); err != nil {
		t.Fatalf("flag: %v", err)
	}

	completeness, err := s.execution.CheckCompleteness(ctx, session.ID)
	if err != nil {
		t.Fatalf("completeness: %v", err)
	}
	if !completeness.IsComplete {
		t.Fatalf("expected complete, got %+v", completeness)
	}

	if _, err := s.sessions.RecordEvent(ctx, app.EventInput{SessionID: session.ID, EventType: domain.EventPasteAttempt}); err != nil {
		t.Fatalf("record event: %v", err)
	}

	submitted, err := s.sessions.SubmitSession(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != domain.StatusSubmitted || submitted.Score == nil || submitted.MaxScore == nil {
		t.Fatalf("unexpected submitted session %+v", submitted)
	}
	if *submitted.Score != 3 || *submitted.MaxScore != 3 || submitted.PendingReviewCount != 1 {
		t.Fatalf("expected 3/3 with one pending review, got %v/%v pending=%d", *submitted.Score, *submitted.MaxScore, submitted.PendingReviewCount)
	}
	if submitted.QuestionsAnswered != 3 || !submitted.IntegrityFlagged {
		t.Fatalf("expected 3 answered and integrity flag, got %+v", submitted)
	}

	logged, err := s.sessions.ListEvents(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if logged[0].EventType != domain.EventSessionStart || logged[len(logged)-1].EventType != domain.EventSubmit {
		t.Fatalf("unexpected event order: first=%s last=%s", logged[0].EventType, logged[len(logged)-1].EventType)
	}

	// A second attempt is numbered after the first.
	second, err := s.sessions.CreateSession(ctx, "u1", "cp-1", nil)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if second.AttemptNumber != 2 {
		t.Fatalf("expected attempt 2, got %d", second.AttemptNumber)
	}
}

func TestCatalogCacheServesFromRedis(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, ctx)

	session, err := s.sessions.CreateSession(ctx, "u2", "cp-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.sessions.StartSession(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := s.execution.GetSessionQuestions(ctx, session.ID, "u2")
	if err != nil {
		t.Fatalf("questions: %v", err)
	}

	// Rewrite the prompt underneath the cache; the cached copy keeps serving.
	if _, err := s.db.ExecContext(ctx, `UPDATE questions SET prompt = 'changed' WHERE id = 'q1'`); err != nil {
		t.Fatalf("update prompt: %v", err)
	}
	second, err := s.execution.GetSessionQuestions(ctx, session.ID, "u2")
	if err != nil {
		t.Fatalf("questions again: %v", err)
	}
	if second.Questions[0].Prompt != first.Questions[0].Prompt {
		t.Fatalf("expected cached prompt %q, got %q", first.Questions[0].Prompt, second.Questions[0].Prompt)
	}
	if n, err := s.redis.Exists(ctx, "question:q1:content").Result(); err != nil || n != 1 {
		t.Fatalf("expected cached question content, exists=%d err=%v", n, err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "checkpoint", "POSTGRES_PASSWORD": "checkpointpass", "POSTGRES_DB": "checkpointdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://checkpoint:checkpointpass@%s:%s/checkpointdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

// migrateAndSeed applies the schema and inserts one checkpoint with three questions.
// The postgres readiness wait can fire before the server accepts queries, so init is retried.
func migrateAndSeed(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		if err = migrator.Init(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	statements := []string{
		`INSERT INTO checkpoints (id, community_id, title, status, time_limit_minutes, allow_pause, max_attempts)
		 VALUES ('cp-1', 'c1', 'Numbers', 'active', 30, TRUE, 3)`,
		`INSERT INTO questions (id, question_type, prompt, points) VALUES
		 ('q1', 'multiple_choice', 'What is 2 + 2?', 2),
		 ('q2', 'ordering', 'Order ascending', 1),
		 ('q3', 'short_answer', 'Explain.', 5)`,
		`INSERT INTO checkpoint_questions (checkpoint_id, question_id, display_order, is_required) VALUES
		 ('cp-1', 'q1', 1, TRUE),
		 ('cp-1', 'q2', 2, TRUE),
		 ('cp-1', 'q3', 3, FALSE)`,
		`INSERT INTO question_options (id, question_id, option_text, display_order, is_correct, correct_position) VALUES
		 ('o1', 'q1', '3', 1, FALSE, NULL),
		 ('o2', 'q1', '4', 2, TRUE, NULL),
		 ('two', 'q2', '2', 1, FALSE, 2),
		 ('three', 'q2', '3', 2, FALSE, 3),
		 ('one', 'q2', '1', 3, FALSE, 1)`,
		`INSERT INTO accommodations (user_id, community_id, approved, extended_time, time_multiplier)
		 VALUES ('u1', 'c1', TRUE, TRUE, 1.5)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return db
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
