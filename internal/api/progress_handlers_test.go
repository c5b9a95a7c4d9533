package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"quitcoach/internal/auth"
	"quitcoach/internal/badge"
	"quitcoach/internal/db"
	"quitcoach/internal/engine"
	"quitcoach/internal/notify"
	"quitcoach/internal/plan"
	"quitcoach/internal/progress"
	"quitcoach/internal/stage"
	"quitcoach/internal/stats"
	"quitcoach/internal/user"
)

// newTestService builds the engine over db.DB with follow-ups run inline.
func newTestService(t *testing.T) *engine.Service {
	t.Helper()
	conn := db.DB
	plans := plan.NewStore(conn)
	ledger := progress.NewLedger(conn, progress.DefaultCigarettesPerPack, nil)
	emitter := notify.NewEmitter(conn, nil, nil)
	agg := stats.NewAggregator(conn, ledger, time.UTC)
	return engine.New(engine.Deps{
		Plans:         plans,
		Ledger:        ledger,
		Monitor:       progress.NewMonitor(ledger, progress.DefaultWarningRatio, nil),
		Stages:        stage.NewManager(conn, plans, ledger, emitter, progress.DefaultWarningRatio, nil),
		Stats:         agg,
		Badges:        badge.NewEvaluator(conn, agg, emitter, nil),
		Notifications: emitter,
		Location:      time.UTC,
	})
}

type world struct {
	svc      *engine.Service
	owner    auth.Actor
	coach    auth.Actor
	admin    auth.Actor
	stranger auth.Actor
	planID   uint
	stageID  uint
}

// newWorld seeds an owner with a baseline, a coach-assigned plan and one
// stage spanning 2024-01-01..2024-01-10 with a limit of 10.
func newWorld(t *testing.T) *world {
	t.Helper()
	setupUserDB(t)
	w := &world{svc: newTestService(t)}
	w.owner = actorOf(seedUser(t, "owner", user.RoleUser))
	w.coach = actorOf(seedUser(t, "coach", user.RoleCoach))
	w.admin = actorOf(seedUser(t, "admin", user.RoleAdmin))
	w.stranger = actorOf(seedUser(t, "stranger", user.RoleUser))

	ctx := context.Background()
	coachID := w.coach.UserID
	p := &plan.QuitPlan{UserID: w.owner.UserID, CoachID: &coachID, Name: "Smoke-free summer"}
	if err := w.svc.CreatePlan(ctx, w.owner, p); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	limit := 10
	st, err := w.svc.CreateStage(ctx, w.coach, stage.Input{
		PlanID:         p.ID,
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		CigaretteLimit: &limit,
	})
	if err != nil {
		t.Fatalf("create stage: %v", err)
	}
	if _, err := w.svc.RecordBaseline(ctx, w.owner, 20, 30000); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	w.planID, w.stageID = p.ID, st.ID
	return w
}

func actorOf(u user.User) auth.Actor {
	return auth.Actor{UserID: u.ID, Role: u.Role}
}

// router mounts the progress routes with a fixed caller.
func (w *world) router(a auth.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withActor(a))
	r.POST("/progress", SubmitProgressHandler(w.svc))
	r.GET("/progress", ListProgressHandler(w.svc))
	r.GET("/progress/stage/:stageId", ListStageProgressHandler(w.svc))
	r.GET("/progress/stage/:stageId/user", StageTaskProgressHandler(w.svc))
	r.GET("/progress/:id", GetProgressHandler(w.svc))
	r.PUT("/progress/:id", UpdateProgressHandler(w.svc))
	r.DELETE("/progress/:id", DeleteProgressHandler(w.svc))
	r.GET("/progress/consecutive-no-smoke/:userId", ConsecutiveNoSmokeHandler(w.svc))
	r.GET("/progress/user/:id", UserProgressHandler(w.svc))
	r.GET("/progress/plan/:id", PlanProgressHandler(w.svc))
	r.GET("/progress/plan/:id/money-saved", PlanMoneySavedHandler(w.svc))
	r.POST("/smoking-status", RecordBaselineHandler(w.svc))
	return r
}

func (w *world) entry(date string, smoked int) map[string]any {
	return map[string]any{"stage_id": w.stageID, "date": date, "cigarettes_smoked": smoked}
}

type submitBody struct {
	Progress   progress.Progress   `json:"progress"`
	Evaluation progress.Evaluation `json:"evaluation"`
	Retried    bool                `json:"retried"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func TestSubmitProgressHandler_Created(t *testing.T) {
	w := newWorld(t)
	rec := postJSON(w.router(w.owner), "/progress", w.entry("2024-01-03", 5))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body submitBody
	decode(t, rec, &body)
	if body.Progress.MoneySaved != 22500 {
		t.Errorf("money_saved = %v, want 22500", body.Progress.MoneySaved)
	}
	if body.Evaluation.Status != progress.StatusOK {
		t.Errorf("status = %s, want OK", body.Evaluation.Status)
	}
}

func TestSubmitProgressHandler_Conflict(t *testing.T) {
	w := newWorld(t)
	r := w.router(w.owner)
	postJSON(r, "/progress", w.entry("2024-01-03", 1))
	rec := postJSON(r, "/progress", w.entry("2024-01-03", 2))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if !contains(rec.Body.String(), `"date":"2024-01-03"`) {
		t.Errorf("expected offending date in details: %s", rec.Body.String())
	}
}

func TestSubmitProgressHandler_OutOfRange(t *testing.T) {
	w := newWorld(t)
	rec := postJSON(w.router(w.owner), "/progress", w.entry("2024-01-11", 0))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	for _, want := range []string{`"window_start":"2024-01-01"`, `"window_end":"2024-01-10"`, `"date":"2024-01-11"`} {
		if !contains(rec.Body.String(), want) {
			t.Errorf("expected %s in details: %s", want, rec.Body.String())
		}
	}

	rec = postJSON(w.router(w.owner), "/progress", w.entry("2024-01-04", -1))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for negative count, got %d", rec.Code)
	}
}

func TestSubmitProgressHandler_BadRequests(t *testing.T) {
	w := newWorld(t)
	r := w.router(w.owner)
	if rec := postJSON(r, "/progress", map[string]any{"stage_id": w.stageID, "date": "2024-01-02"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing cigarettes_smoked: got %d, want 400", rec.Code)
	}
	if rec := postJSON(r, "/progress", w.entry("02/01/2024", 1)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: got %d, want 400", rec.Code)
	}
}

func TestSubmitProgressHandler_ZeroIsAValidCount(t *testing.T) {
	w := newWorld(t)
	rec := postJSON(w.router(w.owner), "/progress", w.entry("2024-01-02", 0))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitProgressHandler_Forbidden(t *testing.T) {
	w := newWorld(t)
	rec := postJSON(w.router(w.stranger), "/progress", w.entry("2024-01-02", 0))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitProgressHandler_BreachRetries(t *testing.T) {
	w := newWorld(t)
	r := w.router(w.coach)
	postJSON(r, "/progress", w.entry("2024-01-01", 7))
	rec := postJSON(r, "/progress", w.entry("2024-01-02", 4))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body submitBody
	decode(t, rec, &body)
	if body.Evaluation.Status != progress.StatusBreach || !body.Retried {
		t.Errorf("expected breach with retry, got %+v", body)
	}
	if body.Progress.UserID != w.owner.UserID {
		t.Errorf("coach entry should be recorded for the plan owner, got user %d", body.Progress.UserID)
	}
}

func TestUpdateAndDeleteProgressHandlers(t *testing.T) {
	w := newWorld(t)
	rec := postJSON(w.router(w.owner), "/progress", w.entry("2024-01-02", 1))
	var created submitBody
	decode(t, rec, &created)
	path := fmt.Sprintf("/progress/%d", created.Progress.ID)

	if rec := doJSON(w.router(w.coach), "PUT", path, map[string]any{"cigarettes_smoked": 2}); rec.Code != http.StatusForbidden {
		t.Errorf("coach update: got %d, want 403", rec.Code)
	}
	rec = doJSON(w.router(w.owner), "PUT", path, map[string]any{"cigarettes_smoked": 0, "health_status": "great"})
	if rec.Code != http.StatusOK {
		t.Fatalf("owner update: got %d: %s", rec.Code, rec.Body.String())
	}
	var updated submitBody
	decode(t, rec, &updated)
	if updated.Progress.MoneySaved != 30000 || updated.Progress.HealthStatus != "great" {
		t.Errorf("unexpected update result: %+v", updated.Progress)
	}

	if rec := doJSON(w.router(w.owner), "PUT", "/progress/abc", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d, want 400", rec.Code)
	}
	if rec := doJSON(w.router(w.admin), "DELETE", path, nil); rec.Code != http.StatusOK {
		t.Errorf("admin delete: got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(w.router(w.owner), "DELETE", path, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", rec.Code)
	}
}

func TestProgressQueries(t *testing.T) {
	w := newWorld(t)
	r := w.router(w.owner)
	postJSON(r, "/progress", w.entry("2024-01-01", 0))
	postJSON(r, "/progress", w.entry("2024-01-02", 0))
	postJSON(r, "/progress", w.entry("2024-01-03", 5))

	rec := doJSON(w.router(w.coach), "GET", fmt.Sprintf("/progress/stage/%d", w.stageID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got %d", rec.Code)
	}
	var rows []progress.Progress
	decode(t, rec, &rows)
	if len(rows) != 3 {
		t.Errorf("expected 3 rows, got %d", len(rows))
	}

	rec = doJSON(r, "GET", fmt.Sprintf("/progress/consecutive-no-smoke/%d", w.owner.UserID), nil)
	if !contains(rec.Body.String(), `"consecutive_no_smoke_days":2`) {
		t.Errorf("streak: %s", rec.Body.String())
	}

	rec = doJSON(r, "GET", fmt.Sprintf("/progress/plan/%d/money-saved", w.planID), nil)
	if !contains(rec.Body.String(), `"total_money_saved":82500`) {
		t.Errorf("money saved: %s", rec.Body.String())
	}

	rec = doJSON(w.router(w.stranger), "GET", fmt.Sprintf("/progress/plan/%d/money-saved", w.planID), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger money saved: got %d, want 403", rec.Code)
	}
}

func TestGetAndListProgressHandlers(t *testing.T) {
	w := newWorld(t)
	rec := postJSON(w.router(w.owner), "/progress", w.entry("2024-01-01", 0))
	var created submitBody
	decode(t, rec, &created)
	path := fmt.Sprintf("/progress/%d", created.Progress.ID)

	for _, a := range []auth.Actor{w.owner, w.coach, w.admin} {
		if rec := doJSON(w.router(a), "GET", path, nil); rec.Code != http.StatusOK {
			t.Errorf("get as %s: got %d: %s", a.Role, rec.Code, rec.Body.String())
		}
	}
	if rec := doJSON(w.router(w.stranger), "GET", path, nil); rec.Code != http.StatusForbidden {
		t.Errorf("stranger get: got %d, want 403", rec.Code)
	}
	if rec := doJSON(w.router(w.owner), "GET", "/progress/999", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing entry: got %d, want 404", rec.Code)
	}

	otherCoach := actorOf(seedUser(t, "other-coach", user.RoleCoach))
	tests := []struct {
		actor auth.Actor
		want  int
	}{
		{w.owner, 1},
		{w.coach, 1},
		{w.admin, 1},
		{w.stranger, 0},
		{otherCoach, 0},
	}
	for _, tt := range tests {
		rec := doJSON(w.router(tt.actor), "GET", "/progress", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("list as %d: got %d", tt.actor.UserID, rec.Code)
		}
		var rows []progress.Progress
		decode(t, rec, &rows)
		if len(rows) != tt.want {
			t.Errorf("list as %s(%d): got %d rows, want %d", tt.actor.Role, tt.actor.UserID, len(rows), tt.want)
		}
	}
}

func TestPlanAndUserProgressHandlers(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	planPath := fmt.Sprintf("/progress/plan/%d", w.planID)
	userPath := fmt.Sprintf("/progress/user/%d", w.owner.UserID)

	rec := doJSON(w.router(w.owner), "GET", planPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("plan progress: got %d: %s", rec.Code, rec.Body.String())
	}
	var pp engine.PlanProgress
	decode(t, rec, &pp)
	if pp.TotalStages != 1 || pp.CompletedStages != 0 || pp.ProgressPercent != 0 {
		t.Errorf("fresh plan: %+v", pp)
	}

	backup := &plan.QuitPlan{UserID: w.owner.UserID, Name: "Backup"}
	if err := w.svc.CreatePlan(ctx, w.owner, backup); err != nil {
		t.Fatal(err)
	}
	done := true
	if _, err := w.svc.UpdateStage(ctx, w.coach, w.stageID, stage.Update{IsCompleted: &done}); err != nil {
		t.Fatal(err)
	}

	decode(t, doJSON(w.router(w.coach), "GET", planPath, nil), &pp)
	if pp.CompletedStages != 1 || pp.ProgressPercent != 100 {
		t.Errorf("completed plan: %+v", pp)
	}

	rec = doJSON(w.router(w.owner), "GET", userPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user progress: got %d: %s", rec.Code, rec.Body.String())
	}
	var up engine.UserProgress
	decode(t, rec, &up)
	// One plan done, one without stages.
	if up.OverallProgressPercent != 50 || len(up.Plans) != 2 {
		t.Errorf("overall progress: %+v", up)
	}

	if rec := doJSON(w.router(w.stranger), "GET", planPath, nil); rec.Code != http.StatusForbidden {
		t.Errorf("stranger plan progress: got %d, want 403", rec.Code)
	}
	if rec := doJSON(w.router(w.stranger), "GET", userPath, nil); rec.Code != http.StatusForbidden {
		t.Errorf("stranger user progress: got %d, want 403", rec.Code)
	}
	if rec := doJSON(w.router(w.coach), "GET", userPath, nil); rec.Code != http.StatusOK {
		t.Errorf("plan coach user progress: got %d", rec.Code)
	}
	if rec := doJSON(w.router(w.owner), "GET", "/progress/plan/999", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing plan: got %d, want 404", rec.Code)
	}
}

func TestStageTaskProgressHandler(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	path := fmt.Sprintf("/progress/stage/%d/user", w.stageID)

	var tasks []plan.Task
	for _, title := range []string{"Tell a friend", "Bin the lighters"} {
		task := plan.Task{Title: title}
		if err := w.svc.CreateTask(ctx, w.coach, w.stageID, &task); err != nil {
			t.Fatal(err)
		}
		tasks = append(tasks, task)
	}
	if _, err := w.svc.CompleteTask(ctx, w.owner, tasks[0].ID); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(w.router(w.coach), "GET", path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("task progress: got %d: %s", rec.Code, rec.Body.String())
	}
	var tp stage.TaskProgress
	decode(t, rec, &tp)
	if tp.Total != 2 || tp.Done != 1 || tp.Percent != 50 || tp.AttemptNumber != 1 {
		t.Errorf("attempt 1: %+v", tp)
	}

	// A breach opens attempt 2 and the checklist starts over.
	r := w.router(w.owner)
	postJSON(r, "/progress", w.entry("2024-01-01", 7))
	postJSON(r, "/progress", w.entry("2024-01-02", 4))
	decode(t, doJSON(r, "GET", path, nil), &tp)
	if tp.AttemptNumber != 2 || tp.Done != 0 || tp.Percent != 0 {
		t.Errorf("attempt 2: %+v", tp)
	}

	if rec := doJSON(w.router(w.stranger), "GET", path, nil); rec.Code != http.StatusForbidden {
		t.Errorf("stranger task progress: got %d, want 403", rec.Code)
	}
}

func TestRecordBaselineHandler(t *testing.T) {
	w := newWorld(t)
	r := w.router(w.owner)
	if rec := postJSON(r, "/smoking-status", map[string]any{"cigarettes_per_day": 10, "cost_per_pack": 40000}); rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := postJSON(r, "/smoking-status", map[string]any{"cigarettes_per_day": 10}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without cost, got %d", rec.Code)
	}
	if rec := postJSON(r, "/smoking-status", map[string]any{"cigarettes_per_day": -1, "cost_per_pack": 1}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for negative baseline, got %d", rec.Code)
	}
}
