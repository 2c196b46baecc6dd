package routes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"coursepilot/core"
)

// Request is the shared body of createTask and getTask. CourseID narrows the
// run to one course. ExamID switches the run to exam mode; the exam's
// enc_task token and optional access code come with it.
type Request struct {
	TaskID   string `json:"task_id"`
	Phone    string `json:"phone"`
	Passwd   string `json:"passwd"`
	CourseID int64  `json:"course_id"`
	ExamID   int64  `json:"exam_id"`
	EncTask  string `json:"enc_task"`
	ExamCode string `json:"exam_code"`
}

// Summary counts what one automation run finished.
type Summary struct {
	Courses   int `json:"courses"`
	Videos    int `json:"videos"`
	Documents int `json:"documents"`
	Works     int `json:"works"`
	Exams     int `json:"exams"`
	Skipped   int `json:"skipped"`
}

// RunFunc executes one account's automation and reports what was done.
type RunFunc func(ctx context.Context, req Request) (*Summary, error)

// Task is one automation run tracked by the pool.
type Task struct {
	ID          string
	Status      string // processing | completed | error
	ErrorReason string
	Summary     *Summary
	ProcessTime float64
}

var (
	taskPool sync.Map
	runTask  RunFunc
)

// TaskTimeout bounds one full automation run; course workloads are long but
// not unbounded.
const TaskTimeout = 2 * time.Hour

// Init wires the automation runner the routes dispatch to.
func Init(run RunFunc) {
	runTask = run
}

func CreateTaskRoute(c echo.Context) error {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recovered from panic: %v", r)
		}
	}()

	contentType := c.Request().Header.Get("Content-Type")
	if contentType != "application/json" {
		return c.JSON(http.StatusUnsupportedMediaType, map[string]interface{}{
			"success": false,
			"error":   "unsupported Content-Type",
			"details": fmt.Sprintf("expected 'Content-Type: application/json' but got '%s'", contentType),
		})
	}

	var req Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid request"})
	}
	if req.Phone == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"success": false, "error": "missing phone"})
	}
	if runTask == nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"success": false, "error": "runner not configured"})
	}

	task := &Task{ID: uuid.NewString(), Status: "processing"}
	taskPool.Store(task.ID, task)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), TaskTimeout)
		defer cancel()

		start := time.Now()
		summary, err := runTask(ctx, req)
		task.ProcessTime = time.Since(start).Seconds()
		if err != nil {
			task.Status = "error"
			task.ErrorReason = taskErrorReason(err)
			log.Printf("task %s failed after %.1fs: %v", task.ID, task.ProcessTime, err)
			return
		}
		task.Summary = summary
		task.Status = "completed"
		log.Printf("task %s completed in %.1fs [%s]", task.ID, task.ProcessTime, core.MaskPhone(req.Phone))
	}()

	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "task_id": task.ID})
}

// taskErrorReason maps internal errors to the client-facing reason strings.
func taskErrorReason(err error) string {
	switch {
	case errors.Is(err, core.ErrLoginFailed):
		return "login failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout reached"
	default:
		return err.Error()
	}
}

func GetTaskRoute(c echo.Context) error {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recovered from panic: %v", r)
		}
	}()

	var req Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid request"})
	}

	val, exists := taskPool.Load(req.TaskID)
	if !exists {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid task_id"})
	}
	task := val.(*Task)

	switch task.Status {
	case "completed":
		taskPool.Delete(req.TaskID)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": true,
			"status":  task.Status,
			"summary": task.Summary,
			"time":    math.Round(task.ProcessTime*100) / 100,
		})

	case "error":
		taskPool.Delete(req.TaskID)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false,
			"status":  task.Status,
			"error":   task.ErrorReason,
		})

	case "processing":
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false,
			"status":  task.Status,
		})

	default:
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "unknown task status",
		})
	}
}
