package httpapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cklxx/taskwarden/internal/domain/task"
)

// analyticsReport is the GET /api/v1/analytics response shape: totals
// by status/priority, daily creation/completion timelines, average
// completion duration, and a trailing-window productivity score.
type analyticsReport struct {
	TotalTasks         int                `json:"totalTasks"`
	ByStatus           map[string]int     `json:"byStatus"`
	ByPriority         map[string]int     `json:"byPriority"`
	CreatedPerDay      map[string]int     `json:"createdPerDay"`
	CompletedPerDay    map[string]int     `json:"completedPerDay"`
	AvgCompletionHours float64            `json:"avgCompletionHours"`
	ProductivityScore  float64            `json:"productivityScore"`
}

const productivityWindow = 14 * 24 * time.Hour

func handleAnalytics(c *gin.Context) {
	svc := servicesFrom(c)
	tasks := svc.Store.Scan()

	report := analyticsReport{
		TotalTasks:      len(tasks),
		ByStatus:        map[string]int{},
		ByPriority:      map[string]int{},
		CreatedPerDay:   map[string]int{},
		CompletedPerDay: map[string]int{},
	}

	var totalCompletionHours float64
	var completedCount int
	cutoff := time.Now().Add(-productivityWindow)
	var completedInWindow int

	for _, t := range tasks {
		report.ByStatus[string(t.Status)]++
		report.ByPriority[string(t.Priority)]++
		report.CreatedPerDay[t.CreatedAt.Format("2006-01-02")]++

		if t.Status == task.StatusDone {
			report.CompletedPerDay[t.UpdatedAt.Format("2006-01-02")]++
			totalCompletionHours += t.UpdatedAt.Sub(t.CreatedAt).Hours()
			completedCount++
			if t.UpdatedAt.After(cutoff) {
				completedInWindow++
			}
		}
	}

	if completedCount > 0 {
		report.AvgCompletionHours = totalCompletionHours / float64(completedCount)
	}
	windowDays := productivityWindow.Hours() / 24
	report.ProductivityScore = float64(completedInWindow) / windowDays

	c.JSON(http.StatusOK, report)
}

// handleQueue returns todo tasks in priority-desc then createdAt-asc
// order: the same tie-break the Dependency Engine's TopoSort uses
// among ready nodes, reused here for a flat priority queue view since
// get_task_status clients poll this for "what's next".
func handleQueue(c *gin.Context) {
	svc := servicesFrom(c)
	tasks := svc.Store.Scan()

	queue := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == task.StatusTodo {
			queue = append(queue, t)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Priority.Rank() != queue[j].Priority.Rank() {
			return queue[i].Priority.Rank() < queue[j].Priority.Rank()
		}
		return queue[i].CreatedAt.Before(queue[j].CreatedAt)
	})
	c.JSON(http.StatusOK, queue)
}
