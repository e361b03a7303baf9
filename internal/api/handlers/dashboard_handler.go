package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wintrouble/backend/internal/storage/models"
)

const dayLayout = "2006-01-02"

// QueryReports is the read side of the query ledger used by the dashboard.
type QueryReports interface {
	Escalations(ctx context.Context, limit int) ([]models.QueryRecord, error)
	Stats(ctx context.Context, now time.Time) (*models.QueryStats, error)
	DailyBreakdown(ctx context.Context, from, to time.Time) ([]models.DailyQueryStats, error)
}

type DashboardHandler struct {
	reports QueryReports
	now     func() time.Time
}

func NewDashboardHandler(reports QueryReports) *DashboardHandler {
	return &DashboardHandler{reports: reports, now: time.Now}
}

func (h *DashboardHandler) Escalations(c *fiber.Ctx) error {
	records, err := h.reports.Escalations(c.UserContext(), boundedLimit(c.QueryInt("limit", 50)))
	if err != nil {
		return err
	}
	if records == nil {
		records = []models.QueryRecord{}
	}
	return c.JSON(fiber.Map{
		"escalations": records,
	})
}

func (h *DashboardHandler) Overview(c *fiber.Ctx) error {
	stats, err := h.reports.Stats(c.UserContext(), h.now())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// Daily returns per-day totals for ?from=YYYY-MM-DD to ?to=YYYY-MM-DD, both
// inclusive. The default window is the last 30 days including today.
func (h *DashboardHandler) Daily(c *fiber.Ctx) error {
	now := h.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	from, err := parseDay(c.Query("from"), today.AddDate(0, 0, -29))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "from must be YYYY-MM-DD")
	}
	to, err := parseDay(c.Query("to"), today)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "to must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return fiber.NewError(fiber.StatusBadRequest, "to is before from")
	}

	days, err := h.reports.DailyBreakdown(c.UserContext(), from, to.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	if days == nil {
		days = []models.DailyQueryStats{}
	}
	return c.JSON(fiber.Map{
		"from": from.Format(dayLayout),
		"to":   to.Format(dayLayout),
		"days": days,
	})
}

func parseDay(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	return time.Parse(dayLayout, s)
}
