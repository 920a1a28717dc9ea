package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"mactrack/internal/db"
	"mactrack/internal/targets"
)

func (s *Server) index(c *fiber.Ctx) error {
	return c.Render("search", fiber.Map{
		"Results": nil,
		"Query":   "",
	})
}

// search matches MAC substrings regardless of separators and case.
func (s *Server) search(c *fiber.Ctx) error {
	f := db.MacFilter{
		MAC:    c.Query("q"),
		Device: c.Query("device"),
		VLAN:   c.Query("vlan"),
		Port:   c.Query("port"),
		Limit:  searchLimit,
	}

	results, err := s.store.SearchMacEntries(c.UserContext(), f)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "search failed")
	}

	return c.Render("search", fiber.Map{
		"Results": results,
		"Query":   f.MAC,
		"Device":  f.Device,
		"VLAN":    f.VLAN,
		"Port":    f.Port,
	})
}

func (s *Server) byDate(c *fiber.Ctx) error {
	ctx := c.UserContext()
	date := c.Query("date")

	dates, err := s.store.CollectionDates(ctx)
	if err != nil {
		s.logger.Error("listing collection dates failed", zap.Error(err))
		return c.Render("by_date", fiber.Map{"Error": "Could not load collection dates"})
	}

	data := fiber.Map{
		"Dates":    dates,
		"Selected": date,
	}
	if date == "" {
		return c.Render("by_date", data)
	}

	results, err := s.store.EntriesOnDate(ctx, date)
	switch {
	case errors.Is(err, db.ErrInvalidDate):
		data["Error"] = "Invalid date, use YYYY-MM-DD"
		data["Selected"] = ""
	case err != nil:
		s.logger.Error("loading entries by date failed", zap.String("date", date), zap.Error(err))
		data["Error"] = "Could not load entries"
	default:
		data["Results"] = results
	}
	return c.Render("by_date", data)
}

func (s *Server) logs(c *fiber.Ctx) error {
	logs, err := s.store.ListLogs(c.UserContext(), db.LogFilter{Limit: logsLimit})
	if err != nil {
		s.logger.Error("listing logs failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "could not load logs")
	}
	return c.Render("logs", fiber.Map{
		"Logs": logs,
		"Task": c.Query("task"),
	})
}

func (s *Server) cleanupPage(c *fiber.Ctx) error {
	stats, err := s.store.CleanupStats(c.UserContext(), s.opts.RetentionDays)
	if err != nil {
		s.logger.Error("loading cleanup stats failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "could not load statistics")
	}
	return c.Render("cleanup", fiber.Map{
		"Stats":         stats,
		"RetentionDays": s.opts.RetentionDays,
	})
}

// startCleanup purges entries past the retention window, or every entry
// when the form carries all=1.
func (s *Server) startCleanup(c *fiber.Ctx) error {
	if c.FormValue("all") == "1" {
		id := s.tasks.Go("cleanup_all", "Full cleanup started", func() (string, error) {
			n, err := s.purger.PurgeAll(s.ctx)
			if err != nil {
				return "", fmt.Errorf("cleanup failed: %w", err)
			}
			return fmt.Sprintf("Cleanup complete, deleted all %d entries", n), nil
		})
		return c.JSON(fiber.Map{"success": true, "task_id": id})
	}

	days := s.opts.RetentionDays
	id := s.tasks.Go("cleanup", "Cleanup started", func() (string, error) {
		n, err := s.purger.PurgeOlderThan(s.ctx, days)
		if err != nil {
			return "", fmt.Errorf("cleanup failed: %w", err)
		}
		return fmt.Sprintf("Cleanup complete, deleted %d entries older than %d days", n, days), nil
	})
	return c.JSON(fiber.Map{"success": true, "task_id": id})
}

// trigger starts a collection of the configured network and sends the
// browser to the audit log.
func (s *Server) trigger(c *fiber.Ctx) error {
	id := s.tasks.Go("collect", "Collection started", func() (string, error) {
		res, err := s.collector.CollectConfigured(s.ctx)
		if err != nil {
			return "", fmt.Errorf("collection failed: %w", err)
		}
		return fmt.Sprintf("Collection complete: processed=%d, succeeded=%d, macs=%d",
			res.Processed, res.Succeeded, res.MACs), nil
	})
	return c.Redirect("/logs?task=" + id)
}

func (s *Server) manualCollect(c *fiber.Ctx) error {
	// Form values alias the request buffer and must be copied before the
	// background task reads them.
	network := utils.CopyString(c.FormValue("network"))
	community := utils.CopyString(c.FormValue("community"))

	if network == "" || community == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "network and community are required"})
	}
	if _, err := targets.Parse(network); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	id := s.tasks.Go("manual_collect", "Manual collection started: "+network, func() (string, error) {
		res, err := s.collector.CollectManual(s.ctx, network, community)
		if err != nil {
			return "", fmt.Errorf("manual collection failed: %w", err)
		}
		return fmt.Sprintf("Manual collection complete: %s, processed=%d, succeeded=%d, macs=%d",
			network, res.Processed, res.Succeeded, res.MACs), nil
	})
	return c.JSON(fiber.Map{"success": true, "task_id": id})
}

func (s *Server) taskStatus(c *fiber.Ctx) error {
	task, ok := s.tasks.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "task not found"})
	}
	return c.JSON(task)
}

func (s *Server) apiEntries(c *fiber.Ctx) error {
	f := db.MacFilter{
		MAC:    c.Query("mac"),
		Device: c.Query("device"),
		VLAN:   c.Query("vlan"),
		Port:   c.Query("port"),
		Limit:  c.QueryInt("limit", searchLimit),
	}

	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	entries, err := s.store.SearchMacEntries(c.UserContext(), f)
	if err != nil {
		s.logger.Error("api search failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "search failed"})
	}
	return c.JSON(entries)
}

func (s *Server) apiDates(c *fiber.Ctx) error {
	dates, err := s.store.CollectionDates(c.UserContext())
	if err != nil {
		s.logger.Error("api dates failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not load dates"})
	}
	return c.JSON(dates)
}

func (s *Server) apiLogs(c *fiber.Ctx) error {
	f := db.LogFilter{Limit: c.QueryInt("limit", logsLimit)}

	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	logs, err := s.store.ListLogs(c.UserContext(), f)
	if err != nil {
		s.logger.Error("api logs failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not load logs"})
	}
	return c.JSON(logs)
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(c *fiber.Ctx, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: want RFC 3339 timestamp", key)
	}
	return t, nil
}
