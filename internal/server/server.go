// Package server exposes the reminder actions as MCP tools.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/notexe/vocalizeit/internal/lifecycle"
	"github.com/notexe/vocalizeit/internal/reminder"
	"github.com/notexe/vocalizeit/internal/scheduler"
	"github.com/notexe/vocalizeit/internal/settings"
	"github.com/notexe/vocalizeit/internal/ui"
)

const (
	serverName    = "vocalizeit"
	serverVersion = "1.0.0"
)

// Reminders is the reminder state machine behind the tools.
type Reminders interface {
	Create(ctx context.Context, in lifecycle.Input) (reminder.Reminder, error)
	Edit(ctx context.Context, id string, patch lifecycle.Patch) (reminder.Reminder, error)
	Complete(ctx context.Context, id string) (reminder.Reminder, error)
	Dismiss(ctx context.Context, id string) (reminder.Reminder, error)
	Snooze(ctx context.Context, id string, minutes int) (reminder.Reminder, error)
	Delete(ctx context.Context, id string) (reminder.Reminder, error)
	Get(ctx context.Context, id string) (reminder.Reminder, error)
	ListUpcoming(ctx context.Context) ([]reminder.Reminder, error)
	ListHistory(ctx context.Context) ([]reminder.Reminder, error)
}

// Settings reads and updates the app settings.
type Settings interface {
	Get(ctx context.Context) (reminder.AppSettings, error)
	Set(ctx context.Context, patch settings.Patch) (reminder.AppSettings, error)
}

// Alarms is the queue of alarms waiting for the user.
type Alarms interface {
	Active() []reminder.Reminder
	Acknowledge(id string) bool
}

// Opener reports a user-opened notification to the delivery callback.
type Opener interface {
	Open(ctx context.Context, payload scheduler.Payload)
}

// PendingLister lists armed notifications.
type PendingLister interface {
	Pending() []scheduler.Pending
}

// Deps holds the collaborators of the server. Alarms, Opener and Pending
// are optional.
type Deps struct {
	Reminders Reminders
	Settings  Settings
	Alarms    Alarms
	Opener    Opener
	Pending   PendingLister
	Formatter *ui.Formatter
}

// Server is the MCP server for reminder management.
type Server struct {
	mcpServer *server.MCPServer
	deps      Deps
	now       func() time.Time
}

// New creates the MCP server and registers its tools.
func New(deps Deps) *Server {
	if deps.Formatter == nil {
		deps.Formatter = ui.NewFormatter(false, nil)
	}
	s := &Server{
		deps: deps,
		now:  time.Now,
	}

	s.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("add_reminder",
			mcp.WithDescription("Create a reminder. Give either 'target' or 'in_minutes'."),
			mcp.WithString("task", mcp.Required(), mcp.Description("What to remind about; spoken aloud when the reminder fires")),
			mcp.WithString("target", mcp.Description("Fire time in RFC3339 format (e.g. 2025-01-15T09:00:00+01:00)")),
			mcp.WithNumber("in_minutes", mcp.Description("Fire this many minutes from now")),
			mcp.WithBoolean("is_critical", mcp.Description("Critical reminders bypass Do Not Disturb and stay until acted on")),
			mcp.WithString("recurrence", mcp.Description("none, daily, weekly or monthly (default: none)")),
			mcp.WithString("days_of_week", mcp.Description("Weekly only: comma-separated days, 0=Sunday ... 6=Saturday (e.g. 1,3,5)")),
		),
		s.handleAddReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("edit_reminder",
			mcp.WithDescription("Change an upcoming reminder. Only the given fields are updated."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithString("task", mcp.Description("New task text")),
			mcp.WithString("target", mcp.Description("New fire time in RFC3339 format")),
			mcp.WithBoolean("is_critical", mcp.Description("New critical flag")),
			mcp.WithString("recurrence", mcp.Description("New recurrence: none, daily, weekly or monthly")),
			mcp.WithString("days_of_week", mcp.Description("Weekly only: comma-separated days 0-6")),
		),
		s.handleEditReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_upcoming",
			mcp.WithDescription("List upcoming reminders, soonest first"),
			mcp.WithString("format", mcp.Description("json (default) or markdown")),
		),
		s.handleListUpcoming,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_history",
			mcp.WithDescription("List completed, dismissed and missed reminders, latest first"),
			mcp.WithString("format", mcp.Description("json (default) or markdown")),
		),
		s.handleListHistory,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_reminder",
			mcp.WithDescription("Get a single reminder"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleGetReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("complete_reminder",
			mcp.WithDescription("Mark an upcoming reminder as done"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleCompleteReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("snooze_reminder",
			mcp.WithDescription("Push an upcoming reminder back. Defaults to the snooze duration from settings."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithNumber("minutes", mcp.Description("Minutes from now, 1-1440; omit or 0 for the default from settings")),
		),
		s.handleSnoozeReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("dismiss_reminder",
			mcp.WithDescription("Dismiss an upcoming reminder without completing it"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleDismissReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("delete_reminder",
			mcp.WithDescription("Delete a reminder permanently. Returns the deleted reminder."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleDeleteReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_settings",
			mcp.WithDescription("Get the app settings"),
		),
		s.handleGetSettings,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("update_settings",
			mcp.WithDescription("Update the app settings. Only the given fields are changed."),
			mcp.WithNumber("snooze_duration", mcp.Description("Default snooze in minutes, 1-1440")),
			mcp.WithString("theme", mcp.Description("light, dark, amoled or system")),
		),
		s.handleUpdateSettings,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("open_notification",
			mcp.WithDescription("Open the notification of a reminder, as if tapped by the user"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleOpenNotification,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_alarms",
			mcp.WithDescription("List alarms currently waiting for the user, and armed notifications"),
		),
		s.handleListAlarms,
	)
}

func (s *Server) handleAddReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := req.GetString("task", "")
	if strings.TrimSpace(task) == "" {
		return mcp.NewToolResultError("task is required"), nil
	}

	target, err := s.parseTarget(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if target == nil {
		return mcp.NewToolResultError("either target or in_minutes is required"), nil
	}

	rec, err := parseRecurrence(req.GetString("recurrence", ""), req.GetString("days_of_week", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r, err := s.deps.Reminders.Create(ctx, lifecycle.Input{
		Task:            task,
		TargetTimestamp: *target,
		IsCritical:      req.GetBool("is_critical", false),
		Recurrence:      rec,
	})
	return reminderResult("add reminder", r, err)
}

func (s *Server) handleEditReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	args := req.GetArguments()
	var patch lifecycle.Patch

	if _, ok := args["task"]; ok {
		v := req.GetString("task", "")
		patch.Task = &v
	}
	if v := req.GetString("target", ""); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid target: %v", err)), nil
		}
		ms := t.UnixMilli()
		patch.TargetTimestamp = &ms
	}
	if _, ok := args["is_critical"]; ok {
		v := req.GetBool("is_critical", false)
		patch.IsCritical = &v
	}
	if v := req.GetString("recurrence", ""); v != "" {
		rec, err := parseRecurrence(v, req.GetString("days_of_week", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		patch.Recurrence = &rec
	}

	r, err := s.deps.Reminders.Edit(ctx, id, patch)
	return reminderResult("edit reminder", r, err)
}

func (s *Server) handleListUpcoming(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reminders, err := s.deps.Reminders.ListUpcoming(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reminders: %v", err)), nil
	}
	return s.listResult("Upcoming", reminders, req.GetString("format", "json"))
}

func (s *Server) handleListHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reminders, err := s.deps.Reminders.ListHistory(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list history: %v", err)), nil
	}
	return s.listResult("History", reminders, req.GetString("format", "json"))
}

func (s *Server) handleGetReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	r, err := s.deps.Reminders.Get(ctx, id)
	return reminderResult("get reminder", r, err)
}

func (s *Server) handleCompleteReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	r, err := s.deps.Reminders.Complete(ctx, id)
	if err == nil || settledElsewhere(err) {
		s.acknowledge(id)
	}
	return reminderResult("complete reminder", r, err)
}

func (s *Server) handleSnoozeReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	minutes := req.GetInt("minutes", 0)

	r, err := s.deps.Reminders.Snooze(ctx, id, minutes)
	if err == nil || errors.Is(err, reminder.ErrScheduling) || settledElsewhere(err) {
		s.acknowledge(id)
	}
	return reminderResult("snooze reminder", r, err)
}

func (s *Server) handleDismissReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	r, err := s.deps.Reminders.Dismiss(ctx, id)
	if err == nil || settledElsewhere(err) {
		s.acknowledge(id)
	}
	return reminderResult("dismiss reminder", r, err)
}

func (s *Server) handleDeleteReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	r, err := s.deps.Reminders.Delete(ctx, id)
	if err == nil || settledElsewhere(err) {
		s.acknowledge(id)
	}
	return reminderResult("delete reminder", r, err)
}

func (s *Server) handleGetSettings(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	current, err := s.deps.Settings.Get(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get settings: %v", err)), nil
	}
	return jsonResult(current)
}

func (s *Server) handleUpdateSettings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	var patch settings.Patch

	if _, ok := args["snooze_duration"]; ok {
		v := req.GetInt("snooze_duration", 0)
		patch.SnoozeDuration = &v
	}
	if v := req.GetString("theme", ""); v != "" {
		theme := reminder.Theme(v)
		patch.Theme = &theme
	}

	updated, err := s.deps.Settings.Set(ctx, patch)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update settings: %v", err)), nil
	}
	return jsonResult(updated)
}

func (s *Server) handleOpenNotification(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	if s.deps.Opener == nil {
		return mcp.NewToolResultError("notifications cannot be opened on this platform"), nil
	}

	r, err := s.deps.Reminders.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open notification: %v", err)), nil
	}
	s.deps.Opener.Open(ctx, scheduler.NewPayload(r))

	return mcp.NewToolResultText(fmt.Sprintf("Opened notification for %s.", id)), nil
}

func (s *Server) handleListAlarms(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := struct {
		Active  []reminder.Reminder `json:"active"`
		Pending []scheduler.Pending `json:"pending"`
	}{
		Active:  []reminder.Reminder{},
		Pending: []scheduler.Pending{},
	}
	if s.deps.Alarms != nil {
		out.Active = s.deps.Alarms.Active()
	}
	if s.deps.Pending != nil {
		out.Pending = s.deps.Pending.Pending()
	}
	return jsonResult(out)
}

func (s *Server) acknowledge(id string) {
	if s.deps.Alarms != nil {
		s.deps.Alarms.Acknowledge(id)
	}
}

// settledElsewhere reports errors meaning the reminder is no longer upcoming,
// so an alarm still shown for it is stale.
func settledElsewhere(err error) bool {
	return errors.Is(err, reminder.ErrInvalidTransition) || errors.Is(err, reminder.ErrNotFound)
}

func (s *Server) listResult(title string, reminders []reminder.Reminder, format string) (*mcp.CallToolResult, error) {
	switch format {
	case "markdown":
		return mcp.NewToolResultText(s.deps.Formatter.ListMarkdown(title, reminders)), nil
	case "", "json":
		if len(reminders) == 0 {
			return mcp.NewToolResultText("No reminders found."), nil
		}
		return jsonResult(reminders)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q (use json or markdown)", format)), nil
	}
}

// parseTarget returns nil when neither target nor in_minutes was given.
func (s *Server) parseTarget(req mcp.CallToolRequest) (*int64, error) {
	if v := req.GetString("target", ""); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid target format: %v (use RFC3339, e.g. 2025-01-15T09:00:00Z)", err)
		}
		ms := t.UnixMilli()
		return &ms, nil
	}
	if minutes := req.GetFloat("in_minutes", 0); minutes > 0 {
		ms := s.now().Add(time.Duration(minutes * float64(time.Minute))).UnixMilli()
		return &ms, nil
	}
	return nil, nil
}

func parseRecurrence(kind, days string) (reminder.Recurrence, error) {
	rec := reminder.Recurrence{Type: reminder.RecurrenceType(strings.ToLower(strings.TrimSpace(kind)))}
	if rec.Type == "" {
		rec.Type = reminder.RecurrenceNone
	}
	if days = strings.TrimSpace(days); days != "" {
		for _, part := range strings.Split(days, ",") {
			d, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return reminder.Recurrence{}, fmt.Errorf("invalid days_of_week %q: %v", days, err)
			}
			rec.DaysOfWeek = append(rec.DaysOfWeek, d)
		}
	}
	if err := rec.Validate(); err != nil {
		return reminder.Recurrence{}, err
	}
	return rec, nil
}

// reminderResult reports a reminder operation. A reminder that was saved
// but could not be armed is returned with a warning instead of an error.
func reminderResult(action string, r reminder.Reminder, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		if errors.Is(err, reminder.ErrScheduling) && r.ID != "" {
			return jsonResult(struct {
				reminder.Reminder
				Warning string `json:"warning"`
			}{r, err.Error()})
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err)), nil
	}
	return jsonResult(r)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(output)), nil
}
