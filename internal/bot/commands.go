package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/metrics"
	"github.com/shrimpsizemoose/pointbulle/internal/models"
	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

const (
	studentHelp = `Available commands:
/daily - Claim your daily points
/points - Show your points
/top - Show the course leaderboard
/help - Show this message`

	adminHelp = `Available commands:
/daily, /points, /top [integration]
/award <student_id> <integration> <delta> - Add (or take) points
/integration add <KEY> <name> - Register a scoring integration
/integration list - List integrations
/course add <pl_course_id> - Create a course
/course bind <course_id> - Bind this chat to a course
/course list - List courses
/student delete <student_id> - Delete a student and all their points
/link <student_id> <integration> <external_id> - Link an external account
/token <client> - Issue an API token
/help - Show this message

Examples:
/award 42 DISCORD 5
/integration add GRADESCOPE Gradescope
/link 42 PIAZZA jdoe`
)

type commandHandler func(context.Context, *tgbotapi.Message) error

func (b *Bot) routeStudentCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"start":  b.handleStart,
		"help":   b.handleHelp,
		"daily":  b.handleDaily,
		"points": b.handlePoints,
		"top":    b.handleTop,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) routeAdminCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"award":       b.handleAward,
		"integration": b.handleIntegration,
		"course":      b.handleCourse,
		"student":     b.handleStudent,
		"link":        b.handleLink,
		"token":       b.handleToken,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		return
	}

	cmd := msg.Command()
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	handler, ok := b.routeStudentCommands(cmd)
	if !ok && b.admins[msg.From.ID] {
		handler, ok = b.routeAdminCommands(cmd)
	}
	if !ok {
		b.sendHelp(msg.Chat.ID)
		return
	}

	metrics.BotCommandsTotal.WithLabelValues(cmd).Inc()
	if err := handler(ctx, msg); err != nil {
		logger.Error.Printf("Command /%s error: %v", cmd, err)
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Error: %s", userError(err)))
	}
}

// userError hides internal detail of store failures from chat users.
func userError(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not found"
	case errors.Is(err, store.ErrUnknownIntegration):
		return "unknown integration"
	case errors.Is(err, store.ErrAlreadyExists):
		return "already exists"
	case errors.Is(err, store.ErrStoreUnavailable), errors.Is(err, store.ErrStoreClosed):
		return "the ledger is unavailable, try again later"
	case errors.Is(err, store.ErrConsistencyViolation):
		return "internal error, please tell an admin"
	}
	return err.Error()
}

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) error {
	var text string
	if b.admins[msg.From.ID] {
		text = adminHelp
	} else {
		text = studentHelp
	}

	return b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) sendHelp(chatID int64) error {
	return b.sendMessage(chatID, "Send /help for the list of commands.")
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	text := "Hi! I keep track of your course points.\n\n"
	if b.admins[msg.From.ID] {
		text += "You are a course admin. Use /help for the list of commands."
	} else {
		text += "Use /daily once a day to collect points."
	}

	return b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) telegramID(msg *tgbotapi.Message) string {
	return strconv.FormatInt(msg.From.ID, 10)
}

func (b *Bot) handleDaily(ctx context.Context, msg *tgbotapi.Message) error {
	courseID, err := b.courseForChat(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}

	student, created, err := b.ledger.FindOrCreateStudent(ctx, b.chatIntegration, b.telegramID(msg), courseID)
	if err != nil {
		return err
	}
	if created {
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Welcome, %s! You are student #%d.", msg.From.FirstName, student.ID))
	}

	result, err := b.ledger.ClaimDaily(ctx, student.ID, b.chatIntegration)
	if err != nil {
		return err
	}

	return b.sendMessage(msg.Chat.ID, formatDaily(result.Claimed, result.Claim.NumDailies, result.Awarded,
		result.Score.Points, b.ledger.NextMilestone(result.Claim.NumDailies)))
}

func (b *Bot) handlePoints(ctx context.Context, msg *tgbotapi.Message) error {
	students, err := b.ledger.FindStudents(ctx, store.StudentFilter{
		models.ExternalIDAttribute(b.chatIntegration): b.telegramID(msg),
	})
	if err != nil {
		return err
	}
	if len(students) == 0 {
		return b.sendMessage(msg.Chat.ID, "You have no points yet. Use /daily to get started.")
	}

	scores, err := b.ledger.StudentScores(ctx, students[0].ID, "")
	if err != nil {
		return err
	}
	return b.sendMessage(msg.Chat.ID, formatBalances(students[0].ID, scores))
}

func (b *Bot) handleTop(ctx context.Context, msg *tgbotapi.Message) error {
	courseID, err := b.courseForChat(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	integration := strings.TrimSpace(msg.CommandArguments())

	board, err := b.ledger.CourseScores(ctx, courseID, integration)
	if err != nil {
		return err
	}
	return b.sendMessage(msg.Chat.ID, formatLeaderboard(courseID, integration, board, 10))
}

func (b *Bot) handleAward(ctx context.Context, msg *tgbotapi.Message) error {
	studentID, integration, delta, err := parseAward(strings.Fields(msg.CommandArguments()))
	if err != nil {
		return err
	}

	score, err := b.ledger.Increment(ctx, studentID, integration, delta)
	if err != nil {
		return err
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Student %d now has %d points on %s (%+d)",
		studentID, score.Points, score.Integration, delta))
}

func (b *Bot) handleIntegration(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 1 {
		return b.sendMessage(msg.Chat.ID, "Usage:\n"+
			"/integration add <KEY> <name> - Register a scoring integration\n"+
			"/integration list - List integrations")
	}

	switch args[0] {
	case "add":
		if len(args) < 3 {
			return fmt.Errorf("usage: /integration add <KEY> <name>")
		}
		integration := models.Integration{Key: args[1], Name: strings.Join(args[2:], " ")}
		backfilled, err := b.ledger.RegisterIntegration(ctx, integration)
		if err != nil {
			return err
		}
		return b.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Integration %s registered, %d students start at 0",
			models.NormalizeIntegrationKey(args[1]), backfilled))
	case "list":
		integrations, err := b.ledger.ListIntegrations(ctx)
		if err != nil {
			return err
		}
		var text strings.Builder
		text.WriteString("Integrations:\n\n")
		for _, i := range integrations {
			fmt.Fprintf(&text, "• %s (%s)\n", i.Key, i.Name)
		}
		return b.sendMessage(msg.Chat.ID, text.String())
	default:
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (b *Bot) handleCourse(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 1 {
		return b.sendMessage(msg.Chat.ID, "Usage:\n"+
			"/course add <pl_course_id> - Create a course\n"+
			"/course bind <course_id> - Bind this chat to a course\n"+
			"/course list - List courses")
	}

	switch args[0] {
	case "add":
		if len(args) < 2 {
			return fmt.Errorf("usage: /course add <pl_course_id>")
		}
		plCourseID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid PL course id: %v", err)
		}
		id, err := b.ledger.AddCourse(ctx, models.NewCourse{PLCourseID: plCourseID})
		if err != nil {
			return err
		}
		return b.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Course %d created for PL course %d", id, plCourseID))
	case "bind":
		if len(args) < 2 {
			return fmt.Errorf("usage: /course bind <course_id>")
		}
		if b.tokens == nil {
			return fmt.Errorf("chat binding needs redis, see [auth] redis_url")
		}
		courseID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid course id: %v", err)
		}
		if _, err := b.ledger.GetCourse(ctx, courseID); err != nil {
			return err
		}
		err = b.tokens.AssociateChatWithCourse(ctx, msg.Chat.ID, &models.ChatCourseMapping{
			CourseID:        courseID,
			Name:            msg.Chat.Title,
			AssociationTime: time.Now().UTC(),
			RegisteredBy:    msg.From.ID,
		})
		if err != nil {
			return fmt.Errorf("failed to bind chat: %w", err)
		}
		return b.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ This chat now scores for course %d", courseID))
	case "list":
		courses, err := b.ledger.ListCourses(ctx)
		if err != nil {
			return err
		}
		if len(courses) == 0 {
			return b.sendMessage(msg.Chat.ID, "No courses yet")
		}
		var text strings.Builder
		text.WriteString("Courses:\n\n")
		for _, c := range courses {
			fmt.Fprintf(&text, "📚 %d (PL %d)\n", c.ID, c.PLCourseID)
		}
		return b.sendMessage(msg.Chat.ID, text.String())
	default:
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (b *Bot) handleStudent(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 || args[0] != "delete" {
		return fmt.Errorf("usage: /student delete <student_id>")
	}
	studentID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid student id: %v", err)
	}

	student, err := b.ledger.DeleteStudent(ctx, studentID)
	if err != nil {
		return err
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf("🗑 Student %d removed from course %d", student.ID, student.CourseID))
}

func (b *Bot) handleLink(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 3 {
		return fmt.Errorf("usage: /link <student_id> <integration> <external_id>")
	}
	studentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid student id: %v", err)
	}

	if err := b.ledger.UpdateStudentExternalID(ctx, studentID, args[1], args[2]); err != nil {
		return err
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf("🔗 Student %d linked to %s %s",
		studentID, models.NormalizeIntegrationKey(args[1]), args[2]))
}

func (b *Bot) handleToken(ctx context.Context, msg *tgbotapi.Message) error {
	if b.tokens == nil {
		return fmt.Errorf("tokens need redis, see [auth] redis_url")
	}
	client := strings.TrimSpace(msg.CommandArguments())
	if client == "" {
		return fmt.Errorf("usage: /token <client>")
	}

	info, created, err := b.tokens.FetchOrCreateClientToken(ctx, client)
	if err != nil {
		return err
	}

	status := "existing"
	if created {
		status = "new"
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf("🔑 %s token for %s:\n%s\nRequests so far: %d",
		status, info.Client, info.Token, info.RequestCount))
}

func (b *Bot) sendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}
