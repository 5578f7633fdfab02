package notification

import (
	"fmt"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/batch"
	internalerrors "github.com/IliadMediaGroup/EAS-XML-Parser/internal/errors"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/report"
)

const (
	maxMessageLength = 4096
	// minMessageInterval is the minimum time between messages to the channel
	// to avoid Telegram rate limits
	minMessageInterval = 1 * time.Second
	// maxRetries is the maximum number of retry attempts for sending messages
	maxRetries = 3
	// baseRetryDelay is the initial delay between retries (doubles each attempt)
	baseRetryDelay = 2 * time.Second
	// maxListedWarnings caps the warnings quoted in one notice
	maxListedWarnings = 10
)

// Run status labels.
const (
	StatusSaved        = "Saved"
	StatusWithWarnings = "Saved with warnings"
	StatusSaveFailed   = "Save failed"
)

// TelegramClient posts run notices to a Telegram channel
type TelegramClient struct {
	bot             *tgbotapi.BotAPI
	channelID       int64
	hostname        string
	lastMessageTime time.Time // tracks last message for rate limiting
}

// NewTelegramClient creates a new Telegram client
func NewTelegramClient(botToken string, channelID int64) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		// The API error embeds the request URL, which carries the token.
		return nil, internalerrors.Wrapf(err, "failed to create Telegram bot")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &TelegramClient{
		bot:       bot,
		channelID: channelID,
		hostname:  hostname,
	}, nil
}

// RunStatus classifies a finished run for the notice header.
func RunStatus(res *batch.Result) string {
	switch {
	case !res.Saved():
		return StatusSaveFailed
	case len(res.Warnings) > 0:
		return StatusWithWarnings
	default:
		return StatusSaved
	}
}

// GetStatusEmoji returns the emoji for a run status
func GetStatusEmoji(status string) string {
	switch status {
	case StatusSaved:
		return "✅"
	case StatusWithWarnings:
		return "⚠️"
	case StatusSaveFailed:
		return "❌"
	default:
		return "❓"
	}
}

// SendRunReport posts the summary of a completed run
func (t *TelegramClient) SendRunReport(res *batch.Result, station string) error {
	message := t.formatMessage(res, station)
	if err := t.sendToChannel(t.channelID, message); err != nil {
		return fmt.Errorf("failed to send run report: %w", err)
	}
	return nil
}

// formatMessage formats a run result into a Telegram message
func (t *TelegramClient) formatMessage(res *batch.Result, station string) string {
	status := RunStatus(res)

	var msg strings.Builder

	msg.WriteString("📻 *EAS Compliance Report*\n")
	msg.WriteString(fmt.Sprintf("🖥 Host\\: %s\n", escapeMarkdown(t.hostname)))
	if station != "" {
		msg.WriteString(fmt.Sprintf("📡 Station\\: %s\n", escapeMarkdown(station)))
	}
	msg.WriteString(fmt.Sprintf("📅 Month\\: %s\n", escapeMarkdown(res.MonthKey)))
	msg.WriteString(fmt.Sprintf("🕒 Run\\: %s\n", escapeMarkdown(res.StartedAt.Format("2006-01-02 15:04:05"))))
	msg.WriteString(fmt.Sprintf("%s *Status\\:* %s\n\n", GetStatusEmoji(status), escapeMarkdown(status)))

	msg.WriteString("📋 *Run Stats*\n")
	msg.WriteString(fmt.Sprintf("• Files\\: %d \\(%d skipped\\)\n", len(res.Files), res.SkippedFiles()))
	msg.WriteString(fmt.Sprintf("• Weekly Tests\\: %d\n", res.WeeklyEvents))
	msg.WriteString(fmt.Sprintf("• Monthly Tests\\: %d\n", res.MonthlyEvents))
	msg.WriteString(fmt.Sprintf("• Duration\\: %s\n", escapeMarkdown(fmt.Sprintf("%.2fs", res.Duration.Seconds()))))
	if res.OutputPath != "" {
		msg.WriteString(fmt.Sprintf("• Output\\: %s\n", escapeMarkdown(res.OutputPath)))
	}
	msg.WriteString("\n")

	if res.Report != nil {
		for _, b := range res.Report.Blocks {
			if b.Kind != report.KindMonthly {
				continue
			}
			msg.WriteString("📊 *Monthly Tests*\n")
			for _, row := range b.Rows {
				msg.WriteString("• " + escapeMarkdown(formatRow(row)) + "\n")
			}
			msg.WriteString("\n")
		}
	}

	if res.SaveErr != nil {
		msg.WriteString("🔴 *Save Error*\n")
		msg.WriteString(escapeMarkdown(internalerrors.SanitizeString(res.SaveErr.Error())))
		msg.WriteString("\n\n")
	}

	if len(res.Warnings) > 0 {
		msg.WriteString(fmt.Sprintf("⚡ *Warnings* \\(%d\\)\n", len(res.Warnings)))
		for i, w := range res.Warnings {
			if i == maxListedWarnings {
				msg.WriteString(fmt.Sprintf("\\.\\.\\. %d more\n", len(res.Warnings)-maxListedWarnings))
				break
			}
			msg.WriteString(fmt.Sprintf("%d\\. %s\n", i+1, escapeMarkdown(w)))
		}
	}

	return msg.String()
}

// formatRow joins the non-empty cells of a report row.
func formatRow(row report.Row) string {
	parts := make([]string, 0, len(row))
	for _, c := range row {
		if c.Value != "" {
			parts = append(parts, c.Value)
		}
	}
	return strings.Join(parts, " · ")
}

// sendToChannel sends a message to a Telegram channel with rate limiting
func (t *TelegramClient) sendToChannel(channelID int64, message string) error {
	messages := t.splitMessage(message)

	for _, msg := range messages {
		t.waitForRateLimit()

		msgConfig := tgbotapi.NewMessage(channelID, msg)
		msgConfig.ParseMode = "MarkdownV2"

		if err := t.sendWithRetry(msgConfig); err != nil {
			return err
		}

		t.lastMessageTime = time.Now()
	}

	return nil
}

// waitForRateLimit ensures minimum interval between messages
func (t *TelegramClient) waitForRateLimit() {
	if t.lastMessageTime.IsZero() {
		return
	}

	elapsed := time.Since(t.lastMessageTime)
	if elapsed < minMessageInterval {
		time.Sleep(minMessageInterval - elapsed)
	}
}

// sendWithRetry sends a message with exponential backoff retry
func (t *TelegramClient) sendWithRetry(msgConfig tgbotapi.MessageConfig) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(msgConfig)
		if err == nil {
			return nil
		}

		lastErr = err

		if isRateLimitError(err) {
			if retryAfter := extractRetryAfter(err); retryAfter > 0 {
				time.Sleep(time.Duration(retryAfter) * time.Second)
				continue
			}
		}

		if attempt < maxRetries {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1)) // 2s, 4s, 8s...
			time.Sleep(delay)
		}
	}

	return internalerrors.Wrapf(lastErr, "failed to send message after %d retries", maxRetries)
}

// isRateLimitError checks if the error is a Telegram rate limit error (429)
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests")
}

// extractRetryAfter extracts the retry_after value from a rate limit error
func extractRetryAfter(err error) int {
	if err == nil {
		return 0
	}

	// Example: "Too Many Requests: retry after 30"
	errStr := err.Error()
	if idx := strings.Index(strings.ToLower(errStr), "retry after "); idx != -1 {
		remaining := errStr[idx+len("retry after "):]
		var seconds int
		if _, err := fmt.Sscanf(remaining, "%d", &seconds); err == nil {
			return seconds
		}
	}

	// Conservative wait when the value is missing
	return 30
}

// splitMessage splits a long message on line boundaries
func (t *TelegramClient) splitMessage(message string) []string {
	if len(message) <= maxMessageLength {
		return []string{message}
	}

	var messages []string
	var currentMsg strings.Builder

	for _, line := range strings.Split(message, "\n") {
		if currentMsg.Len()+len(line)+1 > maxMessageLength {
			if currentMsg.Len() > 0 {
				messages = append(messages, currentMsg.String())
				currentMsg.Reset()
			}

			if len(line) > maxMessageLength {
				for i := 0; i < len(line); i += maxMessageLength {
					end := min(i+maxMessageLength, len(line))
					messages = append(messages, line[i:end])
				}
				continue
			}
		}

		currentMsg.WriteString(line)
		currentMsg.WriteString("\n")
	}

	if currentMsg.Len() > 0 {
		messages = append(messages, currentMsg.String())
	}

	return messages
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2
func escapeMarkdown(text string) string {
	// See: https://core.telegram.org/bots/api#markdownv2-style
	specialChars := []string{
		"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!", ":",
	}

	result := text
	for _, char := range specialChars {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}
	return result
}

// GetBotInfo returns information about the bot
func (t *TelegramClient) GetBotInfo() map[string]interface{} {
	return map[string]interface{}{
		"username":   t.bot.Self.UserName,
		"channel_id": t.channelID,
		"hostname":   t.hostname,
	}
}

// Close closes the Telegram client
func (t *TelegramClient) Close() error {
	t.bot.StopReceivingUpdates()
	return nil
}
