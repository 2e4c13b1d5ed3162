package session

import (
	"fmt"
	"strings"

	"github.com/victornm/quizbot/internal/domain"
)

const (
	msgHelp = "📚 Available Commands 📚\n\n" +
		"/start - Start the bot\n" +
		"/play - Play a random quiz\n" +
		"/play <id> - Play every question with that ID, one every few seconds\n" +
		"/stop - Stop a running marathon\n" +
		"/stats - View your quiz statistics\n" +
		"/top - Show the best players\n" +
		"/add - Create a new quiz question\n" +
		"/list - List all available quizzes\n" +
		"/clone <link> - Clone a quiz from a link\n" +
		"/edit <id> - Edit an existing quiz\n" +
		"/remove <id> - Delete a quiz question\n" +
		"/cancel - Cancel current operation\n" +
		"/help - Show this help message\n\n" +
		"Forward me a poll and I'll turn it into a quiz question!"

	msgIdleText       = "I can help you manage quiz questions. Try /help to see available commands, or forward me a poll to convert it to a quiz question!"
	msgAskQuestion    = "Let's create a new quiz question.\n\nFirst, send me the question text.\nFor example: 'What is the capital of France?'\n\nType /cancel to abort."
	msgAskOptions     = "Great! Now send me the answer options, one per line.\nFor example:\nParis\nLondon\nBerlin\nRome\n\nType /cancel to abort."
	msgTooFewOptions  = "You need to provide at least 2 options. Please try again."
	msgAskCorrect     = "Now select which option is the correct answer:"
	msgAskCloneURL    = "Please send me the link to the quiz you want to clone.\n\nType /cancel to abort."
	msgNotALink       = "That doesn't look like a link. Send a URL starting with http:// or https://, or /cancel."
	msgAnalyzing      = "Analyzing the quiz link... Please wait."
	msgCloneFailed    = "I couldn't read a quiz from that link. Let's create it manually instead.\n\nSend me the question text.\n\nType /cancel to abort."
	msgAskNewText     = "Send me the new text for the question.\n\nType /cancel to abort."
	msgAskNewOptions  = "Send me the new options, one per line.\n\nType /cancel to abort."
	msgAskNewCorrect  = "Select the new correct answer:"
	msgSelectEdit     = "Select a quiz to edit:"
	msgSelectField    = "What would you like to edit?"
	msgSelectRemove   = "Select a quiz to remove:"
	msgRemoveAborted  = "Quiz deletion cancelled."
	msgAskPollID      = "Send the ID number you want to use for this question (e.g. 42), or 'auto' to use the next free ID.\n\nType /cancel to abort."
	msgBadPollID      = "Invalid ID format. Please send a positive number or 'auto'."
	msgCancelled      = "Operation cancelled. Use /help to see available commands."
	msgNothingToAbort = "There is nothing to cancel."
	msgBusy           = "You're in the middle of something. Finish it or send /cancel first."
	msgUseButtons     = "Please choose one of the buttons."
	msgUseText        = "Please reply with a text message."
	msgStaleButton    = "This button is no longer active."
	msgBadID          = "Invalid question ID. Use /list to see available quizzes and their IDs."
	msgNoQuestions    = "No quiz questions available. Use /add to create some!"
	msgStoreFailed    = "Sorry, something went wrong while saving. Please try again."
	msgNoStats        = "You haven't answered any quiz questions yet. Use /play to start a quiz!"
	msgNoLeaderboard  = "Nobody is on the leaderboard yet. Use /play to be the first!"
	msgNoMarathon     = "No marathon is running."
	msgMarathonOff    = "⏹ Marathon stopped."
	msgSendFailed     = "Sorry, I couldn't send the quiz. Please try again."
	msgExpired        = "⌛ Your unfinished operation was discarded after a period of inactivity."
	msgUnknownCommand = "Unknown command. Use /help to see available commands."
)

func msgWelcome(name string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hello, %s! I'm the Quiz Bot 🎯\n\n"+
		"I can help you play and create quiz questions.\n\n"+
		"Use /play to start a quiz\n"+
		"Use /add to create a new quiz question\n"+
		"Use /help to see all available commands", name)
}

func msgNotFound(id int) string {
	return fmt.Sprintf("No question found with ID %d.", id)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// preview renders a question with the correct option ticked.
func preview(q domain.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nOptions:\n", q.Text)
	for i, o := range q.Options {
		mark := ""
		if i == q.CorrectIndex {
			mark = " ✓"
		}
		fmt.Fprintf(&b, "%d. %s%s\n", i+1, o, mark)
	}
	return b.String()
}

func optionButtons(kind domain.ActionKind, target int, options []string) [][]Button {
	rows := make([][]Button, 0, len(options))
	for i, o := range options {
		rows = append(rows, []Button{{
			Text:   fmt.Sprintf("%d. %s", i+1, o),
			Action: domain.Action{Kind: kind, TargetID: target, OptionIndex: i},
		}})
	}
	return rows
}

func questionButtons(kind domain.ActionKind, qs []domain.Question) [][]Button {
	if len(qs) > selectionLimit {
		qs = qs[:selectionLimit]
	}

	rows := make([][]Button, 0, len(qs))
	for _, q := range qs {
		rows = append(rows, []Button{{
			Text:   fmt.Sprintf("ID %d: %s", q.ID, truncate(q.Text, 30)),
			Action: domain.Action{Kind: kind, TargetID: q.ID},
		}})
	}
	return rows
}

func fieldButtons(target int) [][]Button {
	return [][]Button{
		{{Text: "Edit Question Text", Action: domain.Action{Kind: domain.ActionEditField, TargetID: target, Field: domain.EditFieldText}}},
		{{Text: "Edit Options", Action: domain.Action{Kind: domain.ActionEditField, TargetID: target, Field: domain.EditFieldOptions}}},
		{{Text: "Change Correct Answer", Action: domain.Action{Kind: domain.ActionEditField, TargetID: target, Field: domain.EditFieldAnswer}}},
	}
}

// shortcutButtons sit under a freshly saved question.
func shortcutButtons(target int) [][]Button {
	return append(fieldButtons(target),
		[]Button{{Text: "Test this Quiz", Action: domain.Action{Kind: domain.ActionTestQuiz, TargetID: target}}},
	)
}

func confirmRemoveButtons(target int) [][]Button {
	return [][]Button{{
		{Text: "✅ Yes, delete it", Action: domain.Action{Kind: domain.ActionConfirmRemove, TargetID: target}},
		{Text: "❌ No, keep it", Action: domain.Action{Kind: domain.ActionAbort, TargetID: target}},
	}}
}

func editSummary(q domain.Question) string {
	return fmt.Sprintf("Editing Quiz ID %d:\n\n%s\n%s", q.ID, preview(q), msgSelectField)
}

func removeSummary(q domain.Question) string {
	return fmt.Sprintf("Are you sure you want to delete this quiz?\n\nID: %d\nQuestion: %s\nCategory: %s",
		q.ID, q.Text, q.CategoryOrDefault())
}

// listing groups questions by category in first-seen order, showing at most perCategory each.
func listing(qs []domain.Question, perCategory int) string {
	var (
		order  []string
		groups = make(map[string][]domain.Question)
	)
	for _, q := range qs {
		c := q.CategoryOrDefault()
		if _, ok := groups[c]; !ok {
			order = append(order, c)
		}
		groups[c] = append(groups[c], q)
	}

	var b strings.Builder
	b.WriteString("📋 Available Quiz Questions 📋\n\n")
	for _, c := range order {
		g := groups[c]
		fmt.Fprintf(&b, "%s (%d)\n", c, len(g))
		for i, q := range g {
			if i == perCategory {
				fmt.Fprintf(&b, "  ... and %d more\n", len(g)-perCategory)
				break
			}
			fmt.Fprintf(&b, "- ID %d: %s\n", q.ID, truncate(q.Text, 30))
		}
		b.WriteString("\n")
	}
	b.WriteString("Use /play to play a random quiz, or /edit <id> to edit a specific question.")

	return b.String()
}

func statsSummary(s domain.UserStat) string {
	return fmt.Sprintf("📊 Your Quiz Statistics 📊\n\n"+
		"Total questions answered: %d\n"+
		"Correct answers: %d\n"+
		"Accuracy: %s%%", s.Total, s.Correct, s.Accuracy().StringFixed(1))
}

func leaderboardSummary(l domain.Leaderboard) string {
	var b strings.Builder
	b.WriteString("🏆 Top Players 🏆\n\n")
	for i, e := range l.Entries {
		name := e.DisplayName
		if name == "" {
			name = "Player " + e.UserID
		}
		fmt.Fprintf(&b, "%d. %s: %d correct\n", i+1, name, e.Correct)
	}
	return b.String()
}
