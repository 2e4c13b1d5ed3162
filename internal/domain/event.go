package domain

import "github.com/google/uuid"

const (
	EventNameQuestionSaved   = "question.saved"
	EventNameQuestionDeleted = "question.deleted"
	EventNameAnswerGraded    = "answer.graded"
	EventNameMarathonEnded   = "marathon.ended"
	EventNameLeaderboard     = "leaderboard.updated"
)

// EventQuestionSaved is published after a question is created or updated.
type EventQuestionSaved struct {
	Question Question
	Created  bool
}

func (EventQuestionSaved) Name() string { return EventNameQuestionSaved }

type EventQuestionDeleted struct {
	ID      int
	Removed int
}

func (EventQuestionDeleted) Name() string { return EventNameQuestionDeleted }

type EventAnswerGraded struct {
	Stat    UserStat
	Correct bool
}

func (EventAnswerGraded) Name() string { return EventNameAnswerGraded }

type EventMarathonEnded struct {
	RunID       uuid.UUID
	Destination int64
	Delivered   int
	Cancelled   bool
}

func (EventMarathonEnded) Name() string { return EventNameMarathonEnded }

// EventLeaderboardUpdated carries the top of the leaderboard after answers were graded.
type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboard }
