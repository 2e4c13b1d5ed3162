package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/victornm/quizbot/internal/errors"
)

// ActionKind tags a button press.
type ActionKind string

const (
	ActionSelectCorrect ActionKind = "sel" // OptionIndex: correct option of a new question
	ActionEditTarget    ActionKind = "edt" // TargetID: question to edit
	ActionEditField     ActionKind = "edf" // TargetID, Field: which part to edit
	ActionEditAnswer    ActionKind = "eda" // OptionIndex: new correct option
	ActionRemoveTarget  ActionKind = "rmt" // TargetID: question to remove
	ActionConfirmRemove ActionKind = "rmc" // TargetID: confirmed removal
	ActionPollAnswer    ActionKind = "pol" // OptionIndex: correct option of a forwarded poll
	ActionTestQuiz      ActionKind = "tst" // TargetID: deliver the question once
	ActionAbort         ActionKind = "abt"
)

var knownKinds = map[ActionKind]bool{
	ActionSelectCorrect: true,
	ActionEditTarget:    true,
	ActionEditField:     true,
	ActionEditAnswer:    true,
	ActionRemoveTarget:  true,
	ActionConfirmRemove: true,
	ActionPollAnswer:    true,
	ActionTestQuiz:      true,
	ActionAbort:         true,
}

// EditField names the part of a question an edit flow changes.
type EditField string

const (
	EditFieldText    EditField = "text"
	EditFieldOptions EditField = "options"
	EditFieldAnswer  EditField = "answer"
)

func (f EditField) valid() bool {
	switch f {
	case EditFieldText, EditFieldOptions, EditFieldAnswer:
		return true
	}
	return false
}

// Action is a typed button payload. It is parsed once where it enters the process,
// handlers never look at the raw callback string.
type Action struct {
	Kind        ActionKind
	TargetID    int
	OptionIndex int
	Field       EditField
}

// Encode renders the action as callback data: kind:target:option:field.
func (a Action) Encode() string {
	return fmt.Sprintf("%s:%d:%d:%s", a.Kind, a.TargetID, a.OptionIndex, a.Field)
}

// ParseAction decodes callback data produced by Encode.
func ParseAction(data string) (Action, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 4 {
		return Action{}, errors.Validation("malformed action %q", data)
	}

	a := Action{Kind: ActionKind(parts[0]), Field: EditField(parts[3])}
	if !knownKinds[a.Kind] {
		return Action{}, errors.Validation("unknown action kind %q", parts[0])
	}

	var err error
	if a.TargetID, err = strconv.Atoi(parts[1]); err != nil {
		return Action{}, errors.Validation("malformed action target %q", parts[1])
	}
	if a.OptionIndex, err = strconv.Atoi(parts[2]); err != nil || a.OptionIndex < 0 {
		return Action{}, errors.Validation("malformed action option %q", parts[2])
	}
	if a.Kind == ActionEditField && !a.Field.valid() {
		return Action{}, errors.Validation("unknown edit field %q", parts[3])
	}

	return a, nil
}
