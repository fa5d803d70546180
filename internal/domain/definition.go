package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// rawDefinition is the wire shape of an authored definition blob. Version 1 is
// the legacy admin export (plain-string options, index-based correct lists);
// version 2 carries explicit option IDs. Anything else is rejected.
type rawDefinition struct {
	SchemaVersion  int             `json:"schemaVersion,omitempty"`
	QuizID         string          `json:"quizId"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	DownloadCode   string          `json:"downloadCode"`
	LatencyMinutes int             `json:"latencyMinutes"`
	TimerMinutes   int             `json:"timerMinutes"`
	AutoDeleteDays int             `json:"autoDeleteDays"`
	OnAppSwitch    string          `json:"onAppSwitch,omitempty"`
	UnlockPassword string          `json:"unlockPassword,omitempty"`
	StartsAt       string          `json:"startsAt,omitempty"`
	EndsAt         string          `json:"endsAt,omitempty"`
	ShuffleQs      bool            `json:"shuffleQuestions,omitempty"`
	ShuffleOpts    bool            `json:"shuffleOptions,omitempty"`
	PreForm        *rawPreForm     `json:"preForm,omitempty"`
	Questions      []rawQuestion   `json:"questions"`
	Extra          json.RawMessage `json:"-"`
}

type rawPreForm struct {
	Fields []rawFormField `json:"fields"`
}

type rawFormField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required"`
}

type rawQuestion struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Options json.RawMessage `json:"options,omitempty"`
	Correct json.RawMessage `json:"correct,omitempty"`
	Weight  *float64        `json:"weight,omitempty"`
}

// ParseDefinition strictly parses a serialized quiz definition. Any structural
// or semantic violation fails the whole parse; callers must treat a failure as
// cache corruption, never as a partially trusted definition.
func ParseDefinition(raw []byte) (Quiz, error) {
	var rd rawDefinition
	if err := json.Unmarshal(raw, &rd); err != nil {
		return Quiz{}, fmt.Errorf("%w: %v", ErrDefinitionInvalid, err)
	}

	version := rd.SchemaVersion
	if version == 0 {
		version = 1
	}
	if version != 1 && version != 2 {
		return Quiz{}, fmt.Errorf("%w: unsupported schema version %d", ErrDefinitionInvalid, rd.SchemaVersion)
	}
	if strings.TrimSpace(rd.QuizID) == "" {
		return Quiz{}, fmt.Errorf("%w: missing quiz id", ErrDefinitionInvalid)
	}
	if len(rd.Questions) == 0 {
		return Quiz{}, fmt.Errorf("%w: no questions", ErrDefinitionInvalid)
	}

	q := Quiz{
		ID:               rd.QuizID,
		Title:            rd.Title,
		PublicCode:       strings.ToUpper(strings.TrimSpace(rd.DownloadCode)),
		TimerMinutes:     rd.TimerMinutes,
		LatencyMinutes:   maxInt(rd.LatencyMinutes, 0),
		RetentionDays:    rd.AutoDeleteDays,
		ShuffleQuestions: rd.ShuffleQs,
		ShuffleOptions:   rd.ShuffleOpts,
		OnSwitch:         ParseSwitchPolicy(rd.OnAppSwitch),
		UnlockSecret:     strings.TrimSpace(rd.UnlockPassword),
	}
	if q.RetentionDays <= 0 {
		q.RetentionDays = 7
	}

	var err error
	if q.StartsAt, err = parseInstant(rd.StartsAt); err != nil {
		return Quiz{}, fmt.Errorf("%w: startsAt: %v", ErrDefinitionInvalid, err)
	}
	if q.EndsAt, err = parseInstant(rd.EndsAt); err != nil {
		return Quiz{}, fmt.Errorf("%w: endsAt: %v", ErrDefinitionInvalid, err)
	}

	if rd.PreForm != nil {
		for _, f := range rd.PreForm.Fields {
			if strings.TrimSpace(f.Key) == "" {
				return Quiz{}, fmt.Errorf("%w: pre-form field without key", ErrDefinitionInvalid)
			}
			ft := f.Type
			if ft == "" {
				ft = "text"
			}
			q.PreJoinFields = append(q.PreJoinFields, FormField{
				Key: f.Key, Label: f.Label, Type: ft, Required: f.Required,
			})
		}
	}

	seen := make(map[string]struct{}, len(rd.Questions))
	for i, rq := range rd.Questions {
		parsed, err := parseQuestion(rq, version)
		if err != nil {
			return Quiz{}, fmt.Errorf("%w: question %d: %v", ErrDefinitionInvalid, i, err)
		}
		if _, dup := seen[parsed.ID]; dup {
			return Quiz{}, fmt.Errorf("%w: duplicate question id %q", ErrDefinitionInvalid, parsed.ID)
		}
		seen[parsed.ID] = struct{}{}
		q.Questions = append(q.Questions, parsed)
	}
	return q, nil
}

func parseQuestion(rq rawQuestion, version int) (Question, error) {
	if strings.TrimSpace(rq.ID) == "" {
		return Question{}, fmt.Errorf("missing id")
	}

	qt, err := parseQuestionType(rq.Type)
	if err != nil {
		return Question{}, err
	}

	weight := 1.0
	if rq.Weight != nil {
		weight = *rq.Weight
	}
	if weight <= 0 {
		return Question{}, fmt.Errorf("weight must be positive, got %v", weight)
	}

	q := Question{ID: rq.ID, Type: qt, Text: rq.Text, Weight: weight}

	switch version {
	case 1:
		// Legacy: options are plain strings, correct entries are option indexes.
		var opts []string
		if len(rq.Options) > 0 {
			if err := json.Unmarshal(rq.Options, &opts); err != nil {
				return Question{}, fmt.Errorf("options: %v", err)
			}
		}
		for i, text := range opts {
			q.Options = append(q.Options, Option{ID: fmt.Sprintf("opt_%d", i), Text: text})
		}
		var idx []int
		if len(rq.Correct) > 0 {
			if err := json.Unmarshal(rq.Correct, &idx); err != nil {
				return Question{}, fmt.Errorf("correct: %v", err)
			}
		}
		for _, i := range idx {
			if i < 0 || i >= len(opts) {
				return Question{}, fmt.Errorf("correct index %d out of range", i)
			}
			q.Correct = append(q.Correct, fmt.Sprintf("opt_%d", i))
		}
	case 2:
		if len(rq.Options) > 0 {
			if err := json.Unmarshal(rq.Options, &q.Options); err != nil {
				return Question{}, fmt.Errorf("options: %v", err)
			}
		}
		if len(rq.Correct) > 0 {
			if err := json.Unmarshal(rq.Correct, &q.Correct); err != nil {
				return Question{}, fmt.Errorf("correct: %v", err)
			}
		}
		ids := make(map[string]struct{}, len(q.Options))
		for _, o := range q.Options {
			if o.ID == "" {
				return Question{}, fmt.Errorf("option without id")
			}
			ids[o.ID] = struct{}{}
		}
		for _, c := range q.Correct {
			if _, ok := ids[c]; !ok {
				return Question{}, fmt.Errorf("correct option %q not among options", c)
			}
		}
	}

	switch qt {
	case QuestionSingle:
		if len(q.Correct) != 1 {
			return Question{}, fmt.Errorf("single-choice question needs exactly one correct option, got %d", len(q.Correct))
		}
	case QuestionMulti:
		if len(q.Correct) == 0 {
			return Question{}, fmt.Errorf("multi-choice question needs at least one correct option")
		}
	case QuestionText:
		if len(q.Options) != 0 || len(q.Correct) != 0 {
			return Question{}, fmt.Errorf("text question cannot carry options")
		}
	}
	return q, nil
}

func parseQuestionType(raw string) (QuestionType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "single", "mcq":
		return QuestionSingle, nil
	case "multi", "msq":
		return QuestionMulti, nil
	case "text":
		return QuestionText, nil
	default:
		return "", fmt.Errorf("unknown question type %q", raw)
	}
}

func parseInstant(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
