package domain

import (
	"strings"
	"time"
)

// QuestionType distinguishes how a question is answered and graded.
type QuestionType string

const (
	// QuestionSingle has exactly one correct option.
	QuestionSingle QuestionType = "single"
	// QuestionMulti is correct only when the selected set equals the correct set.
	QuestionMulti QuestionType = "multi"
	// QuestionText is free text and always requires manual grading.
	QuestionText QuestionType = "text"
)

// SwitchPolicy names the penalty applied when a student leaves the attempt foreground.
type SwitchPolicy string

const (
	PolicyFlag       SwitchPolicy = "flag"
	PolicyReset      SwitchPolicy = "reset"
	PolicyDisqualify SwitchPolicy = "disqualify"
)

// ParseSwitchPolicy maps a raw policy string to a SwitchPolicy; unknown values fall back to flag.
func ParseSwitchPolicy(raw string) SwitchPolicy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "reset":
		return PolicyReset
	case "disqualify":
		return PolicyDisqualify
	default:
		return PolicyFlag
	}
}

// Option represents one selectable answer for a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// FormField describes one pre-attempt detail the student must provide.
type FormField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Type     string `json:"type,omitempty"` // text, number, password
	Required bool   `json:"required"`
}

// Question is one authored question inside a quiz definition.
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Text    string       `json:"text"`
	Options []Option     `json:"options,omitempty"`
	Correct []string     `json:"correct,omitempty"` // option IDs
	Weight  float64      `json:"weight"`
}

// Quiz is the authored, read-only definition of one quiz instance.
// It is immutable once downloaded; a re-download replaces it wholesale.
type Quiz struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	PublicCode       string       `json:"downloadCode"`
	StartsAt         time.Time    `json:"startsAt"`
	EndsAt           time.Time    `json:"endsAt"`
	TimerMinutes     int          `json:"timerMinutes"`
	LatencyMinutes   int          `json:"latencyMinutes"`
	RetentionDays    int          `json:"autoDeleteDays"`
	ShuffleQuestions bool         `json:"shuffleQuestions"`
	ShuffleOptions   bool         `json:"shuffleOptions"`
	OnSwitch         SwitchPolicy `json:"onAppSwitch"`
	UnlockSecret     string       `json:"unlockPassword,omitempty"`
	PreJoinFields    []FormField  `json:"preJoinFields,omitempty"`
	Questions        []Question   `json:"questions"`
}

// Answer records a student's response to a single question. Exactly one of
// OptionIDs or Text is meaningful, depending on the question type.
type Answer struct {
	QuestionID string   `json:"questionId"`
	OptionIDs  []string `json:"optionIds,omitempty"`
	Text       string   `json:"answerText,omitempty"`
}

// AnswerSet maps question ID to the student's answer, at most one per question.
type AnswerSet map[string]Answer

// SwitchEvent is one append-only environment-switch signal attached to an attempt.
type SwitchEvent struct {
	At   time.Time `json:"timestamp"`
	Kind string    `json:"kind"`
}

// GradeStatus reports whether a response was auto-graded, awaits manual
// grading, or has been manually graded.
type GradeStatus string

const (
	GradeAuto    GradeStatus = "auto"
	GradePending GradeStatus = "pending"
	GradeGraded  GradeStatus = "graded"
)

// Response is the remote-store document recording one student's attempt.
type Response struct {
	ID                string            `json:"id"`
	QuizID            string            `json:"quizId"`
	StudentID         string            `json:"rollNumber"`
	DeviceID          string            `json:"deviceId,omitempty"`
	StudentInfo       map[string]string `json:"studentInfo,omitempty"`
	Answers           []Answer          `json:"answers,omitempty"`
	ClientSubmittedAt *time.Time        `json:"clientSubmittedAt,omitempty"`
	ServerUploadedAt  *time.Time        `json:"serverUploadedAt,omitempty"`
	Score             *float64          `json:"score,omitempty"`
	GradeStatus       GradeStatus       `json:"gradeStatus,omitempty"`
	SwitchEvents      []SwitchEvent     `json:"appSwitchEvents,omitempty"`
	Flagged           bool              `json:"flagged"`
	Disqualified      bool              `json:"disqualified"`
}

// CachedQuizRecord is the fast-access local row for one downloaded quiz.
// RawDefinition holds the serialized definition exactly as downloaded.
type CachedQuizRecord struct {
	QuizID        string
	PublicCode    string
	Title         string
	RawDefinition string
	StartsAt      time.Time
	EndsAt        time.Time
	AnchorTicks   time.Duration
	Invalidated   bool
}

// Upload status values for a pending submission.
const (
	UploadPending   = "pending"
	UploadUploading = "uploading"
	UploadFailed    = "failed"
)

// PendingSubmission is one not-yet-accepted attempt waiting in the durable queue.
type PendingSubmission struct {
	ID              int64
	AttemptID       string
	QuizID          string
	StudentID       string
	StudentInfoJSON string
	AnswersJSON     string
	Flagged         bool
	Status          string
	LastError       string
	CreatedAt       time.Time
}

// HistoryRecord is the terminal, write-once local record of a successful upload.
type HistoryRecord struct {
	QuizID      string
	QuizTitle   string
	StudentID   string
	Score       *float64
	SubmittedAt time.Time
}

// BlobMeta is the metadata sidecar stored next to each durable definition blob.
type BlobMeta struct {
	QuizID string `json:"quizId"`
	Code   string `json:"code"`
	Title  string `json:"title"`
}

// StudentProfile holds the locally saved student identity reused across attempts.
type StudentProfile struct {
	StudentID string
	Name      string
	Email     string
	Section   string
}

// RequiredFieldsPresent reports whether every required pre-attempt field has a
// non-blank value in info.
func (q Quiz) RequiredFieldsPresent(info map[string]string) bool {
	for _, f := range q.PreJoinFields {
		if !f.Required {
			continue
		}
		if strings.TrimSpace(info[f.Key]) == "" {
			return false
		}
	}
	return true
}

// QuestionByID returns the question with the given ID, if present.
func (q Quiz) QuestionByID(id string) (Question, bool) {
	for i := range q.Questions {
		if q.Questions[i].ID == id {
			return q.Questions[i], true
		}
	}
	return Question{}, false
}
