// Package scoring implements per-student deterministic shuffling and weighted
// grading. Permutations are seeded from stable hashes of the student and quiz
// identifiers, so a reload reproduces the exact same order while different
// students see independent ones.
package scoring

import (
	"hash/fnv"
	"math/rand"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

// Seed derives the question-order seed for one (student, quiz) pair.
func Seed(studentID, quizID string) int64 {
	return stableHash(studentID + "_" + quizID)
}

// OptionSeed derives the option-order seed for one question, independent of
// the question-order seed.
func OptionSeed(studentID, quizID, questionID string) int64 {
	return stableHash(studentID + "_" + quizID + "_" + questionID)
}

// stableHash is FNV-1a over the key; unlike language-default hashing it is
// identical across processes and platforms.
func stableHash(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// ShuffleQuestions returns the quiz's questions in the student's order.
// The definition's shuffle flags gate each permutation; options are permuted
// per question with their own seed.
func ShuffleQuestions(quiz domain.Quiz, studentID string) []domain.Question {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)

	if quiz.ShuffleQuestions {
		rnd := rand.New(rand.NewSource(Seed(studentID, quiz.ID)))
		rnd.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	if quiz.ShuffleOptions {
		for i := range questions {
			questions[i] = shuffleOptions(questions[i], quiz.ID, studentID)
		}
	}
	return questions
}

func shuffleOptions(q domain.Question, quizID, studentID string) domain.Question {
	if len(q.Options) == 0 {
		return q
	}
	options := make([]domain.Option, len(q.Options))
	copy(options, q.Options)
	rnd := rand.New(rand.NewSource(OptionSeed(studentID, quizID, q.ID)))
	rnd.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	q.Options = options
	return q
}

// Score grades an answer set against the quiz definition:
// 100 * (weight of correctly answered questions) / (total weight), or 0 when
// the total weight is 0. Text questions never score automatically but their
// weight stays in the denominator, pending manual review.
func Score(quiz domain.Quiz, answers []domain.Answer) float64 {
	byQuestion := make(map[string]domain.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	var earned, total float64
	for _, q := range quiz.Questions {
		total += q.Weight
		a, ok := byQuestion[q.ID]
		if !ok {
			continue
		}
		if Correct(q, a) {
			earned += q.Weight
		}
	}
	if total <= 0 {
		return 0
	}
	return 100 * earned / total
}

// Correct applies the per-type correctness rule to a single answer.
func Correct(q domain.Question, a domain.Answer) bool {
	switch q.Type {
	case domain.QuestionSingle:
		return len(a.OptionIDs) == 1 && len(q.Correct) == 1 && a.OptionIDs[0] == q.Correct[0]
	case domain.QuestionMulti:
		return setEqual(a.OptionIDs, q.Correct)
	default:
		// Text answers always wait for manual grading.
		return false
	}
}

// setEqual compares two option-id lists as sets: order-independent,
// size-sensitive, duplicates collapsed.
func setEqual(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, id := range a {
		as[id] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, id := range b {
		bs[id] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for id := range as {
		if _, ok := bs[id]; !ok {
			return false
		}
	}
	return true
}
