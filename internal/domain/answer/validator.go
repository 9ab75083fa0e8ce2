// Package answer checks submitted answers against a task's expected value.
//
// Dispatch is an explicit table keyed by the task's declared AnswerKind.
// Unknown kinds fall back to case-insensitive comparison; that is the single
// fallback case and no content-based inference is performed.
package answer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gameday-live/arena/internal/domain/model"
)

// numericEpsilon bounds float comparison drift for numeric answers.
const numericEpsilon = 1e-9

// CheckFunc reports whether got matches the expected answer.
type CheckFunc func(expected, got string) bool

// table maps declared answer kinds to their comparison.
var table = map[model.AnswerKind]CheckFunc{
	model.AnswerExact:           checkExact,
	model.AnswerCaseInsensitive: checkCaseInsensitive,
	model.AnswerNumeric:         checkNumeric,
	model.AnswerRegexp:          checkRegexp,
}

// Check validates a submission for the given task.
func Check(task model.Task, got string) bool {
	check, ok := table[task.AnswerKind]
	if !ok {
		check = checkCaseInsensitive // documented fallback
	}
	return check(task.Answer, strings.TrimSpace(got))
}

func checkExact(expected, got string) bool {
	return expected == got
}

func checkCaseInsensitive(expected, got string) bool {
	return strings.EqualFold(strings.TrimSpace(expected), got)
}

func checkNumeric(expected, got string) bool {
	want, err1 := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	have, err2 := strconv.ParseFloat(got, 64)
	if err1 != nil || err2 != nil {
		return false
	}
	diff := want - have
	if diff < 0 {
		diff = -diff
	}
	return diff <= numericEpsilon
}

func checkRegexp(expected, got string) bool {
	re, err := regexp.Compile(expected)
	if err != nil {
		return false
	}
	return re.MatchString(got)
}
