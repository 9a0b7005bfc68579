package questions

import (
	"fmt"
	"math/rand/v2"

	"github.com/quizkit/mathrush/internal/models"
)

const (
	operandMin = 1
	operandMax = 10
)

var operators = []string{"+", "-", "*"}

// Generate produces n questions with bounded random operands. The numeric
// answer is computed here with integer arithmetic; nothing downstream ever
// evaluates the expression string again.
func Generate(n int) []models.Question {
	set := make([]models.Question, 0, n)
	for i := 0; i < n; i++ {
		q := New()
		q.Position = i
		set = append(set, q)
	}
	return set
}

// New produces a single question with Position left at zero.
func New() models.Question {
	a := operandMin + rand.IntN(operandMax-operandMin+1)
	b := operandMin + rand.IntN(operandMax-operandMin+1)
	op := operators[rand.IntN(len(operators))]

	var answer int
	switch op {
	case "+":
		answer = a + b
	case "-":
		answer = a - b
	case "*":
		answer = a * b
	}

	return models.Question{
		Expression: fmt.Sprintf("%d %s %d", a, op, b),
		Answer:     answer,
	}
}
