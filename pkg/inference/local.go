package inference

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const providerLocal = "local"

// Fixed replies used by Local.
const (
	localGreeting = "Hello! How can I help you today?"
	localFallback = "I'm having trouble reaching my language model right now. Please try again in a moment."
)

var (
	arithmeticRe = regexp.MustCompile(
		`(-?\d+(?:\.\d+)?)\s*(\+|-|\*|/|x|×|÷|plus|minus|times|multiplied by|divided by|over)\s*(-?\d+(?:\.\d+)?)`)
	greetingRe = regexp.MustCompile(`^\W*(hi|hello|hey|good (morning|afternoon|evening))\b`)
)

// Local is an offline Provider that answers without any model.
// It resolves simple two-operand arithmetic and greetings; anything else
// gets a fixed apology. It sits last in a Chain so callers always get an
// answer.
type Local struct{}

// NewLocal creates the offline provider.
func NewLocal() *Local {
	return &Local{}
}

// Name implements Provider.
func (l *Local) Name() string {
	return providerLocal
}

// Chat answers the most recent user message.
func (l *Local) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	text := lastUserMessage(req.Messages)

	return &ChatResponse{
		Message:      NewAssistantMessage(Respond(text)),
		FinishReason: "stop",
		Model:        providerLocal,
		Provider:     providerLocal,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// Health implements Provider. Local is always healthy.
func (l *Local) Health(ctx context.Context) error {
	return nil
}

// Close implements Provider.
func (l *Local) Close() error {
	return nil
}

// Respond produces the offline reply for one utterance.
func Respond(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))

	if m := arithmeticRe.FindStringSubmatch(lower); m != nil {
		return solve(m[1], m[2], m[3])
	}
	if greetingRe.MatchString(lower) {
		return localGreeting
	}
	return localFallback
}

// solve evaluates a op b and phrases the result.
func solve(lhs, op, rhs string) string {
	a, errA := strconv.ParseFloat(lhs, 64)
	b, errB := strconv.ParseFloat(rhs, 64)
	if errA != nil || errB != nil {
		return localFallback
	}

	var (
		result float64
		symbol string
	)
	switch op {
	case "+", "plus":
		result, symbol = a+b, "+"
	case "-", "minus":
		result, symbol = a-b, "-"
	case "*", "x", "×", "times", "multiplied by":
		result, symbol = a*b, "×"
	case "/", "÷", "divided by", "over":
		if b == 0 {
			return "I can't divide by zero."
		}
		result, symbol = a/b, "÷"
	default:
		return localFallback
	}

	return fmt.Sprintf("%s %s %s = %s.", formatNumber(a), symbol, formatNumber(b), formatNumber(result))
}

// formatNumber prints integers without a decimal point and rounds the rest.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

// Verify Local implements Provider at compile time.
var _ Provider = (*Local)(nil)
