package breakpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var errInvalidHitCondition = errors.New(MsgInvalidHitCount)

// HitCondition is a parsed hit count condition.
type HitCondition struct {
	op string
	n  int
}

var hitOps = []string{">=", "<=", "==", ">", "<", "=", "%"}

// ParseHitCondition parses N, =N, ==N, >N, >=N, <N, <=N and %N. A bare
// N means >=N.
func ParseHitCondition(s string) (HitCondition, error) {
	s = strings.TrimSpace(s)
	op := ">="
	for _, o := range hitOps {
		if strings.HasPrefix(s, o) {
			op, s = o, strings.TrimSpace(s[len(o):])
			break
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || (op == "%" && n == 0) {
		return HitCondition{}, fmt.Errorf("%w: %q", errInvalidHitCondition, s)
	}
	if op == "=" {
		op = "=="
	}
	return HitCondition{op: op, n: n}, nil
}

// Satisfied reports whether the count-th hit should pause.
func (c HitCondition) Satisfied(count int) bool {
	switch c.op {
	case ">=":
		return count >= c.n
	case "<=":
		return count <= c.n
	case "==":
		return count == c.n
	case ">":
		return count > c.n
	case "<":
		return count < c.n
	case "%":
		return count%c.n == 0
	}
	return false
}

func (c HitCondition) String() string { return c.op + strconv.Itoa(c.n) }

// HitCounter counts hits per recipe.
type HitCounter struct {
	mu     sync.Mutex
	counts map[RecipeID]int
}

// Hit records a hit of id and returns the new count.
func (h *HitCounter) Hit(id RecipeID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.counts == nil {
		h.counts = make(map[RecipeID]int)
	}
	h.counts[id]++
	return h.counts[id]
}

// Reset forgets the hits of id.
func (h *HitCounter) Reset(id RecipeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.counts, id)
}

// LogMessageExpression turns a log message template into a runtime
// breakpoint condition that logs and never pauses. Text between braces
// is evaluated; "{{" and "}}" are literal braces.
func LogMessageExpression(template string) (string, error) {
	var (
		format strings.Builder
		args   []string
	)
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch {
		case c == '{' && strings.HasPrefix(template[i:], "{{"):
			format.WriteByte('{')
			i++
		case c == '}' && strings.HasPrefix(template[i:], "}}"):
			format.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(template[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated expression in log message %q", template)
			}
			expr := strings.TrimSpace(template[i+1 : i+end])
			if expr == "" {
				return "", fmt.Errorf("empty expression in log message %q", template)
			}
			args = append(args, "("+expr+")")
			format.WriteString("%O")
			i += end
		case c == '%':
			format.WriteString("%%")
		default:
			format.WriteByte(c)
		}
	}
	quoted, err := json.Marshal(format.String())
	if err != nil {
		return "", err
	}
	call := "console.log(" + string(quoted)
	for _, a := range args {
		call += ", " + a
	}
	return call + "), false", nil
}
