package breakpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHitCondition(t *testing.T) {
	tests := []struct {
		cond string
		hits []bool // Satisfied for counts 1..len(hits)
	}{
		{"3", []bool{false, false, true, true}},
		{">=3", []bool{false, false, true, true}},
		{"=2", []bool{false, true, false}},
		{"== 2", []bool{false, true, false}},
		{">1", []bool{false, true, true}},
		{"<3", []bool{true, true, false}},
		{"<=1", []bool{true, false}},
		{"%2", []bool{false, true, false, true}},
	}
	for _, tc := range tests {
		c, err := ParseHitCondition(tc.cond)
		require.NoError(t, err, tc.cond)
		for i, want := range tc.hits {
			assert.Equal(t, want, c.Satisfied(i+1), "%s at hit %d", tc.cond, i+1)
		}
	}
	for _, bad := range []string{"", "x", ">", "%0", "-1", "=>3"} {
		_, err := ParseHitCondition(bad)
		assert.Error(t, err, bad)
	}
}

func TestLogMessageExpression(t *testing.T) {
	expr, err := LogMessageExpression("x is {x}, 50% of {obj.total }")
	require.NoError(t, err)
	assert.Equal(t, `console.log("x is %O, 50%% of %O", (x), (obj.total)), false`, expr)

	expr, err = LogMessageExpression("literal {{braces}}")
	require.NoError(t, err)
	assert.Equal(t, `console.log("literal {braces}"), false`, expr)

	_, err = LogMessageExpression("broken {x")
	assert.Error(t, err)
	_, err = LogMessageExpression("empty {}")
	assert.Error(t, err)
}

func TestURLRegexp(t *testing.T) {
	a := URLRegexp("http://localhost:8080/app.js", false)
	b := URLRegexp("http://localhost:8080/app.js", false)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, `(?:^http://localhost:8080/app\.js$)`)

	ci := URLRegexp("C:/Work/a.js", true)
	assert.Contains(t, ci, `(?:^[cC]:/[wW][oO][rR][kK]/[aA]\.[jJ][sS]$)`)
}
