package search

import (
	"math"
	"testing"

	"gotest.tools/assert"
)

func TestParseNumCriterion(t *testing.T) {
	low, high := parseNumCriterion("150-250")
	assert.Equal(t, low, 150.0)
	assert.Equal(t, high, 250.0)

	low, high = parseNumCriterion(" <= 200 ")
	assert.Assert(t, math.IsInf(low, -1))
	assert.Equal(t, high, 200.0)

	low, high = parseNumCriterion("<200")
	assert.Assert(t, high < 200.0)
	assert.Assert(t, math.Nextafter(high, math.Inf(1)) == 200.0)

	low, high = parseNumCriterion(">3.5")
	assert.Assert(t, low > 3.5)
	assert.Assert(t, math.IsInf(high, 1))

	low, high = parseNumCriterion("42")
	assert.Equal(t, low, 42.0)
	assert.Equal(t, high, 42.0)

	low, high = parseNumCriterion("not a number")
	assert.Assert(t, math.IsInf(low, -1))
	assert.Assert(t, math.IsInf(high, 1))
}

func TestParseTextCriterion(t *testing.T) {
	text, negate := parseTextCriterion("ABC")
	assert.Equal(t, string(text), "ABC")
	assert.Assert(t, !negate)

	text, negate = parseTextCriterion("!ABC")
	assert.Equal(t, string(text), "ABC")
	assert.Assert(t, negate)
}
