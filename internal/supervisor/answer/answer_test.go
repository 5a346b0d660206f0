package answer_test

import (
	"testing"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/answer"
	"github.com/stretchr/testify/assert"
)

func TestParse_NoColon(t *testing.T) {
	got := answer.Parse("allow")
	assert.Equal(t, answer.Answer{Decision: "allow"}, got)
}

func TestParse_SplitsOnFirstColonOnly(t *testing.T) {
	got := answer.Parse("reject: also cover the auth module: please")
	assert.Equal(t, "reject", got.Decision)
	assert.Equal(t, "also cover the auth module: please", got.Reason)
	assert.True(t, got.HasReason)
}

func TestParse_TrimsWhitespace(t *testing.T) {
	got := answer.Parse("  deny   :   timed out  ")
	assert.Equal(t, "deny", got.Decision)
	assert.Equal(t, "timed out", got.Reason)
}

func TestParse_Empty(t *testing.T) {
	assert.Equal(t, answer.Answer{}, answer.Parse(""))
}

func TestParse_RoundTrip(t *testing.T) {
	got := answer.Parse("approve" + ": " + "looks good")
	assert.Equal(t, answer.Answer{Decision: "approve", Reason: "looks good", HasReason: true}, got)

	got2 := answer.Parse("approve")
	assert.Equal(t, answer.Answer{Decision: "approve"}, got2)
}
