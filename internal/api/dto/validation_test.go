package dto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCreateTicketRequest(t *testing.T) {
	details, err := Validate(CreateTicketRequest{ProblemDescription: "printer jam"})
	require.NoError(t, err)
	assert.Nil(t, details)

	details, err = Validate(CreateTicketRequest{})
	require.Error(t, err)
	assert.Equal(t, map[string]any{"problem_description": "field is required"}, details)

	details, err = Validate(CreateTicketRequest{ProblemDescription: "x", EstimatedTime: strings.Repeat("a", 65)})
	require.Error(t, err)
	assert.Equal(t, "length must be at most 64", details["estimated_time"])
}
