package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatTags(t *testing.T) {
	assert.Equal(t, "trader_7", FormatTraderTag(7))
	assert.Equal(t, "strategy_3", FormatStrategyTag(3))
}

func TestParseTraderTag(t *testing.T) {
	testCases := []struct {
		name        string
		tag         string
		expected    int64
		shouldError bool
	}{
		{
			name:     "valid tag",
			tag:      "trader_7",
			expected: 7,
		},
		{
			name:     "large id",
			tag:      "trader_9001",
			expected: 9001,
		},
		{
			name:        "empty tag",
			tag:         "",
			shouldError: true,
		},
		{
			name:        "foreign tag",
			tag:         "copy_trade_9",
			shouldError: true,
		},
		{
			name:        "non-numeric id",
			tag:         "trader_abc",
			shouldError: true,
		},
		{
			name:        "zero id",
			tag:         "trader_0",
			shouldError: true,
		},
		{
			name:        "negative id",
			tag:         "trader_-4",
			shouldError: true,
		},
		{
			name:        "prefix only",
			tag:         "trader_",
			shouldError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := ParseTraderTag(tc.tag)
			if tc.shouldError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, id)
		})
	}
}

func TestParseStrategyTag(t *testing.T) {
	testCases := []struct {
		name        string
		comment     string
		expected    int64
		shouldError bool
	}{
		{
			name:     "valid comment",
			comment:  "strategy_3",
			expected: 3,
		},
		{
			name:        "empty comment",
			comment:     "",
			shouldError: true,
		},
		{
			name:        "free-text comment",
			comment:     "opened by bot",
			shouldError: true,
		},
		{
			name:        "zero id",
			comment:     "strategy_0",
			shouldError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := ParseStrategyTag(tc.comment)
			if tc.shouldError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, id)
		})
	}
}

func TestTagsRoundTrip(t *testing.T) {
	id, err := ParseTraderTag(FormatTraderTag(42))
	assert.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = ParseStrategyTag(FormatStrategyTag(11))
	assert.NoError(t, err)
	assert.Equal(t, int64(11), id)
}
