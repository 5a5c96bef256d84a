package serialline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpig99/smart-socks-sub000/message"
)

func TestParseLinePerLeg(t *testing.T) {
	samples, err := ParseLine("12345,L,1024,2048,512")
	require.NoError(t, err)
	require.Len(t, samples, 1)

	s := samples[0]
	assert.Equal(t, message.LegLeft, s.Leg)
	assert.Equal(t, int64(12345), s.TimestampMs)
	assert.Equal(t, [3]int{1024, 2048, 512}, s.Values)
}

func TestParseLineWhitespace(t *testing.T) {
	samples, err := ParseLine("  12345 , R , 1 , 2 , 3 \r")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, message.LegRight, samples[0].Leg)
}

func TestParseLineCombined(t *testing.T) {
	samples, err := ParseLine("500,10,20,30,40,50,60")
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, message.LegLeft, samples[0].Leg)
	assert.Equal(t, [3]int{10, 20, 30}, samples[0].Values)
	assert.Equal(t, message.LegRight, samples[1].Leg)
	assert.Equal(t, [3]int{40, 50, 60}, samples[1].Values)
	assert.Equal(t, samples[0].TimestampMs, samples[1].TimestampMs)
}

func TestParseLineStatusAndBlank(t *testing.T) {
	for _, line := range []string{"", "   ", "# recording started", "#STATUS ok"} {
		samples, err := ParseLine(line)
		assert.NoError(t, err, "line %q", line)
		assert.Nil(t, samples, "line %q", line)
	}
}

func TestParseLineRejects(t *testing.T) {
	lines := []string{
		"12345,L,1,2",             // short
		"1,2,3,4,5,6",             // six fields fits neither format
		"abc,L,1,2,3",             // bad timestamp
		"123,L,one,2,3",           // bad value
		"123,X,1,2,3",             // unknown leg
		"123,L,5000,2,3",          // beyond ADC range
		"123,L,-1,2,3",            // negative reading
		"500,10,20,30,40,50,9999", // range check on combined form
	}
	for _, line := range lines {
		_, err := ParseLine(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestValidCommand(t *testing.T) {
	for _, name := range []string{"START", "stop", " Status ", "HELP", "MASTER", "SLAVE", "SYNC OFF", "trigger"} {
		assert.True(t, ValidCommand(name), name)
	}
	for _, name := range []string{"", "REBOOT", "START;rm", "SYNC"} {
		assert.False(t, ValidCommand(name), name)
	}
}
