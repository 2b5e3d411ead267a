package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePollType(t *testing.T) {
	require := require.New(t)
	require.Equal(PollTypeSingleChoice, ParsePollType("single_choice"))
	require.Equal(PollTypeMultipleChoice, ParsePollType("multiple_choice"))
	require.Equal(PollTypeUnknown, ParsePollType(""))
	require.Equal(PollTypeUnknown, ParsePollType("ranked"))
}

func TestReadEnvConfig(t *testing.T) {
	require := require.New(t)
	t.Setenv("POLLVOTE_DATABASE_URL", "postgres://localhost/pollvote")
	t.Setenv("POLLVOTE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("POLLVOTE_PROPAGATION_TIMEOUT", "500ms")

	config, err := ReadEnvConfig()
	require.NoError(err)
	require.Equal("23495", config.Port)
	require.Equal([]string{"k1:9092", "k2:9092"}, config.KafkaBrokers)
	require.Equal("poll-votes", config.KafkaTopic)
	require.Equal(500_000_000, int(config.PropagationTimeout))
	require.False(config.LegacySingleChoiceFallback)
}

func TestReadEnvConfigRequiresDatabase(t *testing.T) {
	t.Setenv("POLLVOTE_DATABASE_URL", "")
	t.Setenv("POLLVOTE_DEBUG", "false")
	_, err := ReadEnvConfig()
	require.Error(t, err)

	t.Setenv("POLLVOTE_DEBUG", "true")
	_, err = ReadEnvConfig()
	require.NoError(t, err)
}
