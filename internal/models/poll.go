package models

type PollType string

const (
	PollTypeSingleChoice   PollType = "single_choice"
	PollTypeMultipleChoice PollType = "multiple_choice"
	// PollTypeUnknown is reported for polls whose stored type is
	// missing or not recognised.
	PollTypeUnknown PollType = ""
)

func ParsePollType(s string) PollType {
	switch PollType(s) {
	case PollTypeSingleChoice, PollTypeMultipleChoice:
		return PollType(s)
	}
	return PollTypeUnknown
}

type Poll struct {
	ID     int64    `db:"id"`
	PostID *int64   `db:"post_id"`
	Type   PollType `db:"poll_type"`
}

type PollOption struct {
	ID         int64  `db:"id"`
	PollID     int64  `db:"poll_id"`
	Label      string `db:"label"`
	Position   int    `db:"position"`
	VotesCount int    `db:"votes_count"`
}

type PollReport struct {
	PollID  int64         `json:"pollId"`
	Options []OptionCount `json:"options"`
}
