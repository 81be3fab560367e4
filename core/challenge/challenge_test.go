package challenge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_Identification_IgnoresCaseAndSpace(t *testing.T) {
	_, secret, err := Config{
		QuestionType:  Identification,
		Question:      "What was our first dog's name?",
		CorrectAnswer: "Buddy",
	}.Split(KindQuiz)
	require.NoError(t, err)

	for _, in := range []string{"Buddy", "buddy", "  buddy ", "BUDDY", "\tbUdDy\n"} {
		assert.True(t, Check(secret, in), "answer %q", in)
	}
	assert.False(t, Check(secret, "Rex"))
	assert.False(t, Check(secret, "Bud dy"))
	assert.False(t, Check(secret, ""))
}

func TestCheck_MultipleChoice_IsExact(t *testing.T) {
	_, secret, err := Config{
		QuestionType:  MultipleChoice,
		Question:      "Where did we meet?",
		Options:       []string{"Paris", "Tokyo", "Lima"},
		CorrectAnswer: "Tokyo",
	}.Split(KindQuiz)
	require.NoError(t, err)

	assert.True(t, Check(secret, "Tokyo"))
	assert.False(t, Check(secret, "tokyo"))
	assert.False(t, Check(secret, " Tokyo"))
	assert.False(t, Check(secret, "Paris"))
}

func TestCheck_TrueFalse(t *testing.T) {
	q, secret, err := Config{
		QuestionType:  TrueFalse,
		Question:      "We met in winter.",
		CorrectAnswer: "True",
	}.Split(KindQuiz)
	require.NoError(t, err)

	assert.Equal(t, []string{"true", "false"}, q.Options)
	assert.True(t, Check(secret, "true"))
	assert.False(t, Check(secret, "false"))
	assert.False(t, Check(secret, "True"))
}

func TestCheck_Date(t *testing.T) {
	_, secret, err := Config{Question: "Our anniversary?", CorrectDate: "2023-06-15"}.Split(KindDate)
	require.NoError(t, err)
	assert.Equal(t, "2023-06-15", secret.Reveal())

	match := []string{
		"2023-06-15",
		"2023-06-15T00:00:00Z",
		"2023-06-15T23:59:59Z",
		"2023-06-15T23:30:00-05:00",
		"2023-06-15T01:00:00+09:00",
		"2023-06-15T12:00:00.000Z",
		"2023-06-15T08:15",
		" 2023-06-15 ",
	}
	for _, in := range match {
		assert.True(t, Check(secret, in), "answer %q", in)
	}

	for _, in := range []string{"2023-06-16", "2023-06-14T23:59:59Z", "2022-06-15", "June 15", ""} {
		assert.False(t, Check(secret, in), "answer %q", in)
	}
}

func TestCheck_StoredDateWithTime(t *testing.T) {
	secret := NewDateSecret("2024-06-01T00:00:00.000Z")
	assert.True(t, Check(secret, "2024-06-01"))
	assert.False(t, Check(secret, "2024-06-02"))
}

func TestCheck_ZeroSecretNeverMatches(t *testing.T) {
	assert.False(t, Check(Secret{}, ""))
	assert.False(t, Check(Secret{}, "anything"))
}

func TestCheck_Idempotent(t *testing.T) {
	secret := NewQuizSecret(Identification, "Buddy")
	first := Check(secret, "Rex")
	second := Check(secret, "Rex")
	assert.False(t, first)
	assert.Equal(t, first, second)
}

func TestSecret_RefusesJSON(t *testing.T) {
	secret := NewQuizSecret(Identification, "Buddy")

	_, err := json.Marshal(secret)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSecretSerialization)

	_, err = json.Marshal(struct {
		S Secret `json:"s"`
	}{secret})
	assert.Error(t, err)

	assert.NotContains(t, secret.String(), "Buddy")
}

func TestSplit_Rejects(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		cfg  Config
	}{
		{"empty question", KindQuiz, Config{QuestionType: Identification, CorrectAnswer: "x"}},
		{"unknown question type", KindQuiz, Config{QuestionType: "essay", Question: "q", CorrectAnswer: "x"}},
		{"one option", KindQuiz, Config{QuestionType: MultipleChoice, Question: "q", Options: []string{"a"}, CorrectAnswer: "a"}},
		{"answer not in options", KindQuiz, Config{QuestionType: MultipleChoice, Question: "q", Options: []string{"a", "b"}, CorrectAnswer: "c"}},
		{"true false answer", KindQuiz, Config{QuestionType: TrueFalse, Question: "q", CorrectAnswer: "yes"}},
		{"blank identification", KindQuiz, Config{QuestionType: Identification, Question: "q", CorrectAnswer: "  "}},
		{"bad date", KindDate, Config{Question: "q", CorrectDate: "15/06/2023"}},
		{"none kind", KindNone, Config{Question: "q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.cfg.Split(tt.kind)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSplit_QuestionCarriesNoAnswer(t *testing.T) {
	q, _, err := Config{
		QuestionType:  Identification,
		Question:      "Name?",
		Options:       []string{"ignored"},
		CorrectAnswer: "Buddy",
	}.Split(KindQuiz)
	require.NoError(t, err)

	body, err := json.Marshal(q)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "Buddy")
	assert.NotContains(t, string(body), "correct")
	assert.Nil(t, q.Options)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindNone, k)

	k, err = ParseKind("date")
	require.NoError(t, err)
	assert.Equal(t, KindDate, k)

	_, err = ParseKind("password")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
