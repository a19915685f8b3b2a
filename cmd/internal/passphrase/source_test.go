package passphrase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	t.Setenv("LEND_TEST_PASS", "hunter2")
	src := NewSource("LEND_TEST_PASS", "admin keystore")
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)

	t.Setenv("LEND_TEST_PASS", "changed")
	value, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value, "value is cached after the first read")
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("LEND_TEST_PASS", "   ")
	_, err := NewSource("LEND_TEST_PASS", "").Get()
	require.ErrorContains(t, err, "LEND_TEST_PASS is set but empty")
}

type scriptedPrompter struct {
	terminal bool
	answers  []string
	prompts  []string
}

func (p *scriptedPrompter) IsTerminal() bool { return p.terminal }

func (p *scriptedPrompter) ReadSecret(prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

func TestSourcePromptsWithConfirmation(t *testing.T) {
	p := &scriptedPrompter{terminal: true, answers: []string{"s3cret", "s3cret"}}
	value, err := NewSource("", "participant keystore", WithConfirm(), WithPrompter(p)).Get()
	require.NoError(t, err)
	require.Equal(t, "s3cret", value)
	require.Equal(t, []string{"Enter participant keystore passphrase: ", "Repeat participant keystore passphrase: "}, p.prompts)

	p = &scriptedPrompter{terminal: true, answers: []string{"s3cret", "typo"}}
	_, err = NewSource("", "", WithConfirm(), WithPrompter(p)).Get()
	require.ErrorIs(t, err, ErrMismatch)
}

func TestSourceRequiresTerminalWithoutEnvironment(t *testing.T) {
	_, err := NewSource("LEND_TEST_UNSET_PASS", "keystore", WithPrompter(&scriptedPrompter{})).Get()
	require.ErrorContains(t, err, "set LEND_TEST_UNSET_PASS or run interactively")
}
