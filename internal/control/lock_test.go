package control

import (
	"testing"

	"github.com/dgruss/karaoked/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSynth struct {
	keys  []string
	texts []string
}

func (f *fakeSynth) Key(name string) error {
	f.keys = append(f.keys, name)
	return nil
}

func (f *fakeSynth) Type(text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func TestAcquireConflict(t *testing.T) {
	l := New("", &fakeSynth{})

	_, err := l.Acquire(1, "Ada")
	require.NoError(t, err)

	_, err = l.Acquire(2, "Bob")
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.CodeFor(err))
}

func TestAcquireReacquireBySameOwnerSucceeds(t *testing.T) {
	l := New("", &fakeSynth{})
	_, err := l.Acquire(1, "Ada")
	require.NoError(t, err)
	_, err = l.Acquire(1, "Ada")
	require.NoError(t, err)
}

func TestPassphraseGatesAcquire(t *testing.T) {
	l := New("secret", &fakeSynth{})

	_, err := l.Acquire(1, "Ada")
	require.Error(t, err)
	assert.Equal(t, errs.ControlPasswordNeeded, errs.CodeFor(err))

	err = l.Authenticate(1, "wrong")
	require.Error(t, err)
	assert.Equal(t, errs.InvalidPassword, errs.CodeFor(err))

	require.NoError(t, l.Authenticate(1, "secret"))
	_, err = l.Acquire(1, "Ada")
	require.NoError(t, err)
}

func TestReleaseRequiresOwner(t *testing.T) {
	l := New("", &fakeSynth{})
	_, err := l.Acquire(1, "Ada")
	require.NoError(t, err)

	err = l.Release(2)
	require.Error(t, err)
	assert.Equal(t, errs.NotOwner, errs.CodeFor(err))

	require.NoError(t, l.Release(1))
}

func TestKeystrokeMapping(t *testing.T) {
	synth := &fakeSynth{}
	l := New("", synth)
	_, err := l.Acquire(1, "Ada")
	require.NoError(t, err)

	require.NoError(t, l.Keystroke(1, "a"))
	require.NoError(t, l.Keystroke(1, "Escape"))
	err = l.Keystroke(1, "NotAKey")
	require.Error(t, err)
	assert.Equal(t, errs.UnsupportedKey, errs.CodeFor(err))

	assert.Equal(t, []string{"a"}, synth.texts)
	assert.Equal(t, []string{"Escape"}, synth.keys)
}

func TestKeystrokeRequiresOwnership(t *testing.T) {
	l := New("", &fakeSynth{})
	_, err := l.Acquire(1, "Ada")
	require.NoError(t, err)

	err = l.Keystroke(2, "Escape")
	require.Error(t, err)
	assert.Equal(t, errs.NotOwner, errs.CodeFor(err))
}

func TestTypeTextEmitsBackspacesThenText(t *testing.T) {
	synth := &fakeSynth{}
	l := New("", synth)
	_, err := l.Acquire(1, "Ada")
	require.NoError(t, err)

	require.NoError(t, l.TypeText(1, "hello"))
	assert.Len(t, synth.keys, typeTextBackspaces)
	for _, k := range synth.keys {
		assert.Equal(t, "BackSpace", k)
	}
	assert.Equal(t, []string{"hello"}, synth.texts)
}

func TestReleaseIfOwnerReleasesOnlyForOwner(t *testing.T) {
	l := New("", &fakeSynth{})
	_, err := l.Acquire(1, "Ada")
	require.NoError(t, err)

	l.ReleaseIfOwner(2)
	assert.True(t, l.IsOwner(1))

	l.ReleaseIfOwner(1)
	assert.False(t, l.IsOwner(1))
}
