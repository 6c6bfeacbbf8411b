package classifier

import (
	"testing"

	"github.com/relaybuild/workerspawn/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_HappyPath(t *testing.T) {
	startup, flagFiles, err := Split("Javac", []string{"javac", "@opts.txt"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"javac", PersistentWorkerFlag}, startup)
	assert.Equal(t, []string{"@opts.txt"}, flagFiles)
}

func TestSplit_ExtraFlagsAppendedAfterPersistentWorker(t *testing.T) {
	extras := map[string][]string{"Javac": {"--debug", "--verbose"}}
	startup, _, err := Split("Javac", []string{"javac", "@opts.txt"}, extras)
	require.NoError(t, err)
	assert.Equal(t, []string{"javac", PersistentWorkerFlag, "--debug", "--verbose"}, startup)
}

func TestSplit_NoFlagfile(t *testing.T) {
	_, _, err := Split("Javac", []string{"javac", "-source", "1.8"}, nil)
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindNoFlagfile, derr.Kind)
}

func TestSplit_PartitionIsAMultisetOfArgv(t *testing.T) {
	argv := []string{"tool", "-x", "@a.txt", "--flagfile=b.txt", "-flagfile=c.txt", "--opt=1"}
	startup, flagFiles, err := Split("Mnem", argv, nil)
	require.NoError(t, err)

	// Remove the appended persistent-worker tail before recombining.
	startupNoTail := startup[:len(startup)-1]
	combined := append(append([]string{}, startupNoTail...), flagFiles...)
	assert.ElementsMatch(t, argv, combined)
}

func TestIsFlagFileReference(t *testing.T) {
	cases := map[string]bool{
		"@file.txt":          true,
		"@@escaped":          true, // matches the syntactic predicate; @@ handling is expandArgument's job
		"-flagfile=x":        true,
		"--flagfile=x":       true,
		"-source":            false,
		"1.8":                false,
	}
	for arg, want := range cases {
		assert.Equal(t, want, IsFlagFileReference(arg), "arg=%q", arg)
	}
}
