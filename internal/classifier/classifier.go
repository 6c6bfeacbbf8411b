// Package classifier splits a spawn's argv into the part used to start the
// persistent worker and the part that becomes the WorkRequest (spec §4.1).
package classifier

import (
	"fmt"
	"regexp"

	"github.com/relaybuild/workerspawn/internal/domain"
)

// flagFilePattern matches @file, -flagfile=file, and --flagfile=file. The
// @@ escape is deliberately not excluded here: that's expandArgument's job
// (internal/request), not the classifier's. Keeping the split means this
// regex stays reusable as a pure syntactic predicate.
var flagFilePattern = regexp.MustCompile(`^(?:@|-{1,2}flagfile=)(.+)$`)

const (
	errorPrefix        = "Worker strategy cannot execute this %s action, "
	reasonNoFlagfile   = "because the command-line arguments do not contain at least one @flagfile or --flagfile="
)

// PersistentWorkerFlag is appended to every classified startup args list.
const PersistentWorkerFlag = "--persistent_worker"

// Split partitions argv into startup args and flag-file references.
// Apart from the appended tail described below, startupArgs ∪ flagFiles
// equals argv as a multiset, order preserved within each partition (spec
// §8 property 2). The returned startupArgs already carries the "--persistent_worker" tail plus any mnemonic-
// specific extras, in that order (spec §8 property 3).
func Split(mnemonic string, argv []string, extraFlags map[string][]string) (startupArgs, flagFiles []string, err error) {
	for _, arg := range argv {
		if flagFilePattern.MatchString(arg) {
			flagFiles = append(flagFiles, arg)
		} else {
			startupArgs = append(startupArgs, arg)
		}
	}

	if len(flagFiles) == 0 {
		return nil, nil, domain.NewError(
			domain.KindNoFlagfile,
			fmt.Sprintf(errorPrefix+reasonNoFlagfile, mnemonic),
			nil,
		)
	}

	startupArgs = append(startupArgs, PersistentWorkerFlag)
	startupArgs = append(startupArgs, extraFlags[mnemonic]...)

	return startupArgs, flagFiles, nil
}

// IsFlagFileReference reports whether arg matches the flag-file syntax,
// independent of the @@ escape handled during expansion.
func IsFlagFileReference(arg string) bool {
	return flagFilePattern.MatchString(arg)
}
