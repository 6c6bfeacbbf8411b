// Package request builds the WorkRequest wire message from a spawn's
// flag-file references and expanded inputs (spec §4.2).
package request

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relaybuild/workerspawn/internal/domain"
	"github.com/relaybuild/workerspawn/internal/wireproto"
)

// Build assembles a WorkRequest: flag-file contents expanded into
// arguments, followed by one Input record per expanded input file.
// An input whose digest digestOf cannot supply still gets a record, with
// the digest "".
func Build(execRoot string, flagFiles []string, inputs []string, digestOf domain.InputDigestLookup) (wireproto.WorkRequest, error) {
	var req wireproto.WorkRequest

	e := &expander{execRoot: execRoot, visited: map[string]bool{}}
	for _, f := range flagFiles {
		if err := e.expand(&req, f); err != nil {
			return wireproto.WorkRequest{}, err
		}
	}

	for _, in := range inputs {
		digest, ok := digestOf(in)
		if !ok {
			digest = ""
		}
		req.Inputs = append(req.Inputs, wireproto.Input{Path: in, Digest: digest})
	}

	return req, nil
}

type expander struct {
	execRoot string
	// visited guards against cyclic flag-file graphs (spec §9 open
	// question, resolved: treat as a bug to guard rather than trust).
	visited map[string]bool
}

// expand implements expandArgument (spec §4.2):
//   - "@path" (not "@@path") expands the file's non-empty lines, each
//     re-processed recursively.
//   - everything else, including "@@path" and "--flagfile=" forms, is
//     appended as a literal argument.
func (e *expander) expand(req *wireproto.WorkRequest, arg string) error {
	if strings.HasPrefix(arg, "@") && !strings.HasPrefix(arg, "@@") {
		rel := arg[1:]
		abs := filepath.Join(e.execRoot, rel)

		if e.visited[abs] {
			return fmt.Errorf("cyclic flag-file reference at %s", abs)
		}
		e.visited[abs] = true
		defer delete(e.visited, abs)

		f, err := os.Open(abs)
		if err != nil {
			return fmt.Errorf("reading flag file %s: %w", abs, err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if len(line) == 0 {
				continue
			}
			if err := e.expand(req, line); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading flag file %s: %w", abs, err)
		}
		return nil
	}

	req.Arguments = append(req.Arguments, arg)
	return nil
}
