// Package workerkey implements the content-addressed identity that
// partitions actions into worker pool shards (spec §4.3). Two keys are
// equal iff the worker behind them is safely interchangeable for the
// action.
package workerkey

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Key is an immutable value type; Go structs with only comparable fields
// support == directly, but maps aren't comparable, so environment and
// input-file layout are folded into Hash() (used for map/set membership)
// while Equal() does the precise field-by-field comparison spec §3
// requires.
type Key struct {
	StartupArgs     []string
	Env             map[string]string
	ExecRoot        string
	Mnemonic        string
	WorkerFilesHash string // hex digest, order-insensitive over tool files
	InputFileLayout map[string]string
	OutputFiles     []string
	Speculating     bool
}

// ToolFileDigest computes the worker-files hash: a pure, order-insensitive
// function of tool-file paths and their metadata digests (spec §4.3). The
// digest lookup mirrors internal/domain.InputDigestLookup.
func ToolFileDigest(toolFiles []string, digestOf func(path string) (string, bool)) string {
	entries := make([]string, 0, len(toolFiles))
	for _, f := range toolFiles {
		digest, _ := digestOf(f)
		entries = append(entries, f+"\x00"+digest)
	}
	sort.Strings(entries)

	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// New builds a Key from an orchestrator's inputs.
func New(
	startupArgs []string,
	env map[string]string,
	execRoot string,
	mnemonic string,
	workerFilesHash string,
	inputFileLayout map[string]string,
	outputFiles []string,
	speculating bool,
) Key {
	return Key{
		StartupArgs:     append([]string{}, startupArgs...),
		Env:             env,
		ExecRoot:        execRoot,
		Mnemonic:        mnemonic,
		WorkerFilesHash: workerFilesHash,
		InputFileLayout: inputFileLayout,
		OutputFiles:     append([]string{}, outputFiles...),
		Speculating:     speculating,
	}
}

// Equal reports whether two keys describe safely interchangeable workers.
func (k Key) Equal(o Key) bool {
	if k.ExecRoot != o.ExecRoot ||
		k.Mnemonic != o.Mnemonic ||
		k.WorkerFilesHash != o.WorkerFilesHash ||
		k.Speculating != o.Speculating {
		return false
	}
	if !stringSliceEqual(k.StartupArgs, o.StartupArgs) {
		return false
	}
	if !stringSliceEqualAsSet(k.OutputFiles, o.OutputFiles) {
		return false
	}
	if !stringMapEqual(k.Env, o.Env) {
		return false
	}
	if !stringMapEqual(k.InputFileLayout, o.InputFileLayout) {
		return false
	}
	return true
}

// Hash returns a stable, process-local digest usable as a pool shard key
// (e.g. as a map[string]... key). Stability is only guaranteed within one
// process run, matching spec §3's invariant.
func (k Key) Hash() string {
	h := sha256.New()

	for _, a := range k.StartupArgs {
		h.Write([]byte("arg\x00" + a + "\x00"))
	}

	envKeys := make([]string, 0, len(k.Env))
	for key := range k.Env {
		envKeys = append(envKeys, key)
	}
	sort.Strings(envKeys)
	for _, key := range envKeys {
		h.Write([]byte("env\x00" + key + "\x00" + k.Env[key] + "\x00"))
	}

	h.Write([]byte("root\x00" + k.ExecRoot + "\x00"))
	h.Write([]byte("mnem\x00" + k.Mnemonic + "\x00"))
	h.Write([]byte("toolhash\x00" + k.WorkerFilesHash + "\x00"))

	layoutKeys := make([]string, 0, len(k.InputFileLayout))
	for key := range k.InputFileLayout {
		layoutKeys = append(layoutKeys, key)
	}
	sort.Strings(layoutKeys)
	for _, key := range layoutKeys {
		h.Write([]byte("in\x00" + key + "\x00" + k.InputFileLayout[key] + "\x00"))
	}

	outs := append([]string{}, k.OutputFiles...)
	sort.Strings(outs)
	for _, o := range outs {
		h.Write([]byte("out\x00" + o + "\x00"))
	}

	if k.Speculating {
		h.Write([]byte("spec\x001"))
	} else {
		h.Write([]byte("spec\x000"))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringSliceEqualAsSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string{}, a...)
	sb := append([]string{}, b...)
	sort.Strings(sa)
	sort.Strings(sb)
	return stringSliceEqual(sa, sb)
}

func stringMapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// String renders a key for diagnostics (log lines, error messages); not
// part of the equality contract.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Mnemonic)
	b.WriteString("@")
	b.WriteString(k.Hash()[:12])
	return b.String()
}
