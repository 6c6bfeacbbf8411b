// Package driver performs exactly one request/response exchange over a
// borrowed worker (spec §4.5), in the exact step order spec mandates:
// prepare, write+flush, record+parse, lock output files, check for EOF,
// finish.
package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/relaybuild/workerspawn/internal/domain"
	"github.com/relaybuild/workerspawn/internal/poolapi"
	"github.com/relaybuild/workerspawn/internal/wireproto"
	"github.com/relaybuild/workerspawn/internal/workerkey"
)

// recordingWindowBytes is the default diagnostic recording window (spec
// §4.5/§7). Overridable via Options for callers that configure it
// through internal/config.
const recordingWindowBytes = 4096

// Options tunes a single Exchange call.
type Options struct {
	RecordingWindowBytes int
}

// Exchange drives one WorkRequest/WorkResponse round trip against w.
//
// lockOutputFiles is invoked once the parse attempt has yielded either a
// response or EOF (not on a parse error), before the EOF check and before
// FinishExecution — the moment spec §4.5 calls out as when the response
// is committed to affect the build graph.
func Exchange(ctx context.Context, w poolapi.Worker, key workerkey.Key, req wireproto.WorkRequest, lockOutputFiles func() error, opts Options) (wireproto.WorkResponse, error) {
	window := opts.RecordingWindowBytes
	if window <= 0 {
		window = recordingWindowBytes
	}

	if err := w.PrepareExecution(ctx, key); err != nil {
		return wireproto.WorkResponse{}, domain.NewError(
			domain.KindPrepareFailed,
			"IOException while preparing the execution environment of a worker",
			err,
		).WithLogFile(w.LogFile(), 0)
	}

	streams := w.Streams()
	if err := wireproto.WriteDelimitedRequest(streams.Stdin, req); err != nil {
		return wireproto.WorkResponse{}, domain.NewError(
			domain.KindWriteFailed,
			"worker process quit or closed its stdin stream when we tried to send a WorkRequest",
			err,
		).WithLogFile(w.LogFile(), 0)
	}

	recorder := wireproto.NewRecordingReader(streams.Stdout)
	recorder.StartRecording(window)
	bufReader := bufio.NewReader(recorder)

	resp, err := wireproto.ReadDelimitedResponse(bufReader)
	if err != nil && err != io.EOF {
		recorder.ReadRemaining()
		return wireproto.WorkResponse{}, domain.NewError(
			domain.KindParseFailed,
			"worker process returned an unparseable WorkResponse",
			err,
		).WithLogText(recorder.RecordedDataAsString())
	}

	gotResponse := err != io.EOF

	if lockOutputFiles != nil {
		if lockErr := lockOutputFiles(); lockErr != nil {
			return wireproto.WorkResponse{}, fmt.Errorf("locking output files: %w", lockErr)
		}
	}

	if !gotResponse {
		return wireproto.WorkResponse{}, domain.NewError(
			domain.KindNoResponse,
			"worker process did not return a WorkResponse",
			nil,
		).WithLogFile(w.LogFile(), recordingWindowBytes)
	}

	if err := w.FinishExecution(ctx, key); err != nil {
		return wireproto.WorkResponse{}, domain.NewError(
			domain.KindFinishFailed,
			"IOException while finishing worker execution",
			err,
		)
	}

	return resp, nil
}
