package client

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/verikit/sheerid-batch/pkg/verify"
)

// eventPrefix marks stream lines that carry an event payload. The batch
// endpoint answers with a server-sent-event style body: one JSON event per
// "data:" line, interleaved with blank keep-alive lines.
const eventPrefix = "data:"

// maxStreamLine bounds a single stream line. Events are small; the margin
// covers verbose service messages.
const maxStreamLine = 1024 * 1024

// decodeEventStream reads a batch response stream and calls emit for every
// well-formed event. Lines without the data prefix, empty payloads, payloads
// that are not valid JSON, and events without a verification ID are skipped;
// a single bad line never ends the stream. Only a read error does, and it is
// returned so the caller can mark still-unresolved IDs.
func decodeEventStream(r io.Reader, emit func(verify.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLine)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, eventPrefix) {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))
		if payload == "" {
			continue
		}

		var event verify.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		if event.VerificationID == "" {
			continue
		}

		emit(event)
	}

	return scanner.Err()
}
