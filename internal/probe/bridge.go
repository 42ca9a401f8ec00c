// Package probe drives one playback test over a CDP session: it loads the
// test page, bootstraps the in-page probe and feeds its console telemetry into
// a telemetry.Run.
package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

// DefaultPrefix marks console lines written by the in-page probe.
const DefaultPrefix = "[PROBE] "

// ErrMalformedProbeMessage is returned for a prefixed console line whose
// payload is not a probe message.
var ErrMalformedProbeMessage = errors.New("malformed probe message")

// ParseLine decodes one console line. Lines without the prefix are foreign
// console noise and report matched=false with no error.
func ParseLine(text, prefix string) (msg telemetry.Message, matched bool, err error) {
	payload, ok := strings.CutPrefix(text, prefix)
	if !ok {
		return telemetry.Message{}, false, nil
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return telemetry.Message{}, true, fmt.Errorf("%w: %v", ErrMalformedProbeMessage, err)
	}
	if msg.Event == "" {
		return telemetry.Message{}, true, fmt.Errorf("%w: missing event field", ErrMalformedProbeMessage)
	}
	return msg, true, nil
}
