// Package wire holds the push frame format shared by the server that
// publishes run progress and the dashboards that route it to panels.
package wire

import "encoding/json"

// RunIDHeader carries a client-issued run id on start requests.
const RunIDHeader = "X-Actionator-Run"

// Frame is the push message sent to dashboards. RunID is present only when
// the client issued one.
type Frame struct {
	ForFunc string `json:"for_func"`
	RunID   string `json:"run_id,omitempty"`
	Msg     string `json:"msg"`
}

// Tag returns the correlation tag subscribers are keyed by: the run id when
// the client issued one, otherwise the action name.
func (f Frame) Tag() string {
	if f.RunID != "" {
		return f.RunID
	}
	return f.ForFunc
}

// Encode serializes the frame as JSON.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses a JSON push frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}
